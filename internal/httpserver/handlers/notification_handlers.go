package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/guard"
	"pentestdesk/internal/notify"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/session"
)

type notificationsResp struct {
	Items       []notify.Notification `json:"items"`
	UnreadCount int                   `json:"unread_count"`
}

func aggregatorFor(hub *notify.Hub, w http.ResponseWriter, r *http.Request, lg *zap.SugaredLogger) (*notify.Aggregator, bool) {
	a, err := hub.For(auth.Subject(r.Context()))
	if err != nil {
		respondError(w, r, lg, apperr.Upstream(err))
		return nil, false
	}
	return a, true
}

func ListNotifications(hub *notify.Hub, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := aggregatorFor(hub, w, r, lg)
		if !ok {
			return
		}
		respondJSON(w, notificationsResp{Items: a.List(), UnreadCount: a.UnreadCount()})
	}
}

func MarkNotificationsRead(hub *notify.Hub, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := aggregatorFor(hub, w, r, lg)
		if !ok {
			return
		}
		a.MarkAllRead()
		respondJSON(w, map[string]any{"unread_count": 0})
	}
}

func ClearNotifications(hub *notify.Hub, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := aggregatorFor(hub, w, r, lg)
		if !ok {
			return
		}
		a.ClearAll()
		respondJSON(w, map[string]any{"deleted": true})
	}
}

// StreamHeartbeat is how often an idle stream re-checks its session and
// re-sends the list.
var StreamHeartbeat = 20 * time.Second

// NotificationStream pushes the notification list as server-sent events.
// The stream ends when the session is revoked or the caller's role no longer
// passes the guard, so a demoted user stops receiving updates immediately.
func NotificationStream(hub *notify.Hub, p *auth.Provider, rs *roles.Resolver, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, r, lg, apperr.Upstream(fmt.Errorf("streaming unsupported")))
			return
		}
		ctx := r.Context()
		token := auth.BearerToken(r)

		sc := session.New(p, rs)
		if err := sc.Start(ctx, token); err != nil {
			respondError(w, r, lg, err)
			return
		}
		defer sc.Close()

		a, ok := aggregatorFor(hub, w, r, lg)
		if !ok {
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		send := func(event string, v any) bool {
			b, err := json.Marshal(v)
			if err != nil {
				lg.Errorw("encode stream event", "err", err)
				return false
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}
		snapshot := func() bool {
			return send("notifications", notificationsResp{Items: a.List(), UnreadCount: a.UnreadCount()})
		}
		if !snapshot() {
			return
		}

		updates, unsubscribe := a.Subscribe()
		defer unsubscribe()

		opts := guard.NewOptions()
		tick := time.NewTicker(StreamHeartbeat)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.Done():
				send("closed", map[string]string{"reason": "released"})
				return
			case <-updates:
				if !snapshot() {
					return
				}
			case <-sc.RoleUpdates():
				if d := guard.Evaluate(sc.Snapshot(), opts); d != guard.Authorized && d != guard.Loading {
					send("closed", map[string]string{"reason": d.String()})
					return
				}
			case <-tick.C:
				if _, err := p.CurrentIdentity(ctx, token); err != nil {
					send("closed", map[string]string{"reason": "signed out"})
					return
				}
				if !snapshot() {
					return
				}
			}
		}
	}
}
