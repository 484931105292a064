package roles

import (
	"context"
	"sync"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
)

// Watcher tracks one user's role through user_roles change events.
type Watcher struct {
	mu      sync.RWMutex
	state   State
	updates chan struct{}
	sub     *realtime.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch subscribes before the initial fetch so no change is missed between
// the two.
func (r *Resolver) Watch(ctx context.Context, userID string) (*Watcher, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := r.bus.Subscribe(ctx, realtime.Filter{
		Table: models.TableUserRoles, Type: realtime.AnyEvent, Column: "user_id", Value: userID,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	w := &Watcher{
		state:   Loading(),
		updates: make(chan struct{}, 1),
		sub:     sub,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w.set(r.Resolve(ctx, userID))
	go w.loop(r)
	return w, nil
}

func (w *Watcher) loop(r *Resolver) {
	defer close(w.done)
	for ev := range w.sub.C {
		r.Invalidate(ev.Row().String("user_id"))
		if ev.Type == realtime.Delete {
			w.set(StateOf(models.RoleNone))
			continue
		}
		role, _ := models.ParseRole(ev.New.String("role"))
		w.set(StateOf(role))
	}
}

func (w *Watcher) set(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	select {
	case w.updates <- struct{}{}:
	default:
	}
}

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Updates signals after every state change. Signals coalesce.
func (w *Watcher) Updates() <-chan struct{} { return w.updates }

// Close releases the subscription and waits for the event loop to exit.
func (w *Watcher) Close() {
	w.cancel()
	w.sub.Close()
	<-w.done
}
