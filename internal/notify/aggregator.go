// Package notify folds report and comment change events into a per-user,
// bounded, most-recent-first notification list.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
)

// MaxNotifications bounds the list; older entries fall off the end.
const MaxNotifications = 50

type Kind string

const (
	KindStatusChange Kind = "status_change"
	KindNewReport    Kind = "new_report"
	KindNewComment   Kind = "new_comment"
)

type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ReportID  string    `json:"report_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// Admit decides whether an event concerns the user at all.
type Admit func(ctx context.Context, ev realtime.Event) bool

type Observer interface {
	NotificationFolded(kind string)
}

type nopObserver struct{}

func (nopObserver) NotificationFolded(string) {}

type options struct {
	admit Admit
	obs   Observer
	now   func() time.Time
}

type Option func(*options)

func WithAdmit(a Admit) Option         { return func(o *options) { o.admit = a } }
func WithObserver(obs Observer) Option { return func(o *options) { o.obs = obs } }

// Filters are the subscriptions every aggregator opens.
func Filters() []realtime.Filter {
	return []realtime.Filter{
		{Table: models.TableReports, Type: realtime.Update},
		{Table: models.TableReports, Type: realtime.Insert},
		{Table: models.TableReportComments, Type: realtime.Insert},
	}
}

type Aggregator struct {
	userID    string
	opts      options
	mu        sync.RWMutex
	items     []Notification
	lmu       sync.Mutex
	listeners map[chan struct{}]struct{}
	sub       *realtime.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

// Start opens one subscription for userID and folds events until Close or
// until ctx ends.
func Start(ctx context.Context, bus realtime.Bus, userID string, opts ...Option) (*Aggregator, error) {
	o := options{obs: nopObserver{}, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	ctx, cancel := context.WithCancel(ctx)
	sub, err := bus.Subscribe(ctx, Filters()...)
	if err != nil {
		cancel()
		return nil, err
	}
	a := &Aggregator{
		userID:    userID,
		opts:      o,
		items:     []Notification{},
		listeners: map[chan struct{}]struct{}{},
		sub:       sub,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go a.loop(ctx)
	return a, nil
}

func (a *Aggregator) loop(ctx context.Context) {
	defer close(a.done)
	for ev := range a.sub.C {
		if a.opts.admit != nil && !a.opts.admit(ctx, ev) {
			continue
		}
		n, ok := a.fold(ev)
		if !ok {
			continue
		}
		a.push(n)
		a.opts.obs.NotificationFolded(string(n.Kind))
	}
}

func (a *Aggregator) fold(ev realtime.Event) (Notification, bool) {
	at := ev.CommitTimestamp
	if at.IsZero() {
		at = a.opts.now()
	}
	n := Notification{ID: uuid.NewString(), CreatedAt: at}
	switch {
	case ev.Table == models.TableReports && ev.Type == realtime.Update:
		oldStatus, newStatus := ev.Old.String("status"), ev.New.String("status")
		if oldStatus != "" && newStatus != "" && oldStatus == newStatus {
			return Notification{}, false
		}
		n.Kind = KindStatusChange
		n.ReportID = ev.New.String("id")
		n.Title = "Report status updated"
		n.Message = fmt.Sprintf("%q is now %s", ev.New.String("title"), newStatus)
	case ev.Table == models.TableReports && ev.Type == realtime.Insert:
		n.Kind = KindNewReport
		n.ReportID = ev.New.String("id")
		n.Title = "New vulnerability report"
		n.Message = fmt.Sprintf("%q (%s)", ev.New.String("title"), ev.New.String("severity"))
	case ev.Table == models.TableReportComments && ev.Type == realtime.Insert:
		if ev.New.String("author_id") == a.userID {
			return Notification{}, false
		}
		n.Kind = KindNewComment
		n.ReportID = ev.New.String("report_id")
		n.Title = "New comment"
		n.Message = "A new comment was added to a report"
	default:
		return Notification{}, false
	}
	return n, true
}

func (a *Aggregator) push(n Notification) {
	a.mu.Lock()
	a.items = append([]Notification{n}, a.items...)
	if len(a.items) > MaxNotifications {
		a.items = a.items[:MaxNotifications]
	}
	a.mu.Unlock()
	a.signal()
}

func (a *Aggregator) signal() {
	a.lmu.Lock()
	defer a.lmu.Unlock()
	for ch := range a.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// List returns a copy, most recent first.
func (a *Aggregator) List() []Notification {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Notification{}, a.items...)
}

func (a *Aggregator) UnreadCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, it := range a.items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (a *Aggregator) MarkAllRead() {
	a.mu.Lock()
	for i := range a.items {
		a.items[i].Read = true
	}
	a.mu.Unlock()
	a.signal()
}

func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	a.items = []Notification{}
	a.mu.Unlock()
	a.signal()
}

// Subscribe registers a listener that is signalled after every change to
// the list. Signals coalesce per listener. The returned func unregisters it.
func (a *Aggregator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	a.lmu.Lock()
	a.listeners[ch] = struct{}{}
	a.lmu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.lmu.Lock()
			delete(a.listeners, ch)
			a.lmu.Unlock()
		})
	}
}

// Done is closed once the aggregator stops folding events.
func (a *Aggregator) Done() <-chan struct{} { return a.done }

func (a *Aggregator) Close() {
	a.cancel()
	a.sub.Close()
	<-a.done
}
