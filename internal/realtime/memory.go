package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBuffer = 128

type memorySub struct {
	filters []Filter
	ch      chan Event
}

// MemoryBus is the in-process bus used when no Redis URL is configured.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	buffer int
	lg     *zap.SugaredLogger
	obs    Observer
}

func NewMemoryBus(lg *zap.SugaredLogger, obs Observer) *MemoryBus {
	if obs == nil {
		obs = nopObserver{}
	}
	return &MemoryBus{subs: make(map[*memorySub]struct{}), buffer: defaultBuffer, lg: lg, obs: obs}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !matchAny(sub.filters, ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.obs.EventDropped(ev.Table)
			b.lg.Warnw("dropping change event for slow subscriber", "table", ev.Table, "type", ev.Type)
		}
	}
	b.obs.EventPublished(ev.Table)
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, filters ...Filter) (*Subscription, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	sub := &memorySub{filters: append([]Filter(nil), filters...), ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	s := &Subscription{C: sub.ch}
	s.stop = func() {
		close(done)
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()
	return s, nil
}

// Subscribers reports the number of open subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
