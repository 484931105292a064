package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pentestdesk/internal/realtime"
)

// AdmitFactory builds the visibility predicate for one user.
type AdmitFactory func(userID string) Admit

// Hub keeps one aggregator per signed-in user.
type Hub struct {
	ctx      context.Context
	bus      realtime.Bus
	admitFor AdmitFactory
	obs      Observer
	lg       *zap.SugaredLogger

	mu   sync.Mutex
	aggs map[string]*Aggregator
}

// NewHub ties aggregator lifetimes to ctx rather than to any one request.
func NewHub(ctx context.Context, bus realtime.Bus, admitFor AdmitFactory, obs Observer, lg *zap.SugaredLogger) *Hub {
	return &Hub{ctx: ctx, bus: bus, admitFor: admitFor, obs: obs, lg: lg, aggs: map[string]*Aggregator{}}
}

// For returns the user's aggregator, starting it on first use.
func (h *Hub) For(userID string) (*Aggregator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.aggs[userID]; ok {
		return a, nil
	}
	var opts []Option
	if h.admitFor != nil {
		opts = append(opts, WithAdmit(h.admitFor(userID)))
	}
	if h.obs != nil {
		opts = append(opts, WithObserver(h.obs))
	}
	a, err := Start(h.ctx, h.bus, userID, opts...)
	if err != nil {
		return nil, err
	}
	h.aggs[userID] = a
	h.lg.Debugw("notification aggregator started", "user_id", userID)
	return a, nil
}

// Release stops the user's aggregator on sign-out. Open streams observe
// Done and end.
func (h *Hub) Release(userID string) {
	h.mu.Lock()
	a, ok := h.aggs[userID]
	delete(h.aggs, userID)
	h.mu.Unlock()
	if ok {
		a.Close()
		h.lg.Debugw("notification aggregator released", "user_id", userID)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.aggs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	aggs := h.aggs
	h.aggs = map[string]*Aggregator{}
	h.mu.Unlock()
	for _, a := range aggs {
		a.Close()
	}
}
