// Package realtime carries change events for persisted records from the
// store to long-lived subscribers (role watchers, notification aggregators).
//
// Delivery is at-least-eventual with no replay: a subscriber that is not
// connected when an event is published never sees it, and a slow subscriber
// may drop events. Consumers fold events idempotently.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type EventType string

const (
	Insert   EventType = "INSERT"
	Update   EventType = "UPDATE"
	Delete   EventType = "DELETE"
	AnyEvent EventType = "*"
)

// Record is a row keyed by its JSON column names.
type Record map[string]any

// NewRecord converts a model into a Record through its JSON encoding.
func NewRecord(v any) Record {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil
	}
	return r
}

// String returns the column as a string, or "" when absent or null.
func (r Record) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r Record) Bool(column string) bool {
	b, _ := r[column].(bool)
	return b
}

type Event struct {
	Table           string    `json:"table"`
	Type            EventType `json:"type"`
	New             Record    `json:"new,omitempty"`
	Old             Record    `json:"old,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// Row is the record the event is about: New for inserts and updates, Old for deletes.
func (e Event) Row() Record {
	if e.Type == Delete {
		return e.Old
	}
	return e.New
}

// Filter selects events by table, optionally by type and by an equality
// predicate on one column (user_id=eq.<id>).
type Filter struct {
	Table  string
	Type   EventType
	Column string
	Value  string
}

func (f Filter) Matches(ev Event) bool {
	if f.Table != ev.Table {
		return false
	}
	if f.Type != "" && f.Type != AnyEvent && f.Type != ev.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	return ev.Row().String(f.Column) == f.Value
}

func matchAny(filters []Filter, ev Event) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

var ErrNoFilters = errors.New("realtime: subscribe needs at least one filter with a table")

func validateFilters(filters []Filter) error {
	if len(filters) == 0 {
		return ErrNoFilters
	}
	for _, f := range filters {
		if f.Table == "" {
			return ErrNoFilters
		}
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Bus interface {
	Publisher
	Subscribe(ctx context.Context, filters ...Filter) (*Subscription, error)
}

// Observer receives delivery counters; metrics.Prometheus implements it.
type Observer interface {
	EventPublished(table string)
	EventDropped(table string)
}

type nopObserver struct{}

func (nopObserver) EventPublished(string) {}
func (nopObserver) EventDropped(string)   {}

// Subscription delivers matching events on C until Close is called or the
// subscribing context ends. C is closed afterwards.
type Subscription struct {
	C    <-chan Event
	once sync.Once
	stop func()
}

func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.stop)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
