package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted on alert lifecycle changes.
const (
	AlertCreated  = "alert.created"
	AlertApproved = "alert.approved"
	AlertRejected = "alert.rejected"
	AlertExecuted = "alert.executed"
	AlertRetrying = "alert.execution_failed"
)

// Event is the JSON envelope published on the bus.
type Event struct {
	Type    string          `json:"type"`
	AlertID string          `json:"alert_id"`
	Symbol  string          `json:"symbol"`
	Status  string          `json:"status"`
	At      time.Time       `json:"at"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Publisher fans lifecycle events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types lists recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Recorder)(nil)
)
