// Package events carries the structured edit event stream: every applied
// edit batch produces one event, delivered to a Sink. The default sink is
// in-process; a Kafka publisher is available for consumers outside the
// process.
package events

import (
	"context"
	"sync"
	"time"
)

// EditEvent describes one applied edit batch on a layer.
type EditEvent struct {
	LayerURL  string    `json:"layer_url"`
	Adds      int       `json:"adds"`
	Updates   int       `json:"updates"`
	Deletes   int       `json:"deletes"`
	Failures  int       `json:"failures"`
	ObjectIDs []int64   `json:"object_ids,omitempty"`
	TS        time.Time `json:"ts"`
}

// Sink receives edit events. Publish must be safe for concurrent use and
// must not block edits for long; slow transports should buffer.
type Sink interface {
	Publish(ctx context.Context, ev EditEvent) error
}

// NopSink drops events.
type NopSink struct{}

func (NopSink) Publish(context.Context, EditEvent) error { return nil }

// MemorySink retains events in order, for in-process observers and tests.
type MemorySink struct {
	mu     sync.Mutex
	events []EditEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, ev EditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []EditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EditEvent, len(s.events))
	copy(out, s.events)
	return out
}
