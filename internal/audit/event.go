// Package audit is a write-only, never-read-back event sink for
// control-protocol actions and daemon state transitions. Shepherd never
// consults it on boot or at any other point in its own operation; it
// exists purely for an operator to query out-of-band, the same role
// the teacher's history package plays alongside its (here, absent)
// stateful store.
package audit

import (
	"context"
	"time"
)

// EventType names the kind of fact being recorded.
type EventType string

const (
	EventStateTransition EventType = "state_transition"
	EventControlRequest  EventType = "control_request"
	EventSpawn           EventType = "spawn"
	EventExit            EventType = "exit"
)

// Event is one append-only fact.
type Event struct {
	Type       EventType
	OccurredAt time.Time
	Daemon     string // empty for daemon-less events (e.g. `version`)
	Detail     string // free-form: "from=running to=cooling_down", command name, exit code, etc.
}

// Sink is a destination for Events. Implementations must be safe for
// concurrent use. The reactor calls Send from its own goroutine for
// every event type, without additional synchronization.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// NopSink discards every event. Used when no audit DSN is configured.
type NopSink struct{}

func (NopSink) Send(context.Context, Event) error { return nil }
func (NopSink) Close() error                      { return nil }
