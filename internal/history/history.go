// Package history records pipeline lifecycle transitions so operators can
// audit what ran, when it failed, and how often the supervisor intervened.
package history

import (
	"context"
	"time"
)

// EventKind classifies a lifecycle transition.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventStopped     EventKind = "stopped"
	EventRestarted   EventKind = "restarted"
	EventStartFailed EventKind = "start_failed"
	EventTerminal    EventKind = "terminal"
)

// Event is one recorded lifecycle transition. RunID ties together every
// event of one supervision lineage, restarts included.
type Event struct {
	RunID      string    `json:"runId"`
	Kind       EventKind `json:"kind"`
	Mode       string    `json:"mode"`
	RTMPURL    string    `json:"rtmpUrl,omitempty"`
	Peer       string    `json:"peer,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Store persists lifecycle events. Implementations must be safe for
// concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close(ctx context.Context) error
}

// NoopStore discards every event. It is used when run history is not
// configured so callers never need conditional logic.
type NoopStore struct{}

func (NoopStore) Append(ctx context.Context, event Event) error { return nil }

func (NoopStore) Recent(ctx context.Context, limit int) ([]Event, error) { return nil, nil }

func (NoopStore) Close(ctx context.Context) error { return nil }
