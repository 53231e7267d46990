package history

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the in-memory event buffer.
const DefaultMemoryCapacity = 256

// MemoryStore keeps the most recent events in a bounded in-memory buffer.
// It is the default backend when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	now      func() time.Time
}

// NewMemoryStore constructs a memory store retaining up to capacity events;
// capacity <= 0 selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity, now: time.Now}
}

// Append records the event, evicting the oldest entry once the buffer is
// full.
func (s *MemoryStore) Append(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= len(s.events)-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Close releases nothing; it exists to satisfy Store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }
