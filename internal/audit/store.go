package audit

import (
	"context"
	"sync"
)

// Store persists the two capped logs. Append and its cap enforcement must
// be atomic with respect to concurrent appends.
type Store interface {
	Append(ctx context.Context, e Event) error
	AppendCritical(ctx context.Context, a CriticalAlert) error
	// Events returns the general log, oldest first.
	Events(ctx context.Context) ([]Event, error)
	// CriticalAlerts returns the critical log, oldest first.
	CriticalAlerts(ctx context.Context) ([]CriticalAlert, error)
}

// ring is a fixed-capacity FIFO; pushing onto a full ring drops the oldest item.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// MemoryStore keeps both logs in process memory under a single lock.
type MemoryStore struct {
	mu       sync.Mutex
	events   *ring[Event]
	critical *ring[CriticalAlert]
}

func NewMemoryStore(eventCap, criticalCap int) *MemoryStore {
	return &MemoryStore{
		events:   newRing[Event](eventCap),
		critical: newRing[CriticalAlert](criticalCap),
	}
}

func (s *MemoryStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.push(e)
	return nil
}

func (s *MemoryStore) AppendCritical(_ context.Context, a CriticalAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.critical.push(a)
	return nil
}

func (s *MemoryStore) Events(context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.items(), nil
}

func (s *MemoryStore) CriticalAlerts(context.Context) ([]CriticalAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.critical.items(), nil
}
