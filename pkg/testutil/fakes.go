package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
)

// FixedClock is a settable clock for tests
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock stopped at now
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the stopped time
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock
func (c *FixedClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RecordingSink captures audit events emitted synchronously. It implements
// both audit.Emitter and audit.Sink.
type RecordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	Err    error
}

// NewRecordingSink creates an empty sink
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Emit records the event
func (s *RecordingSink) Emit(_ context.Context, event audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

// Record records the event and returns Err
func (s *RecordingSink) Record(ctx context.Context, event audit.Event) error {
	s.Emit(ctx, event)
	return s.Err
}

// Events returns a copy of recorded events
func (s *RecordingSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns recorded events of one type
func (s *RecordingSink) OfType(t audit.EventType) []audit.Event {
	var out []audit.Event
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
