package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gzhole/eduguard/internal/threat"
)

// Store persists events. Implementations must serialize Append so records
// never interleave, and must never update or delete existing records.
type Store interface {
	Append(ctx context.Context, events ...Event) error
	Query(ctx context.Context, f Filter) ([]Event, error)
	Close() error
}

// Filter selects events. Zero fields match everything. Results are ordered
// by Seq; a positive Limit keeps only the last Limit matches.
type Filter struct {
	UserID      string
	From        time.Time
	To          time.Time
	MinSeverity threat.Level
	Type        EventType
	Limit       int
}

// Match reports whether e passes the filter, ignoring Limit.
func (f Filter) Match(e Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if e.Severity < f.MinSeverity {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// Apply filters, sorts by Seq and applies Limit.
func (f Filter) Apply(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	// Fail, when set, is returned by Append instead of storing.
	Fail error
	// Delay stalls Append, honoring ctx.
	Delay time.Duration
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(ctx context.Context, events ...Event) error {
	m.mu.Lock()
	fail, delay := m.Fail, m.Delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return f.Apply(m.events), nil
}

func (m *MemoryStore) Close() error { return nil }

// SetFailure changes the Append failure and delay at runtime.
func (m *MemoryStore) SetFailure(err error, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = err
	m.Delay = delay
}

// Len returns the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
