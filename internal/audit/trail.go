// Package audit keeps the bounded security audit trail shared by the guard,
// the simulation engine and the ledger, and forwards entries to compliance
// sinks.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the in-memory trail.
const DefaultCapacity = 1000

// RiskLevel grades an audit event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Levels lists risk levels from least to most severe.
var Levels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank orders risk levels; unknown levels rank as low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// Event is a write-once audit entry.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"event"`
	UserID    string         `json:"userId,omitempty"`
	RiskLevel RiskLevel      `json:"riskLevel"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives a copy of every appended event. Forward must not block the
// caller for long; slow sinks buffer or drop internally.
type Sink interface {
	Forward(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Forward calls f.
func (f SinkFunc) Forward(e Event) { f(e) }

// Trail is a fixed-size ring buffer of audit events. The oldest entry is
// evicted once capacity is reached.
type Trail struct {
	mu    sync.RWMutex
	buf   []Event
	head  int // index of the oldest entry
	size  int
	total uint64
	sinks []Sink
	now   func() time.Time
}

// Option customises a Trail.
type Option func(*Trail)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithSinks attaches sinks at construction.
func WithSinks(sinks ...Sink) Option {
	return func(t *Trail) { t.sinks = append(t.sinks, sinks...) }
}

// NewTrail creates a trail; a non-positive capacity falls back to DefaultCapacity.
func NewTrail(capacity int, opts ...Option) *Trail {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Trail{buf: make([]Event, capacity), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddSink attaches a sink for subsequent events.
func (t *Trail) AddSink(s Sink) {
	t.mu.Lock()
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

// Append records a new event and returns it.
func (t *Trail) Append(name, userID string, risk RiskLevel, details map[string]any) Event {
	e := Event{
		ID:        uuid.NewString(),
		Timestamp: t.now().UTC(),
		Name:      name,
		UserID:    userID,
		RiskLevel: risk,
		Details:   details,
	}
	t.Record(e)
	return e
}

// Record stores a pre-built event. Missing id and timestamp are filled in.
func (t *Trail) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLow
	}

	t.mu.Lock()
	capacity := len(t.buf)
	if t.size < capacity {
		t.buf[(t.head+t.size)%capacity] = e
		t.size++
	} else {
		t.buf[t.head] = e
		t.head = (t.head + 1) % capacity
	}
	t.total++
	sinks := t.sinks
	t.mu.Unlock()

	for _, s := range sinks {
		s.Forward(e)
	}
}

// Events returns a copy of the trail, oldest first.
func (t *Trail) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, t.size)
	for i := 0; i < t.size; i++ {
		out[i] = t.buf[(t.head+i)%len(t.buf)]
	}
	return out
}

// Since returns retained events at or after from, oldest first.
func (t *Trail) Since(from time.Time) []Event {
	all := t.Events()
	for i, e := range all {
		if !e.Timestamp.Before(from) {
			return all[i:]
		}
	}
	return nil
}

// CountsByRisk tallies retained events per risk level. Every level is present.
func (t *Trail) CountsByRisk() map[RiskLevel]int {
	counts := make(map[RiskLevel]int, len(Levels))
	for _, l := range Levels {
		counts[l] = 0
	}
	t.mu.RLock()
	for i := 0; i < t.size; i++ {
		counts[t.buf[(t.head+i)%len(t.buf)].RiskLevel]++
	}
	t.mu.RUnlock()
	return counts
}

// Len is the number of retained events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Capacity is the ring size.
func (t *Trail) Capacity() int {
	return len(t.buf)
}

// Total counts every event ever appended, including evicted ones.
func (t *Trail) Total() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Now exposes the trail clock so callers window against the same time source.
func (t *Trail) Now() time.Time {
	return t.now()
}

// Classified is implemented by typed errors that carry an error kind and a
// risk grade, so callers can audit and map them without string matching.
type Classified interface {
	error
	Kind() string
	Risk() RiskLevel
}
