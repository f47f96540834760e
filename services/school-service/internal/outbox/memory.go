package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/schoolportal/libs/otel"
)

// DefaultMemoryCapacity bounds the in-process outbox when nothing drains it.
const DefaultMemoryCapacity = 1024

// Memory is an in-process outbox used with the in-memory account store.
// Once capacity records are pending the oldest are dropped.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	capacity int
	dropped  int64
	pending  []Record
}

func NewMemory() *Memory {
	return NewMemoryWithCapacity(DefaultMemoryCapacity)
}

func NewMemoryWithCapacity(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Add(ctx context.Context, evts ...Event) {
	tc := otelx.CaptureTraceContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range evts {
		m.nextID++
		m.pending = append(m.pending, Record{
			ID:            m.nextID,
			EventID:       uuid.NewString(),
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			EventType:     evt.EventType,
			Payload:       evt.Payload,
			Traceparent:   tc.Parent,
			Tracestate:    tc.State,
			CreatedAt:     time.Now().UTC(),
		})
	}
	if over := len(m.pending) - m.capacity; over > 0 {
		m.dropped += int64(over)
		m.pending = append(m.pending[:0:0], m.pending[over:]...)
	}
}

// Relay holds the lock while send runs so concurrent relays never hand out
// the same record twice. Sent records are forgotten.
func (m *Memory) Relay(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	if limit > 0 && n > limit {
		n = limit
	}
	if n == 0 {
		return 0, nil
	}
	batch := append([]Record(nil), m.pending[:n]...)
	if err := send(ctx, batch); err != nil {
		return 0, err
	}
	m.pending = append(m.pending[:0:0], m.pending[n:]...)
	return n, nil
}

// Pending returns a copy of the unpublished records.
func (m *Memory) Pending() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.pending...)
}

// Dropped reports how many records were evicted unpublished.
func (m *Memory) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
