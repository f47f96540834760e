package outbox

import (
	"context"
	"testing"
)

func TestMemoryEvictsOldestPastCapacity(t *testing.T) {
	mem := NewMemoryWithCapacity(4)
	for i := 0; i < 10; i++ {
		evt, err := NewAccountEvent("acct-1", SeatsChanged, map[string]int{"seats": i})
		if err != nil {
			t.Fatalf("NewAccountEvent: %v", err)
		}
		mem.Add(context.Background(), evt)
	}

	pending := mem.Pending()
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending, got %d", len(pending))
	}
	if pending[0].ID != 7 || pending[3].ID != 10 {
		t.Fatalf("expected newest records 7..10 retained, got %d..%d", pending[0].ID, pending[3].ID)
	}
	if got := mem.Dropped(); got != 6 {
		t.Fatalf("Dropped() = %d, want 6", got)
	}
}

func TestMemoryForgetsRelayedRecords(t *testing.T) {
	mem := NewMemory()
	evt, _ := NewAccountEvent("acct-1", InvoiceIssued, map[string]int{"amount": 499})
	mem.Add(context.Background(), evt, evt)

	n, err := mem.Relay(context.Background(), 0, func(context.Context, []Record) error { return nil })
	if err != nil || n != 2 {
		t.Fatalf("Relay() = %d, %v", n, err)
	}
	if len(mem.Pending()) != 0 || mem.Dropped() != 0 {
		t.Fatalf("expected empty outbox, pending=%d dropped=%d", len(mem.Pending()), mem.Dropped())
	}
}

func TestNewMemoryWithCapacityDefaults(t *testing.T) {
	if got := NewMemoryWithCapacity(0).capacity; got != DefaultMemoryCapacity {
		t.Fatalf("capacity = %d, want %d", got, DefaultMemoryCapacity)
	}
}
