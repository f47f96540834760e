package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/schoolportal/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishBatchRelaysAndMarks(t *testing.T) {
	mem := NewMemory()
	for i := 0; i < 3; i++ {
		evt, err := NewAccountEvent("acct-1", InvoiceIssued, map[string]int{"amount": 499})
		if err != nil {
			t.Fatalf("NewAccountEvent: %v", err)
		}
		mem.Add(context.Background(), evt)
	}

	w := &fakeWriter{}
	sent := map[string]int{}
	p := NewPublisher(mem, w, testLogger(), PublisherConfig{
		BatchSize: 2,
		OnSent:    func(eventType string) { sent[eventType]++ },
	})

	n, err := p.PublishBatch(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, err = p.PublishBatch(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second batch: n=%d err=%v", n, err)
	}
	if len(mem.Pending()) != 0 {
		t.Fatalf("expected outbox drained, %d pending", len(mem.Pending()))
	}
	if len(w.msgs) != 3 || sent[InvoiceIssued] != 3 {
		t.Fatalf("expected 3 messages, got %d (sent=%v)", len(w.msgs), sent)
	}

	msg := w.msgs[0]
	if msg.Topic != InvoiceIssued || string(msg.Key) != "acct-1" {
		t.Fatalf("unexpected message routing: topic=%s key=%s", msg.Topic, msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID == "" || meta.EventType != InvoiceIssued {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestPublishBatchKeepsRecordsOnWriteFailure(t *testing.T) {
	mem := NewMemory()
	evt, _ := NewAccountEvent("acct-1", SeatsChanged, map[string]int{"seats": 1})
	mem.Add(context.Background(), evt)

	p := NewPublisher(mem, &fakeWriter{err: errors.New("broker down")}, testLogger(), PublisherConfig{})
	if _, err := p.PublishBatch(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if len(mem.Pending()) != 1 {
		t.Fatal("record should remain pending after failed write")
	}
}

func TestRunWithoutWriterReturns(t *testing.T) {
	p := NewPublisher(NewMemory(), nil, testLogger(), PublisherConfig{})
	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	<-done
}
