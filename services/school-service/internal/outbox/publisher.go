package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/schoolportal/libs/kafkax"
	otelx "github.com/md-rashed-zaman/schoolportal/libs/otel"
	"github.com/segmentio/kafka-go"
)

type Publisher struct {
	source    Source
	writer    kafkax.MessageWriter
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
	onSent    func(eventType string)
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
	// OnSent is called once per published record.
	OnSent func(eventType string)
}

// NewPublisher relays records from source to writer. A nil writer disables
// publishing; records then stay in the outbox.
func NewPublisher(source Source, writer kafkax.MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		onSent:    cfg.OnSent,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	defer p.writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch relays at most one batch and returns how many records went out.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	return p.source.Relay(ctx, p.batchSize, func(ctx context.Context, records []Record) error {
		msgs := make([]kafka.Message, 0, len(records))
		for _, r := range records {
			meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType, AggregateType: r.AggregateType}
			tc := otelx.TraceContext{Parent: r.Traceparent, State: r.Tracestate}
			msg := kafka.Message{
				Topic:   r.EventType,
				Key:     []byte(r.AggregateID),
				Value:   r.Payload,
				Headers: kafkax.InjectTraceHeaders(tc.Context(ctx), meta.Headers()),
			}
			msgs = append(msgs, msg)
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		if p.onSent != nil {
			for _, r := range records {
				p.onSent(r.EventType)
			}
		}
		return nil
	})
}
