package outbox

import (
	"context"
	"encoding/json"
	"time"
)

const (
	SubscriptionActivated = "school.subscription.activated.v1"
	InvoiceIssued         = "billing.invoice.issued.v1"
	SeatsChanged          = "school.seats.changed.v1"
	ProfileUpdated        = "school.profile.updated.v1"
)

// Event is the domain event envelope written to the outbox.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

func NewAccountEvent(accountID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "account",
		AggregateID:   accountID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// Record is a stored outbox row awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// Source hands out unpublished records. send is called with up to limit
// records; they are marked published only if send returns nil.
type Source interface {
	Relay(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error)
}
