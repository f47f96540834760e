package kafkax

import (
	"github.com/segmentio/kafka-go"
)

const (
	headerEventID       = "event_id"
	headerEventType     = "event_type"
	headerAggregateType = "aggregate_type"
)

// EventMeta is the envelope metadata every relayed event carries as
// message headers. Consumers dedupe on EventID.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
}

// Headers renders m as Kafka headers, skipping empty fields.
func (m EventMeta) Headers() []kafka.Header {
	out := make([]kafka.Header, 0, 3)
	for _, kv := range [...][2]string{
		{headerEventID, m.EventID},
		{headerEventType, m.EventType},
		{headerAggregateType, m.AggregateType},
	} {
		if kv[1] != "" {
			out = append(out, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
		}
	}
	return out
}

// ExtractEventMeta reads the envelope back from msg. A message without an
// event_id header falls back to its key; without event_type, to its topic.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, headerEventID),
		EventType:     HeaderValue(msg.Headers, headerEventType),
		AggregateType: HeaderValue(msg.Headers, headerAggregateType),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// HeaderValue returns the last value set for key.
func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}
