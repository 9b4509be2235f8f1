package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/segmentio/kafka-go"
)

const HeaderEventType = "event_type"

// EnvelopeMessage turns a push event into a record keyed by the session
// it concerns, so every event of one session lands on one partition in
// order. Payloads without a session fall back to the order id.
func EnvelopeMessage(env orders.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return kafka.Message{
		Key:     orders.PartitionKey(entityID(env)),
		Value:   b,
		Time:    env.OccurredAt,
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(env.Type)}},
	}, nil
}

func DecodeMessage(m kafka.Message) (orders.Envelope, error) {
	env, err := orders.DecodeEnvelope(m.Value)
	if err != nil {
		return env, fmt.Errorf("offset %d: %w", m.Offset, err)
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = m.Time
	}
	return env, nil
}

// entityID picks the session id, else the order id. Unknown shapes yield "".
func entityID(env orders.Envelope) string {
	var p struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return ""
	}
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.ID
}

func stamp(env orders.Envelope, producer string, id string, now time.Time) orders.Envelope {
	if env.EventID == "" {
		env.EventID = id
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now.UTC()
	}
	if env.Producer == "" {
		env.Producer = producer
	}
	return env
}
