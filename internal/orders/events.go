package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Push event types delivered by the kitchen channel.
const (
	EventNewOrder           = "NEW_ORDER"
	EventUpdateOrder        = "UPDATE_ORDER"
	EventOrderStatusUpdated = "ORDER_STATUS_UPDATED"
	EventSessionClosed      = "SESSION_CLOSED"
)

// Envelope is the push message. The websocket only fills Type and
// Payload; the Kafka bridge adds the remaining fields when it
// republishes an event.
type Envelope struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EventID    string          `json:"event_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
	Producer   string          `json:"producer,omitempty"`
}

type SessionClosedPayload struct {
	SessionID string `json:"sessionId"`
}

func KnownEvent(t string) bool {
	switch t {
	case EventNewOrder, EventUpdateOrder, EventOrderStatusUpdated, EventSessionClosed:
		return true
	}
	return false
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return env, errors.New("decode envelope: missing type")
	}
	return env, nil
}

// UnwrapPayload decodes the payload of an envelope into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if len(payload) == 0 {
		return t, errors.New("decode payload: empty")
	}
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
