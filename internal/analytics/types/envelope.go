package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox"
)

// ErrMalformedEnvelope marks messages that can never be decoded, however often
// they are redelivered.
var ErrMalformedEnvelope = errors.New("malformed analytics envelope")

// Envelope is one domain event as the analytics pipeline sees it: routing
// metadata from the message attributes plus the stored outbox payload.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	ActorID       string                    `json:"actor_id,omitempty"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// ID is the event id as a UUID, the key consumers dedupe on.
func (e Envelope) ID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.EventID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: event id %q", ErrMalformedEnvelope, e.EventID)
	}
	return id, nil
}

// DecodeEnvelope reads a published outbox message. The payload's own event id
// and timestamp win over the attributes, which only fill gaps.
func DecodeEnvelope(data []byte, attrs map[string]string) (Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &stored); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	attr := func(name string) string { return strings.TrimSpace(attrs[name]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	env := Envelope{
		EventID:       firstNonEmpty(strings.TrimSpace(stored.EventID), attr("event_id")),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   attr("aggregate_id"),
		OccurredAt:    stored.OccurredAt,
		Payload:       stored.Data,
	}
	if env.AggregateID == "" {
		return Envelope{}, fmt.Errorf("%w: aggregate_id missing", ErrMalformedEnvelope)
	}
	if env.EventID == "" {
		return Envelope{}, fmt.Errorf("%w: event_id missing", ErrMalformedEnvelope)
	}
	if env.OccurredAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			env.OccurredAt = created
		}
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if stored.Actor != nil {
		env.ActorID = stored.Actor.UserID.String()
	}
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
