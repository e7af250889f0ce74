package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryCoversEveryEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, eventType := range enums.OutboxEventTypes() {
		desc, ok := reg.Descriptor(eventType)
		if !ok {
			t.Fatalf("event type %s not registered", eventType)
		}
		if desc.Topic != "domain-topic" {
			t.Fatalf("unexpected topic %q for %s", desc.Topic, eventType)
		}
	}
}

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	partnershipID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.PartnershipTransitionEvent{
		PartnershipID: partnershipID,
		RequesterID:   uuid.New(),
		PartnerID:     uuid.New(),
		FromStatus:    enums.PartnershipStatusPending,
		ToStatus:      enums.PartnershipStatusTrial,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventPartnershipAccepted,
		AggregateType: enums.AggregatePartnership,
		AggregateID:   partnershipID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, ok := resolved.Payload.(*payloads.PartnershipTransitionEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.PartnershipID != partnershipID || payload.ToStatus != enums.PartnershipStatusTrial {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing metadata: %+v", resolved.Envelope)
	}
}

func TestEventRegistryDecodeMessage(t *testing.T) {
	reg := newTestEventRegistry(t)

	data := mustEnvelope(t, mustMarshal(t, payloads.MessageSentEvent{MessageID: uuid.New(), Preview: "hi"}))
	resolved, err := reg.DecodeMessage(enums.EventMessageSent, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Payload.(*payloads.MessageSentEvent).Preview != "hi" {
		t.Fatalf("unexpected payload %+v", resolved.Payload)
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("bogus"),
			AggregateType: enums.AggregatePartnership,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventGoalCreated,
			AggregateType: enums.AggregatePartnership,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventGoalCreated,
			AggregateType: enums.AggregateGoal,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventGoalCreated,
			AggregateType: enums.AggregateGoal,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"corrupt envelope": {
			EventType:     enums.EventGoalCreated,
			AggregateType: enums.AggregateGoal,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{not json`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatal("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected missing topic error")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "domain-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
