package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry builds the registry. Every domain event is published on the domain topic;
// consumers filter by the event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.DomainTopic)
	if topic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}

	partnership := func() interface{} { return &payloads.PartnershipTransitionEvent{} }
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPartnershipRequested,
		enums.EventPartnershipAccepted,
		enums.EventPartnershipDeclined,
		enums.EventPartnershipFinalized,
		enums.EventPartnershipTrialEnded,
		enums.EventPartnershipTerminated,
		enums.EventPartnershipTrialEndingSoon,
	} {
		reg.register(EventDescriptor{EventType: eventType, AggregateType: enums.AggregatePartnership, Topic: topic, PayloadFactory: partnership})
	}

	invitation := func() interface{} { return &payloads.InvitationEvent{} }
	for _, eventType := range []enums.OutboxEventType{
		enums.EventInvitationSent,
		enums.EventInvitationConverted,
		enums.EventInvitationExpired,
	} {
		reg.register(EventDescriptor{EventType: eventType, AggregateType: enums.AggregateInvitation, Topic: topic, PayloadFactory: invitation})
	}

	goal := func() interface{} { return &payloads.GoalEvent{} }
	for _, eventType := range []enums.OutboxEventType{
		enums.EventGoalCreated,
		enums.EventGoalCompleted,
		enums.EventGoalAbandoned,
	} {
		reg.register(EventDescriptor{EventType: eventType, AggregateType: enums.AggregateGoal, Topic: topic, PayloadFactory: goal})
	}

	checkIn := func() interface{} { return &payloads.CheckInEvent{} }
	for _, eventType := range []enums.OutboxEventType{
		enums.EventCheckInScheduled,
		enums.EventCheckInCompleted,
		enums.EventCheckInCancelled,
		enums.EventCheckInReminder,
	} {
		reg.register(EventDescriptor{EventType: eventType, AggregateType: enums.AggregateCheckIn, Topic: topic, PayloadFactory: checkIn})
	}

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventMessageSent,
			AggregateType:  enums.AggregateMessage,
			PayloadFactory: func() interface{} { return &payloads.MessageSentEvent{} },
		},
		{
			EventType:      enums.EventProgressRecorded,
			AggregateType:  enums.AggregateProgressUpdate,
			PayloadFactory: func() interface{} { return &payloads.ProgressRecordedEvent{} },
		},
		{
			EventType:      enums.EventUserRegistered,
			AggregateType:  enums.AggregateIdentity,
			PayloadFactory: func() interface{} { return &payloads.UserRegisteredEvent{} },
		},
		{
			EventType:      enums.EventEmailConfirmationRequested,
			AggregateType:  enums.AggregateIdentity,
			PayloadFactory: func() interface{} { return &payloads.EmailConfirmationRequestedEvent{} },
		},
		{
			EventType:      enums.EventPasswordResetRequested,
			AggregateType:  enums.AggregateIdentity,
			PayloadFactory: func() interface{} { return &payloads.PasswordResetRequestedEvent{} },
		},
	} {
		desc.Topic = topic
		reg.register(desc)
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Descriptor returns the registered descriptor for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, payload, err := r.decode(desc, event.Payload)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

// DecodeMessage decodes a published envelope on the consumer side.
func (r *EventRegistry) DecodeMessage(eventType enums.OutboxEventType, data []byte) (*ResolvedEvent, error) {
	desc, ok := r.entries[eventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", eventType))
	}
	envelope, payload, err := r.decode(desc, data)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) decode(desc EventDescriptor, raw []byte) (outbox.PayloadEnvelope, interface{}, error) {
	envelope, err := outbox.ParseEnvelope(raw)
	if errors.Is(err, outbox.ErrEmptyData) {
		return envelope, nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", desc.EventType))
	}
	if err != nil {
		return envelope, nil, NewNonRetryableError(err)
	}

	payload := desc.PayloadFactory()
	if err := envelope.DecodeData(payload); err != nil {
		return envelope, nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", desc.EventType, err))
	}
	return envelope, payload, nil
}
