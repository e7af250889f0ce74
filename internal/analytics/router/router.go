package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/accountable/accountable-backend/internal/analytics/types"
	pkgbigquery "github.com/accountable/accountable-backend/pkg/bigquery"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	outboxpayloads "github.com/accountable/accountable-backend/pkg/outbox/payloads"
)

var (
	ErrUnsupportedEventType = errors.New("unsupported analytics event type")
	ErrInvalidPayload       = errors.New("invalid analytics payload")
)

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertPartnership(ctx context.Context, row pkgbigquery.PartnershipEventRow) error
	InsertEngagement(ctx context.Context, row pkgbigquery.EngagementEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches analytics envelopes to the configured handler per event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{}

	lifecycle := newPartnershipHandler(writer, logg)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPartnershipRequested,
		enums.EventPartnershipAccepted,
		enums.EventPartnershipDeclined,
		enums.EventPartnershipFinalized,
		enums.EventPartnershipTrialEnded,
		enums.EventPartnershipTerminated,
	} {
		entries[eventType] = handlerEntry{
			factory: func() any { return &outboxpayloads.PartnershipTransitionEvent{} },
			handler: lifecycle,
		}
	}

	invitations := newInvitationHandler(writer, logg)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventInvitationSent,
		enums.EventInvitationConverted,
	} {
		entries[eventType] = handlerEntry{
			factory: func() any { return &outboxpayloads.InvitationEvent{} },
			handler: invitations,
		}
	}

	engagement := newEngagementHandler(writer, logg)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventGoalCreated,
		enums.EventGoalCompleted,
		enums.EventGoalAbandoned,
	} {
		entries[eventType] = handlerEntry{
			factory: func() any { return &outboxpayloads.GoalEvent{} },
			handler: engagement,
		}
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventCheckInScheduled,
		enums.EventCheckInCompleted,
		enums.EventCheckInCancelled,
	} {
		entries[eventType] = handlerEntry{
			factory: func() any { return &outboxpayloads.CheckInEvent{} },
			handler: engagement,
		}
	}
	entries[enums.EventMessageSent] = handlerEntry{
		factory: func() any { return &outboxpayloads.MessageSentEvent{} },
		handler: engagement,
	}
	entries[enums.EventProgressRecorded] = handlerEntry{
		factory: func() any { return &outboxpayloads.ProgressRecordedEvent{} },
		handler: engagement,
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{
		handlers: entries,
		logg:     logg,
	}, nil
}

// Tracks reports whether eventType produces an analytics row.
func (r *Router) Tracks(eventType enums.OutboxEventType) bool {
	_, ok := r.handlers[eventType]
	return ok
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload := entry.factory()
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s", ErrInvalidPayload, envelope.EventType)
	}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrInvalidPayload, envelope.EventType, err)
	}

	return entry.handler.Handle(ctx, envelope, payload)
}
