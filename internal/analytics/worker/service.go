package worker

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/analytics/router"
	"github.com/accountable/accountable-backend/internal/analytics/types"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
)

const consumerName = "analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	return fn(ctx, envelope)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// deduper runs fn at most once per consumer and event, releasing the mark when
// fn fails. idempotency.Manager satisfies it.
type deduper interface {
	Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

type Params struct {
	Subscription receiver
	Handler      Handler
	Dedupe       deduper
	Metrics      *metrics.ConsumerMetrics
	Logger       *logger.Logger
}

// Service feeds the analytics subscription into the warehouse writers.
// Malformed or untracked events are acked and dropped; anything else that
// fails is nacked for redelivery.
type Service struct {
	subscription receiver
	handler      Handler
	dedupe       deduper
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case p.Handler == nil:
		return nil, errors.New("analytics handler is required")
	case p.Dedupe == nil:
		return nil, errors.New("idempotency manager is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: p.Subscription,
		handler:      p.Handler,
		dedupe:       p.Dedupe,
		metrics:      p.Metrics,
		logg:         p.Logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if s.consume(ctx, msg.ID, msg.Data, msg.Attributes) == metrics.OutcomeRetried {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// consume handles one delivery and returns its outcome.
func (s *Service) consume(ctx context.Context, messageID string, data []byte, attrs map[string]string) string {
	start := time.Now()
	outcome := s.handle(s.logg.WithField(ctx, "message_id", messageID), data, attrs)
	s.metrics.Observe(consumerName, outcome, time.Since(start))
	return outcome
}

func (s *Service) handle(ctx context.Context, data []byte, attrs map[string]string) string {
	envelope, err := types.DecodeEnvelope(data, attrs)
	if err != nil {
		s.logg.Warn(ctx, "analytics.envelope_dropped: "+err.Error())
		return metrics.OutcomeDropped
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
	})
	eventID, err := envelope.ID()
	if err != nil {
		s.logg.Warn(ctx, "analytics.envelope_dropped: "+err.Error())
		return metrics.OutcomeDropped
	}

	outcome := metrics.OutcomeHandled
	ran, err := s.dedupe.Process(ctx, consumerName, eventID, func(ctx context.Context) error {
		err := s.handler.Handle(ctx, envelope)
		switch {
		case errors.Is(err, router.ErrUnsupportedEventType):
			s.logg.Debug(ctx, "analytics.event_untracked")
			outcome = metrics.OutcomeDropped
			return nil
		case errors.Is(err, router.ErrInvalidPayload):
			s.logg.Warn(ctx, "analytics.payload_invalid: "+err.Error())
			outcome = metrics.OutcomeDropped
			return nil
		}
		return err
	})
	switch {
	case err != nil:
		s.logg.Error(ctx, "analytics.event_failed", err)
		return metrics.OutcomeRetried
	case !ran:
		s.logg.Debug(ctx, "analytics.event_duplicate")
		return metrics.OutcomeDuplicate
	}
	if outcome == metrics.OutcomeHandled {
		s.logg.Info(ctx, "analytics.event_recorded")
	}
	return outcome
}
