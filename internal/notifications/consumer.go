package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

const partnerNotificationConsumer = "partner-notifications"

type batchCreator interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) error
}

// deduper is satisfied by idempotency.Manager.
type deduper interface {
	Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

type changePublisher interface {
	Publish(ctx context.Context, change realtime.Change, recipients ...uuid.UUID) error
}

// ConsumerParams wires the notification consumer. Realtime and Metrics are
// optional.
type ConsumerParams struct {
	Repo         batchCreator
	Registry     *registry.EventRegistry
	Subscription *pubsub.Subscriber
	Idempotency  deduper
	Realtime     changePublisher
	Metrics      *metrics.ConsumerMetrics
	Logger       *logger.Logger
}

// Consumer turns domain events into the notification rows they imply.
type Consumer struct {
	repo         batchCreator
	registry     *registry.EventRegistry
	subscription *pubsub.Subscriber
	dedupe       deduper
	realtime     changePublisher
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("notifications repository required")
	case params.Registry == nil:
		return nil, errors.New("event registry required")
	case params.Idempotency == nil:
		return nil, errors.New("idempotency manager required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		registry:     params.Registry,
		subscription: params.Subscription,
		dedupe:       params.Idempotency,
		realtime:     params.Realtime,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return errors.New("notification subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ctx = c.logg.WithField(ctx, "message_id", msg.ID)
		if c.consume(ctx, enums.OutboxEventType(msg.Attributes["event_type"]), msg.Data) == metrics.OutcomeRetried {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Handle processes one published envelope. It errors only when the delivery
// should be retried.
func (c *Consumer) Handle(ctx context.Context, eventType enums.OutboxEventType, data []byte) error {
	if c.consume(ctx, eventType, data) == metrics.OutcomeRetried {
		return fmt.Errorf("notification handling for %s must be retried", eventType)
	}
	return nil
}

func (c *Consumer) consume(ctx context.Context, eventType enums.OutboxEventType, data []byte) string {
	start := time.Now()
	outcome := c.handle(c.logg.WithField(ctx, "event_type", string(eventType)), eventType, data)
	c.metrics.Observe(partnerNotificationConsumer, outcome, time.Since(start))
	return outcome
}

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, data []byte) string {
	resolved, err := c.registry.DecodeMessage(eventType, data)
	if err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Warn(ctx, "notifications.event_dropped: "+err.Error())
			return metrics.OutcomeDropped
		}
		c.logg.Error(ctx, "notifications.decode_failed", err)
		return metrics.OutcomeRetried
	}

	notifications := Build(resolved)
	if len(notifications) == 0 {
		return metrics.OutcomeDropped
	}
	eventID, err := uuid.Parse(resolved.Envelope.EventID)
	if err != nil {
		c.logg.Warn(ctx, "notifications.event_dropped: invalid event id")
		return metrics.OutcomeDropped
	}
	ctx = c.logg.WithEventID(ctx, eventID.String())

	ran, err := c.dedupe.Process(ctx, partnerNotificationConsumer, eventID, func(ctx context.Context) error {
		return c.repo.CreateBatch(ctx, notifications)
	})
	switch {
	case err != nil:
		c.logg.Error(ctx, "notifications.insert_failed", err)
		return metrics.OutcomeRetried
	case !ran:
		c.logg.Debug(ctx, "notifications.event_duplicate")
		return metrics.OutcomeDuplicate
	}

	c.publish(ctx, notifications)
	c.logg.Info(c.logg.WithField(ctx, "notifications", len(notifications)), "notifications.created")
	return metrics.OutcomeHandled
}

// publish pushes the new rows onto the change feed. Failures are only logged since
// the rows are already durable and clients refetch on reconnect.
func (c *Consumer) publish(ctx context.Context, notifications []models.Notification) {
	if c.realtime == nil {
		return
	}
	for _, n := range notifications {
		change := realtime.Change{
			Table:         realtime.TableNotifications,
			Action:        realtime.ActionInsert,
			RecordID:      n.ID,
			PartnershipID: n.PartnershipID,
			EventType:     string(n.Type),
			OccurredAt:    n.CreatedAt,
		}
		if err := c.realtime.Publish(ctx, change, n.UserID); err != nil {
			c.logg.Warn(c.logg.WithUserID(ctx, n.UserID.String()), "realtime notification publish failed: "+err.Error())
		}
	}
}
