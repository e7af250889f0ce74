package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

type changePublisher interface {
	Publish(ctx context.Context, change Change, recipients ...uuid.UUID) error
}

// Consumer relays domain events from Pub/Sub onto the per-user change feed.
// Redelivered events are published again; subscribers treat changes as hints to refetch.
type Consumer struct {
	registry     *registry.EventRegistry
	publisher    changePublisher
	subscription *pubsub.Subscriber
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

func NewConsumer(reg *registry.EventRegistry, publisher changePublisher, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if reg == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("realtime publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{registry: reg, publisher: publisher, subscription: subscription, logg: logg}, nil
}

// WithMetrics records one outcome per delivery on m.
func (c *Consumer) WithMetrics(m *metrics.ConsumerMetrics) *Consumer {
	c.metrics = m
	return c
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("realtime subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		started := time.Now()
		if err := c.Handle(ctx, enums.OutboxEventType(msg.Attributes["event_type"]), msg.Data); err != nil {
			c.metrics.Observe("realtime", metrics.OutcomeRetried, time.Since(started))
			msg.Nack()
			return
		}
		c.metrics.Observe("realtime", metrics.OutcomeHandled, time.Since(started))
		msg.Ack()
	})
}

// Handle publishes the change behind one event. Only transport failures are
// returned; undecodable or irrelevant events are logged and dropped.
func (c *Consumer) Handle(ctx context.Context, eventType enums.OutboxEventType, data []byte) error {
	logCtx := c.logg.WithField(ctx, "event_type", string(eventType))

	resolved, err := c.registry.DecodeMessage(eventType, data)
	if err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Warn(logCtx, "dropping undecodable event: "+err.Error())
			return nil
		}
		return err
	}

	change, recipients, ok := ChangeFromEvent(resolved)
	if !ok {
		c.logg.Debug(logCtx, "event has no realtime change")
		return nil
	}
	if err := c.publisher.Publish(ctx, change, recipients...); err != nil {
		c.logg.Error(logCtx, "realtime publish failed", err)
		return err
	}
	return nil
}
