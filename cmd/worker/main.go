package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountable/accountable-backend/internal/notifications"
	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/pkg/bootstrap"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox/idempotency"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
	"github.com/accountable/accountable-backend/pkg/pubsub"
	"github.com/accountable/accountable-backend/pkg/redis"
)

// The worker consumes domain events twice: once to write in-app
// notifications and once to fan changes out to realtime subscribers.
func main() {
	proc := bootstrap.MustLoad("worker")
	cfg, logg := proc.Config, proc.Logger
	ctx, stop := proc.SignalContext()
	defer stop()
	defer proc.Close(context.Background())

	dbClient, err := db.New(ctx, cfg.DB, logg)
	proc.Require(ctx, "database", err)
	proc.OnClose("database", dbClient.Close)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	proc.Require(ctx, "redis", err)
	proc.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	proc.Require(ctx, "pubsub", err)
	proc.OnClose("pubsub", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Require(ctx, "event_registry", err)

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Require(ctx, "idempotency", err)

	changes, err := realtime.NewPublisher(redisClient, logg)
	proc.Require(ctx, "realtime_publisher", err)

	consumerMetrics := metrics.NewConsumerMetrics(prometheus.DefaultRegisterer)

	notificationConsumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Repo:         notifications.NewRepository(dbClient.DB()),
		Registry:     eventRegistry,
		Subscription: pubsubClient.NotificationSubscription(),
		Idempotency:  dedupe,
		Realtime:     changes,
		Metrics:      consumerMetrics,
		Logger:       logg,
	})
	proc.Require(ctx, "notification_consumer", err)

	realtimeConsumer, err := realtime.NewConsumer(eventRegistry, changes, pubsubClient.RealtimeSubscription(), logg)
	proc.Require(ctx, "realtime_consumer", err)
	realtimeConsumer.WithMetrics(consumerMetrics)

	service, err := NewService(ServiceParams{
		Config: cfg,
		Logger: logg,
		Dependencies: map[string]pinger{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
			"pubsub":   pubsubClient.Ping,
		},
		Consumers: map[string]runner{
			"notifications": notificationConsumer,
			"realtime":      realtimeConsumer,
		},
	})
	proc.Require(ctx, "worker", err)

	proc.ServeMetrics(ctx, prometheus.DefaultGatherer)
	logg.Info(ctx, "worker.starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "worker", err)
	}
	logg.Info(ctx, "worker.stopped")
}
