package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountable/accountable-backend/internal/analytics/router"
	"github.com/accountable/accountable-backend/internal/analytics/worker"
	"github.com/accountable/accountable-backend/internal/analytics/writer"
	"github.com/accountable/accountable-backend/pkg/bigquery"
	"github.com/accountable/accountable-backend/pkg/bootstrap"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox/idempotency"
	"github.com/accountable/accountable-backend/pkg/pubsub"
	"github.com/accountable/accountable-backend/pkg/redis"
)

const flushTimeout = 10 * time.Second

// The analytics worker turns domain events into BigQuery rows.
func main() {
	proc := bootstrap.MustLoad("analytics-worker")
	cfg, logg := proc.Config, proc.Logger
	ctx, stop := proc.SignalContext()
	defer stop()
	defer proc.Close(context.Background())

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	proc.Require(ctx, "redis", err)
	proc.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	proc.Require(ctx, "pubsub", err)
	proc.OnClose("pubsub", pubsubClient.Close)

	bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	proc.Require(ctx, "bigquery", err)
	proc.OnClose("bigquery", bq.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		proc.Fail(ctx, "analytics_subscription", errors.New("subscription not configured"))
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Require(ctx, "idempotency", err)

	rows, err := writer.New(bq, writer.ConfigFrom(cfg.BigQuery))
	proc.Require(ctx, "analytics_writer", err)
	// registered last so it runs first, before the bigquery client closes
	proc.OnClose("analytics_flush", func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		return rows.Flush(flushCtx)
	})

	handler, err := router.NewRouter(rows, logg, nil)
	proc.Require(ctx, "analytics_router", err)

	service, err := worker.NewService(worker.Params{
		Subscription: subscription,
		Handler:      handler,
		Dedupe:       dedupe,
		Metrics:      metrics.NewConsumerMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
	})
	proc.Require(ctx, "analytics_worker", err)

	proc.ServeMetrics(ctx, prometheus.DefaultGatherer)
	logg.Info(ctx, "analytics.starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "analytics_worker", err)
	}
	logg.Info(ctx, "analytics.stopped")
}
