package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountable/accountable-backend/pkg/bootstrap"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/migrate"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
	"github.com/accountable/accountable-backend/pkg/pubsub"
)

func main() {
	proc := bootstrap.MustLoad("outbox-publisher")
	cfg, logg := proc.Config, proc.Logger
	ctx, stop := proc.SignalContext()
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	proc.Require(ctx, "database", err)
	proc.OnClose("database", dbClient.Close)
	defer proc.Close(context.Background())

	proc.Require(ctx, "migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	proc.Require(ctx, "pubsub", err)
	proc.OnClose("pubsub", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Require(ctx, "event_registry", err)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewDomainMetrics(prometheus.DefaultRegisterer),
	})
	proc.Require(ctx, "outbox_publisher", err)

	proc.ServeMetrics(ctx, prometheus.DefaultGatherer)
	logg.Info(ctx, "outbox.starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "outbox_publisher", err)
	}
	logg.Info(ctx, "outbox.stopped")
}
