package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountable/accountable-backend/api/controllers"
	"github.com/accountable/accountable-backend/api/routes"
	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/invitations"
	"github.com/accountable/accountable-backend/internal/messages"
	"github.com/accountable/accountable-backend/internal/notifications"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/progress"
	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/internal/users"
	pkgAuth "github.com/accountable/accountable-backend/pkg/auth"
	"github.com/accountable/accountable-backend/pkg/auth/session"
	"github.com/accountable/accountable-backend/pkg/bootstrap"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/env"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/migrate"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/redis"
	"github.com/accountable/accountable-backend/pkg/storage/gcs"
)

func main() {
	proc := bootstrap.MustLoad("api")
	cfg, logg := proc.Config, proc.Logger
	ctx, stop := proc.SignalContext()
	defer stop()
	defer proc.Close(context.Background())

	dbClient, err := db.New(ctx, cfg.DB, logg)
	proc.Require(ctx, "database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Require(ctx, "migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	proc.Require(ctx, "redis", err)
	proc.OnClose("redis", redisClient.Close)

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	proc.Require(ctx, "gcs", err)
	proc.OnClose("gcs", gcsClient.Close)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	proc.Require(ctx, "sessions", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	domainMetrics := metrics.NewDomainMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry, registry)

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	usersRepo := users.NewRepository(conn)
	partnershipsRepo := partnerships.NewRepository(conn)
	goalsRepo := goals.NewRepository(conn)

	must := func(name string, err error) { proc.Require(ctx, name, err) }

	usersService, err := users.NewService(users.ServiceParams{
		Repo:           usersRepo,
		Store:          gcsClient,
		Logger:         logg,
		MaxAvatarBytes: cfg.GCS.MaxUploadBytes(),
	})
	must("users", err)

	invitationsService, err := invitations.NewService(invitations.ServiceParams{
		DB:           dbClient,
		Repo:         invitations.NewRepository(conn),
		Partnerships: partnershipsRepo,
		Users:        usersRepo,
		Outbox:       emitter,
		Metrics:      domainMetrics,
		Config:       cfg.Partnership,
		Logger:       logg,
	})
	must("invitations", err)

	partnershipsService, err := partnerships.NewService(partnerships.ServiceParams{
		DB:      dbClient,
		Repo:    partnershipsRepo,
		Users:   usersRepo,
		Inviter: invitationsService,
		Outbox:  emitter,
		Metrics: domainMetrics,
		Config:  cfg.Partnership,
		Logger:  logg,
	})
	must("partnerships", err)

	tokens, err := pkgAuth.NewSigner(cfg.JWT)
	must("jwt", err)

	authService, err := auth.NewService(auth.ServiceParams{
		DB:            dbClient,
		Repo:          auth.NewRepository(conn),
		Users:         usersRepo,
		Invitations:   invitationsService,
		Sessions:      sessionManager,
		Confirmations: redisClient,
		Outbox:        emitter,
		Tokens:        tokens,
		Password:      cfg.Password,
		Features:      cfg.FeatureFlags,
		Logger:        logg,
	})
	must("auth", err)

	goalsService, err := goals.NewService(goals.ServiceParams{
		DB:           dbClient,
		Repo:         goalsRepo,
		Partnerships: partnershipsRepo,
		Outbox:       emitter,
		Logger:       logg,
	})
	must("goals", err)

	checkinsService, err := checkins.NewService(checkins.ServiceParams{
		DB:           dbClient,
		Repo:         checkins.NewRepository(conn),
		Partnerships: partnershipsRepo,
		Outbox:       emitter,
		Logger:       logg,
	})
	must("checkins", err)

	messagesService, err := messages.NewService(messages.ServiceParams{
		DB:           dbClient,
		Repo:         messages.NewRepository(conn),
		Partnerships: partnershipsRepo,
		Users:        usersRepo,
		Outbox:       emitter,
		Limiter:      messages.NewSendLimiter(cfg.Messaging.SendRatePerMinute, cfg.Messaging.SendBurst),
		MaxLength:    cfg.Messaging.MaxLength,
		Logger:       logg,
	})
	must("messages", err)

	progressService, err := progress.NewService(progress.ServiceParams{
		DB:           dbClient,
		Repo:         progress.NewRepository(conn),
		Goals:        goalsRepo,
		Partnerships: partnershipsRepo,
		Outbox:       emitter,
		Logger:       logg,
	})
	must("progress", err)

	notificationsService, err := notifications.NewService(notifications.NewRepository(conn))
	must("notifications", err)

	changeSource, err := realtime.NewRedisSource(redisClient, logg)
	must("realtime", err)

	handler := routes.NewRouter(routes.Dependencies{
		Config:   cfg,
		Logger:   logg,
		Metrics:  httpMetrics,
		Store:    redisClient,
		Tokens:   tokens,
		Sessions: sessionManager,
		Health: map[string]controllers.Pinger{
			"db":    dbClient,
			"redis": redisClient,
			"gcs":   gcsClient,
		},
		Auth:          authService,
		Users:         usersService,
		Invitations:   invitationsService,
		Partnerships:  partnershipsService,
		Goals:         goalsService,
		CheckIns:      checkinsService,
		Messages:      messagesService,
		Progress:      progressService,
		Notifications: notificationsService,
		Realtime:      changeSource,
	})

	// PORT is what most container platforms inject; it wins over the config.
	addr := ":" + env.First(cfg.App.Port, "PORT")
	logCtx := logg.WithField(ctx, "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "api.listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			proc.Fail(logCtx, "http_server", err)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "api.shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "api.shutdown_failed", err)
		}
	}
}
