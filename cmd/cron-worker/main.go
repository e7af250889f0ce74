package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/internal/cron"
	"github.com/accountable/accountable-backend/internal/invitations"
	"github.com/accountable/accountable-backend/internal/notifications"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/bootstrap"
	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/migrate"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/redis"
)

const lockKeyFormat = "accountable:%s:cron:lock"

// Cadences per job. The worker tick (ACCOUNTABLE_CRON_INTERVAL) should be no
// coarser than the shortest of these.
const (
	reminderEvery  = 0
	expiryEvery    = time.Hour
	trialEvery     = 6 * time.Hour
	retentionEvery = 24 * time.Hour
)

func main() {
	proc := bootstrap.MustLoad("cron-worker")
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

	maintenanceMetrics := metrics.NewMaintenanceMetrics(prometheus.DefaultRegisterer)
	domainMetrics := metrics.NewDomainMetrics(prometheus.DefaultRegisterer)

	// the lock outlives two ticks so a slow cycle keeps its hold
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), proc.Instance, 2*cfg.Cron.Interval)
	proc.Require(ctx, "cron_lock", err)

	schedule, err := buildSchedule(cfg, logg, dbClient, domainMetrics)
	proc.Require(ctx, "cron_jobs", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Schedule: schedule,
		Lock:     lock,
		Metrics:  maintenanceMetrics,
		Tick:     cfg.Cron.Interval,
	})
	proc.Require(ctx, "cron", err)

	proc.ServeMetrics(ctx, prometheus.DefaultGatherer)
	logg.Info(logg.WithField(ctx, "tick", cfg.Cron.Interval.String()), "cron.starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "cron", err)
	}
	logg.Info(ctx, "cron.stopped")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func buildSchedule(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, domainMetrics *metrics.DomainMetrics) (*cron.Schedule, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	usersRepo := users.NewRepository(conn)
	partnershipsRepo := partnerships.NewRepository(conn)

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
	if err != nil {
		return nil, fmt.Errorf("invitations service: %w", err)
	}

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
	if err != nil {
		return nil, fmt.Errorf("partnerships service: %w", err)
	}

	checkinsService, err := checkins.NewService(checkins.ServiceParams{
		DB:           dbClient,
		Repo:         checkins.NewRepository(conn),
		Partnerships: partnershipsRepo,
		Outbox:       emitter,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkins service: %w", err)
	}

	trialJob, err := cron.NewTrialEndingSoonJob(logg, partnershipsService, 0)
	if err != nil {
		return nil, err
	}
	expiryJob, err := cron.NewInvitationExpiryJob(logg, invitationsService, 0)
	if err != nil {
		return nil, err
	}
	reminderJob, err := cron.NewCheckInReminderJob(logg, checkinsService, cfg.Cron.CheckInReminderLead, 0)
	if err != nil {
		return nil, err
	}
	cleanupJob, err := cron.NewNotificationCleanupJob(logg, notifications.NewRepository(conn), cfg.Cron.NotificationRetention)
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(logg, outbox.NewRepository(conn), cfg.Outbox.Retention)
	if err != nil {
		return nil, err
	}

	return cron.NewSchedule().
		Add(reminderJob, reminderEvery).
		Add(expiryJob, expiryEvery).
		Add(trialJob, trialEvery).
		Add(cleanupJob, retentionEvery).
		Add(retentionJob, retentionEvery), nil
}
