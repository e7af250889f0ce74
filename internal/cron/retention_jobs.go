package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/accountable/accountable-backend/pkg/logger"
)

const (
	defaultNotificationRetention = 90 * 24 * time.Hour
	defaultOutboxRetention       = 30 * 24 * time.Hour
)

type notificationPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// pruneJob deletes rows older than now minus retention.
type pruneJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	prune     func(ctx context.Context, cutoff time.Time) (int64, error)
	now       func() time.Time
}

func (j *pruneJob) Name() string { return j.name }

func (j *pruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), j.name+" complete")
	return nil
}

func newPruneJob(name string, logg *logger.Logger, retention, fallback time.Duration, prune func(context.Context, time.Time) (int64, error)) *pruneJob {
	if retention <= 0 {
		retention = fallback
	}
	return &pruneJob{name: name, logg: logg, retention: retention, prune: prune, now: time.Now}
}

// NewNotificationCleanupJob drops notifications past retention, read or not.
func NewNotificationCleanupJob(logg *logger.Logger, repo notificationPruner, retention time.Duration) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return newPruneJob("notification-cleanup", logg, retention, defaultNotificationRetention, repo.DeleteOlderThan), nil
}

// NewOutboxRetentionJob prunes published outbox rows. Unpublished and
// dead-lettered rows are never touched.
func NewOutboxRetentionJob(logg *logger.Logger, repo outboxPruner, retention time.Duration) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	return newPruneJob("outbox-retention", logg, retention, defaultOutboxRetention, repo.DeletePublishedBefore), nil
}
