package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/logger"
)

type fakePruner struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakePruner) prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func (f *fakePruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.prune(ctx, cutoff)
}

func (f *fakePruner) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.prune(ctx, cutoff)
}

func TestPruneJobsComputeCutoffFromRetention(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		build     func(*fakePruner) (Job, error)
		wantAfter time.Duration
	}{
		{
			name: "notification default",
			build: func(f *fakePruner) (Job, error) {
				return NewNotificationCleanupJob(logger.Nop(), f, 0)
			},
			wantAfter: defaultNotificationRetention,
		},
		{
			name: "outbox default",
			build: func(f *fakePruner) (Job, error) {
				return NewOutboxRetentionJob(logger.Nop(), f, 0)
			},
			wantAfter: defaultOutboxRetention,
		},
		{
			name: "outbox configured",
			build: func(f *fakePruner) (Job, error) {
				return NewOutboxRetentionJob(logger.Nop(), f, 48*time.Hour)
			},
			wantAfter: 48 * time.Hour,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakePruner{deleted: 3}
			job, err := tc.build(repo)
			require.NoError(t, err)
			job.(*pruneJob).now = func() time.Time { return now }

			require.NoError(t, job.Run(context.Background()))
			require.Len(t, repo.cutoffs, 1)
			assert.Equal(t, now.Add(-tc.wantAfter), repo.cutoffs[0])
		})
	}
}

func TestPruneJobWrapsErrors(t *testing.T) {
	job, err := NewNotificationCleanupJob(logger.Nop(), &fakePruner{err: errors.New("boom")}, time.Hour)
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification-cleanup")
}

func TestPruneJobsRequireRepository(t *testing.T) {
	_, err := NewNotificationCleanupJob(logger.Nop(), nil, 0)
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(nil, &fakePruner{}, 0)
	assert.Error(t, err)
}
