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

type fakeSweeper struct {
	results []int
	err     error
	limits  []int
	lead    time.Duration
}

func (f *fakeSweeper) next(limit int) (int, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

func (f *fakeSweeper) NotifyTrialsEndingSoon(_ context.Context, limit int) (int, error) {
	return f.next(limit)
}

func (f *fakeSweeper) ExpireStale(_ context.Context, limit int) (int, error) {
	return f.next(limit)
}

func (f *fakeSweeper) SendReminders(_ context.Context, lead time.Duration, limit int) (int, error) {
	f.lead = lead
	return f.next(limit)
}

func TestSweepJobRepeatsWhileBatchesAreFull(t *testing.T) {
	sweeper := &fakeSweeper{results: []int{5, 5, 2, 9}}
	job, err := NewInvitationExpiryJob(logger.Nop(), sweeper, 5)
	require.NoError(t, err)
	assert.Equal(t, "invitation-expiry", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []int{5, 5, 5}, sweeper.limits)
}

func TestSweepJobStopsAtLoopCap(t *testing.T) {
	results := make([]int, 20)
	for i := range results {
		results[i] = 1
	}
	sweeper := &fakeSweeper{results: results}
	job, err := NewTrialEndingSoonJob(logger.Nop(), sweeper, 1)
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, sweeper.limits, 10)
}

func TestSweepJobPropagatesErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	job, err := NewTrialEndingSoonJob(logger.Nop(), sweeper, 0)
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trial-ending-soon")
	assert.Equal(t, []int{defaultSweepBatch}, sweeper.limits)
}

func TestCheckInReminderJobPassesLead(t *testing.T) {
	sweeper := &fakeSweeper{results: []int{3}}
	job, err := NewCheckInReminderJob(logger.Nop(), sweeper, 24*time.Hour, 50)
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 24*time.Hour, sweeper.lead)

	_, err = NewCheckInReminderJob(logger.Nop(), sweeper, 0, 50)
	require.Error(t, err)
}
