package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
)

const defaultTick = time.Hour

type ServiceParams struct {
	Logger   *logger.Logger
	Schedule *Schedule
	Lock     Lock
	Metrics  *metrics.MaintenanceMetrics
	// Tick is how often the worker wakes to look for due jobs.
	Tick time.Duration
}

// Service wakes on every tick, takes the shared lock and runs the jobs that
// have come due. Jobs never transition partnerships; they only remind,
// expire invitations and prune old rows.
type Service struct {
	logg     *logger.Logger
	schedule *Schedule
	lock     Lock
	metrics  *metrics.MaintenanceMetrics
	tick     time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Schedule == nil || params.Schedule.Len() == 0 {
		return nil, fmt.Errorf("at least one job must be scheduled")
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		logg:     params.Logger,
		schedule: params.Schedule,
		lock:     params.Lock,
		metrics:  params.Metrics,
		tick:     tick,
		now:      time.Now,
	}, nil
}

// Run performs a cycle immediately and then once per tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.cycle(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle returns how many jobs ran.
func (s *Service) cycle(ctx context.Context) int {
	due := s.schedule.Due(s.now())
	if len(due) == 0 {
		return 0
	}

	held, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "cron.lock_acquire_failed", err)
		return 0
	}
	if !held {
		s.metrics.CycleSkipped()
		s.logg.Debug(ctx, "cron.cycle_skipped: lock held elsewhere")
		return 0
	}
	defer func() {
		err := s.lock.Release(context.WithoutCancel(ctx))
		switch {
		case errors.Is(err, ErrLockLost):
			s.logg.Warn(ctx, "cron.lock_lost: cycle outlived the lock ttl")
		case err != nil:
			s.logg.Error(ctx, "cron.lock_release_failed", err)
		}
	}()

	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		s.runJob(ctx, job)
	}
	return len(due)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	start := s.now()
	err := job.Run(ctx)
	end := s.now()
	s.metrics.ObserveRun(job.Name(), end.Sub(start), end, err)

	ctx = s.logg.WithField(ctx, "duration_ms", end.Sub(start).Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron.job_failed", err)
		return
	}
	s.schedule.MarkRan(job.Name(), start)
	s.logg.Info(ctx, "cron.job_completed")
}
