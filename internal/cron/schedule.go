package cron

import (
	"context"
	"sync"
	"time"
)

// Job is one unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule tracks a cadence per job. The worker ticks at its own interval and
// runs whichever jobs have come due; a job that fails stays due.
type Schedule struct {
	mu      sync.Mutex
	entries []*scheduled
}

type scheduled struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

func NewSchedule() *Schedule {
	return &Schedule{}
}

// Add registers job to run at most once per every. A zero cadence means every tick.
func (s *Schedule) Add(job Job, every time.Duration) *Schedule {
	if job == nil {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &scheduled{job: job, every: every})
	return s
}

// Due lists the jobs whose cadence has elapsed at now, in registration order.
func (s *Schedule) Due(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, e := range s.entries {
		if e.lastRun.IsZero() || now.Sub(e.lastRun) >= e.every {
			due = append(due, e.job)
		}
	}
	return due
}

// MarkRan records a successful run of the named job.
func (s *Schedule) MarkRan(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name() == name {
			e.lastRun = at
		}
	}
}

func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
