package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/accountable/accountable-backend/pkg/logger"
)

const defaultSweepBatch = 200

type trialReminder interface {
	NotifyTrialsEndingSoon(ctx context.Context, limit int) (int, error)
}

type invitationExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type checkInReminder interface {
	SendReminders(ctx context.Context, lead time.Duration, limit int) (int, error)
}

// sweepJob drains one batch-oriented sweep, repeating while full batches come back.
type sweepJob struct {
	name     string
	logg     *logger.Logger
	batch    int
	maxLoops int
	sweep    func(ctx context.Context, limit int) (int, error)
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	total := 0
	for i := 0; i < j.maxLoops; i++ {
		n, err := j.sweep(ctx, j.batch)
		if err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
		total += n
		if n < j.batch {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "processed", total), j.name+" sweep complete")
	return nil
}

func newSweepJob(name string, logg *logger.Logger, batch int, sweep func(ctx context.Context, limit int) (int, error)) *sweepJob {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &sweepJob{name: name, logg: logg, batch: batch, maxLoops: 10, sweep: sweep}
}

// NewTrialEndingSoonJob queues the once-per-partnership trial ending reminder.
func NewTrialEndingSoonJob(logg *logger.Logger, partnerships trialReminder, batch int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if partnerships == nil {
		return nil, fmt.Errorf("partnership service required")
	}
	return newSweepJob("trial-ending-soon", logg, batch, partnerships.NotifyTrialsEndingSoon), nil
}

// NewInvitationExpiryJob marks overdue invitations expired.
func NewInvitationExpiryJob(logg *logger.Logger, invitations invitationExpirer, batch int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if invitations == nil {
		return nil, fmt.Errorf("invitation service required")
	}
	return newSweepJob("invitation-expiry", logg, batch, invitations.ExpireStale), nil
}

// NewCheckInReminderJob reminds participants of check-ins starting within lead.
func NewCheckInReminderJob(logg *logger.Logger, checkIns checkInReminder, lead time.Duration, batch int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if checkIns == nil {
		return nil, fmt.Errorf("check-in service required")
	}
	if lead <= 0 {
		return nil, fmt.Errorf("reminder lead must be positive")
	}
	return newSweepJob("checkin-reminder", logg, batch, func(ctx context.Context, limit int) (int, error) {
		return checkIns.SendReminders(ctx, lead, limit)
	}), nil
}
