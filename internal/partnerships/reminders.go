package partnerships

import (
	"context"

	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
)

// NotifyTrialsEndingSoon queues one trial_ending_soon event per trial partnership
// that has entered the ending-soon window and reports how many were queued.
// Expired trials are left alone and the status never changes here.
func (s *service) NotifyTrialsEndingSoon(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now().UTC()
	queued := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		due, err := s.repo.WithTx(tx).ListTrialsAwaitingReminder(ctx, now, now.Add(s.cfg.EndingSoonWindow), limit)
		if err != nil {
			return err
		}
		for _, p := range due {
			trial := DeriveTrial(p, now, s.cfg.TrialLength, s.cfg.EndingSoonWindow)
			if !trial.EndingSoon {
				continue
			}
			data := payloads.PartnershipTransitionEvent{
				PartnershipID: p.ID,
				RequesterID:   p.User1ID,
				PartnerID:     p.User2ID,
				FromStatus:    p.Status,
				ToStatus:      p.Status,
				TrialEndDate:  p.TrialEndDate,
				DaysRemaining: trial.DaysRemaining,
			}
			err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPartnershipTrialEndingSoon,
				AggregateType: enums.AggregatePartnership,
				AggregateID:   p.ID,
				Data:          data,
			})
			if err != nil {
				return err
			}
			queued++
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue trial ending reminders")
	}
	s.logg.Info(s.logg.WithField(ctx, "queued", queued), "trial ending reminders checked")
	return queued, nil
}
