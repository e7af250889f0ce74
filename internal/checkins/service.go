package checkins

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/repo"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
)

// Service schedules and closes partnership check-ins. There is no reschedule:
// callers cancel and create a new one.
type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*CheckInDTO, error)
	List(ctx context.Context, userID uuid.UUID, params ListParams) ([]CheckInDTO, error)
	UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes *string) (*CheckInDTO, error)
	Complete(ctx context.Context, userID, id uuid.UUID) (*CheckInDTO, error)
	Cancel(ctx context.Context, userID, id uuid.UUID) (*CheckInDTO, error)
	SendReminders(ctx context.Context, lead time.Duration, limit int) (int, error)
}

type ServiceParams struct {
	DB           dbpkg.TxRunner
	Repo         Repository
	Partnerships partnerships.Repository
	Outbox       outbox.Emitter
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	db           dbpkg.TxRunner
	repo         Repository
	partnerships partnerships.Repository
	outbox       outbox.Emitter
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "check-ins repository required")
	}
	if params.Partnerships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "partnerships repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:           params.DB,
		repo:         params.Repo,
		partnerships: params.Partnerships,
		outbox:       params.Outbox,
		logg:         logg,
		now:          now,
	}, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*CheckInDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	duration := input.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < MinDurationMinutes || duration > MaxDurationMinutes {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "duration_minutes must be between %d and %d", MinDurationMinutes, MaxDurationMinutes)
	}
	if input.ScheduledAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scheduled_at is required")
	}
	now := s.now().UTC()
	if !input.ScheduledAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scheduled_at must be in the future")
	}
	notes := normalizeNotes(input.Notes)
	if notes != nil && len(*notes) > maxNotesLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "notes must be at most %d characters", maxNotesLength)
	}

	var checkIn *models.CheckIn
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := partnerships.LoadCollaborative(ctx, s.partnerships.WithTx(tx), input.PartnershipID, userID)
		if err != nil {
			return err
		}
		checkIn = &models.CheckIn{
			ID:              uuid.New(),
			PartnershipID:   p.ID,
			CreatedBy:       userID,
			ScheduledAt:     input.ScheduledAt.UTC(),
			DurationMinutes: duration,
			Notes:           notes,
			Status:          enums.CheckInStatusScheduled,
		}
		if err := s.repo.WithTx(tx).Create(ctx, checkIn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create check-in")
		}
		return s.emit(ctx, tx, enums.EventCheckInScheduled, *checkIn, *p, outbox.Actor(userID), false)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"checkin_id":     checkIn.ID.String(),
		"partnership_id": checkIn.PartnershipID.String(),
	}), "check-in scheduled")
	dto := FromModel(*checkIn)
	return &dto, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]CheckInDTO, error) {
	if !params.Window.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid window %q", params.Window)
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", *params.Status)
	}
	if _, err := partnerships.LoadForMember(ctx, s.partnerships, params.PartnershipID, userID); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, params, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list check-ins")
	}
	out := make([]CheckInDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromModel(row))
	}
	return out, nil
}

func (s *service) load(ctx context.Context, checkIns Repository, ps partnerships.Reader, userID, id uuid.UUID) (*models.CheckIn, *models.Partnership, error) {
	if userID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	checkIn, err := checkIns.FindByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "check-in not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load check-in")
	}
	p, err := partnerships.LoadForMember(ctx, ps, checkIn.PartnershipID, userID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "check-in not found")
		}
		return nil, nil, err
	}
	return checkIn, p, nil
}

func (s *service) UpdateNotes(ctx context.Context, userID, id uuid.UUID, notes *string) (*CheckInDTO, error) {
	notes = normalizeNotes(notes)
	if notes != nil && len(*notes) > maxNotesLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "notes must be at most %d characters", maxNotesLength)
	}
	var updated *models.CheckIn
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		checkIn, _, err := s.load(ctx, txRepo, s.partnerships.WithTx(tx), userID, id)
		if err != nil {
			return err
		}
		if err := txRepo.UpdateNotes(ctx, checkIn.ID, notes); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update check-in notes")
		}
		checkIn.Notes = notes
		updated = checkIn
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(*updated)
	return &dto, nil
}

func (s *service) Complete(ctx context.Context, userID, id uuid.UUID) (*CheckInDTO, error) {
	return s.close(ctx, userID, id, enums.CheckInStatusCompleted, enums.EventCheckInCompleted)
}

func (s *service) Cancel(ctx context.Context, userID, id uuid.UUID) (*CheckInDTO, error) {
	return s.close(ctx, userID, id, enums.CheckInStatusCancelled, enums.EventCheckInCancelled)
}

func (s *service) close(ctx context.Context, userID, id uuid.UUID, target enums.CheckInStatus, eventType enums.OutboxEventType) (*CheckInDTO, error) {
	var result *models.CheckIn
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		checkIn, p, err := s.load(ctx, txRepo, s.partnerships.WithTx(tx), userID, id)
		if err != nil {
			return err
		}
		result = checkIn
		if checkIn.Status == target {
			return nil
		}
		if checkIn.Status.IsTerminal() {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "check-in is already %s", checkIn.Status).
				WithDetails(map[string]any{"status": checkIn.Status})
		}
		now := s.now().UTC()
		changed, err := txRepo.SetStatus(ctx, checkIn.ID, target, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update check-in status")
		}
		if !changed {
			latest, err := txRepo.FindByID(ctx, checkIn.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload check-in")
			}
			result = latest
			if latest.Status == target {
				return nil
			}
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "check-in is already %s", latest.Status)
		}
		checkIn.Status = target
		if target == enums.CheckInStatusCompleted {
			checkIn.CompletedAt = &now
		} else {
			checkIn.CancelledAt = &now
		}
		return s.emit(ctx, tx, eventType, *checkIn, *p, outbox.Actor(userID), false)
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(*result)
	return &dto, nil
}

// SendReminders queues a reminder event for every scheduled check-in starting
// within lead. Each check-in is reminded at most once.
func (s *service) SendReminders(ctx context.Context, lead time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now().UTC()
	sent := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		due, err := txRepo.ListDueForReminder(ctx, now, now.Add(lead), limit)
		if err != nil {
			return err
		}
		psRepo := s.partnerships.WithTx(tx)
		for _, checkIn := range due {
			p, err := psRepo.FindByID(ctx, checkIn.PartnershipID)
			if err != nil {
				return err
			}
			if !p.Status.AllowsCollaboration() {
				continue
			}
			marked, err := txRepo.MarkReminderSent(ctx, checkIn.ID, now)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			if err := s.emit(ctx, tx, enums.EventCheckInReminder, checkIn, *p, nil, true); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send check-in reminders")
	}
	return sent, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, checkIn models.CheckIn, p models.Partnership, actor *outbox.ActorRef, once bool) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateCheckIn,
		AggregateID:   checkIn.ID,
		Actor:         actor,
		Data: payloads.CheckInEvent{
			CheckInID:       checkIn.ID,
			PartnershipID:   p.ID,
			CreatedBy:       checkIn.CreatedBy,
			ParticipantIDs:  []uuid.UUID{p.User1ID, p.User2ID},
			ScheduledAt:     checkIn.ScheduledAt,
			DurationMinutes: checkIn.DurationMinutes,
			Status:          checkIn.Status,
		},
	}
	var err error
	if once {
		err = s.outbox.EmitIfNotExists(ctx, tx, event)
	} else {
		err = s.outbox.Emit(ctx, tx, event)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit check-in event")
	}
	return nil
}
