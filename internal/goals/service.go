package goals

import (
	"context"
	"strings"
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

const oneActiveIndex = "idx_goals_one_active"

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*GoalDTO, error)
	List(ctx context.Context, userID uuid.UUID, params ListParams) ([]GoalDTO, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*GoalDTO, error)
	Update(ctx context.Context, userID, id uuid.UUID, input UpdateInput) (*GoalDTO, error)
	Complete(ctx context.Context, userID, id uuid.UUID) (*GoalDTO, error)
	Abandon(ctx context.Context, userID, id uuid.UUID) (*GoalDTO, error)
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
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "goals repository required")
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

// Create adds a goal for the caller. The partnership must be in trial or active and
// the caller may hold only one active goal in it.
func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*GoalDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if len(title) > maxTitleLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "title must be at most %d characters", maxTitleLength)
	}
	now := s.now().UTC()
	start := now
	if input.StartDate != nil {
		start = input.StartDate.UTC()
	}
	if input.TargetDate != nil && input.TargetDate.Before(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target_date must not be before start_date")
	}

	var goal *models.Goal
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := partnerships.LoadCollaborative(ctx, s.partnerships.WithTx(tx), input.PartnershipID, userID)
		if err != nil {
			return err
		}
		txRepo := s.repo.WithTx(tx)
		if existing, err := txRepo.FindActive(ctx, p.ID, userID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "you already have an active goal in this partnership").
				WithDetails(map[string]any{"goal_id": existing.ID})
		} else if !repo.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active goal")
		}

		goal = &models.Goal{
			ID:            uuid.New(),
			PartnershipID: p.ID,
			UserID:        userID,
			Title:         title,
			Description:   optionalText(input.Description),
			Status:        enums.GoalStatusActive,
			StartDate:     start,
		}
		if input.TargetDate != nil {
			target := input.TargetDate.UTC()
			goal.TargetDate = &target
		}
		if err := txRepo.Create(ctx, goal); err != nil {
			if dbpkg.IsUniqueViolation(err, oneActiveIndex) {
				return pkgerrors.New(pkgerrors.CodeConflict, "you already have an active goal in this partnership")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create goal")
		}
		return s.emit(ctx, tx, enums.EventGoalCreated, *goal, *p)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"goal_id":        goal.ID.String(),
		"partnership_id": goal.PartnershipID.String(),
	}), "goal created")
	dto := FromModel(*goal, 0)
	return &dto, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]GoalDTO, error) {
	if _, err := partnerships.LoadForMember(ctx, s.partnerships, params.PartnershipID, userID); err != nil {
		return nil, err
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", *params.Status)
	}
	rows, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list goals")
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, g := range rows {
		ids = append(ids, g.ID)
	}
	counts, err := s.repo.ProgressCounts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count progress updates")
	}
	out := make([]GoalDTO, 0, len(rows))
	for _, g := range rows {
		out = append(out, FromModel(g, counts[g.ID]))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (*GoalDTO, error) {
	goal, _, err := s.load(ctx, s.repo, s.partnerships, userID, id)
	if err != nil {
		return nil, err
	}
	return s.withCount(ctx, *goal)
}

// load fetches the goal and checks that userID belongs to its partnership.
func (s *service) load(ctx context.Context, goals Repository, ps partnerships.Reader, userID, id uuid.UUID) (*models.Goal, *models.Partnership, error) {
	if userID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	goal, err := goals.FindByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "goal not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load goal")
	}
	p, err := partnerships.LoadForMember(ctx, ps, goal.PartnershipID, userID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "goal not found")
		}
		return nil, nil, err
	}
	return goal, p, nil
}

func (s *service) withCount(ctx context.Context, goal models.Goal) (*GoalDTO, error) {
	counts, err := s.repo.ProgressCounts(ctx, []uuid.UUID{goal.ID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count progress updates")
	}
	dto := FromModel(goal, counts[goal.ID])
	return &dto, nil
}

func (s *service) Update(ctx context.Context, userID, id uuid.UUID, input UpdateInput) (*GoalDTO, error) {
	if input.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}
	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title cannot be empty")
		}
		if len(title) > maxTitleLength {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "title must be at most %d characters", maxTitleLength)
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = optionalText(input.Description)
	}

	var updated *models.Goal
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		goal, _, err := s.load(ctx, txRepo, s.partnerships.WithTx(tx), userID, id)
		if err != nil {
			return err
		}
		if goal.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the goal owner can edit it")
		}
		if goal.Status != enums.GoalStatusActive {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "goal is %s and can no longer be edited", goal.Status)
		}
		if input.TargetDate.Valid {
			if input.TargetDate.Value == nil {
				updates["target_date"] = nil
			} else {
				target := input.TargetDate.Value.UTC()
				if target.Before(goal.StartDate) {
					return pkgerrors.New(pkgerrors.CodeValidation, "target_date must not be before start_date")
				}
				updates["target_date"] = target
			}
		}
		if err := txRepo.Update(ctx, goal.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update goal")
		}
		updated, err = txRepo.FindByID(ctx, goal.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload goal")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.withCount(ctx, *updated)
}

func (s *service) Complete(ctx context.Context, userID, id uuid.UUID) (*GoalDTO, error) {
	return s.close(ctx, userID, id, enums.GoalStatusCompleted, enums.EventGoalCompleted)
}

func (s *service) Abandon(ctx context.Context, userID, id uuid.UUID) (*GoalDTO, error) {
	return s.close(ctx, userID, id, enums.GoalStatusAbandoned, enums.EventGoalAbandoned)
}

// close moves an active goal to a terminal status. Repeating the same close is a no-op.
func (s *service) close(ctx context.Context, userID, id uuid.UUID, target enums.GoalStatus, eventType enums.OutboxEventType) (*GoalDTO, error) {
	var result *models.Goal
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		goal, p, err := s.load(ctx, txRepo, s.partnerships.WithTx(tx), userID, id)
		if err != nil {
			return err
		}
		result = goal
		if goal.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the goal owner can change its status")
		}
		if goal.Status == target {
			return nil
		}
		if goal.Status != enums.GoalStatusActive {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "goal is already %s", goal.Status).
				WithDetails(map[string]any{"status": goal.Status})
		}
		now := s.now().UTC()
		changed, err := txRepo.SetStatus(ctx, goal.ID, enums.GoalStatusActive, target, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update goal status")
		}
		if !changed {
			latest, err := txRepo.FindByID(ctx, goal.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload goal")
			}
			result = latest
			if latest.Status == target {
				return nil
			}
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "goal is already %s", latest.Status)
		}
		goal.Status = target
		goal.ClosedAt = &now
		return s.emit(ctx, tx, eventType, *goal, *p)
	})
	if err != nil {
		return nil, err
	}
	return s.withCount(ctx, *result)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, goal models.Goal, p models.Partnership) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateGoal,
		AggregateID:   goal.ID,
		Actor:         outbox.Actor(goal.UserID),
		Data: payloads.GoalEvent{
			GoalID:        goal.ID,
			PartnershipID: p.ID,
			OwnerID:       goal.UserID,
			PartnerID:     p.Counterpart(goal.UserID),
			Title:         goal.Title,
			Status:        goal.Status,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit goal event")
	}
	return nil
}
