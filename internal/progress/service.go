package progress

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/repo"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

const maxDescriptionLength = 2000

// numeric(12,2) upper bound.
var maxValue = decimal.New(1, 10)

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*UpdateDTO, error)
	ListByGoal(ctx context.Context, userID, goalID uuid.UUID, params pagination.Params) (*pagination.Page[UpdateDTO], error)
}

type ServiceParams struct {
	DB           dbpkg.TxRunner
	Repo         Repository
	Goals        goals.Repository
	Partnerships partnerships.Repository
	Outbox       outbox.Emitter
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	db           dbpkg.TxRunner
	repo         Repository
	goals        goals.Repository
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
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "progress repository required")
	}
	if params.Goals == nil {
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
		goals:        params.Goals,
		partnerships: params.Partnerships,
		outbox:       params.Outbox,
		logg:         logg,
		now:          now,
	}, nil
}

// Create appends a progress update. The goal must be active and its partnership
// in trial or active.
func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*UpdateDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description is required")
	}
	if len(description) > maxDescriptionLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "description must be at most %d characters", maxDescriptionLength)
	}
	var value decimal.NullDecimal
	if input.Value != nil {
		rounded := input.Value.Round(2)
		if rounded.Abs().GreaterThanOrEqual(maxValue) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "value is out of range")
		}
		value = decimal.NewNullDecimal(rounded)
	}

	var update *models.ProgressUpdate
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		goal, err := s.goals.WithTx(tx).FindByID(ctx, input.GoalID)
		if err != nil {
			if repo.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "goal not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load goal")
		}
		p, err := partnerships.LoadCollaborative(ctx, s.partnerships.WithTx(tx), goal.PartnershipID, userID)
		if err != nil {
			return err
		}
		if goal.Status != enums.GoalStatusActive {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "goal is %s", goal.Status).
				WithDetails(map[string]any{"status": goal.Status})
		}

		update = &models.ProgressUpdate{
			ID:          uuid.New(),
			GoalID:      goal.ID,
			UserID:      userID,
			Description: description,
			Value:       value,
			CreatedAt:   s.now().UTC(),
		}
		if err := s.repo.WithTx(tx).Create(ctx, update); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create progress update")
		}
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProgressRecorded,
			AggregateType: enums.AggregateProgressUpdate,
			AggregateID:   update.ID,
			Actor:         outbox.Actor(userID),
			Data: payloads.ProgressRecordedEvent{
				ProgressID:    update.ID,
				GoalID:        goal.ID,
				GoalTitle:     goal.Title,
				PartnershipID: p.ID,
				UserID:        userID,
				PartnerID:     p.Counterpart(userID),
				Description:   description,
				Value:         value,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit progress event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(*update)
	return &dto, nil
}

func (s *service) ListByGoal(ctx context.Context, userID, goalID uuid.UUID, params pagination.Params) (*pagination.Page[UpdateDTO], error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	goal, err := s.goals.FindByID(ctx, goalID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "goal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load goal")
	}
	if _, err := partnerships.LoadForMember(ctx, s.partnerships, goal.PartnershipID, userID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "goal not found")
		}
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByGoal(ctx, goalID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list progress updates")
	}
	dtos := make([]UpdateDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	page := pagination.Paginate(dtos, params.Limit, func(u UpdateDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	})
	return &page, nil
}
