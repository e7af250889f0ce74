package goals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
)

// Repository persists goals.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, goal *models.Goal) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Goal, error)
	FindActive(ctx context.Context, partnershipID, userID uuid.UUID) (*models.Goal, error)
	List(ctx context.Context, params ListParams) ([]models.Goal, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SetStatus(ctx context.Context, id uuid.UUID, expected, next enums.GoalStatus, closedAt time.Time) (bool, error)
	ProgressCounts(ctx context.Context, goalIDs []uuid.UUID) (map[uuid.UUID]int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, goal *models.Goal) error {
	if goal.ID == uuid.Nil {
		goal.ID = uuid.New()
	}
	return r.DB(ctx).Create(goal).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Goal, error) {
	var goal models.Goal
	if err := r.DB(ctx).First(&goal, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &goal, nil
}

func (r *repository) FindActive(ctx context.Context, partnershipID, userID uuid.UUID) (*models.Goal, error) {
	var goal models.Goal
	err := r.DB(ctx).
		Where("partnership_id = ? AND user_id = ? AND status = ?", partnershipID, userID, enums.GoalStatusActive).
		First(&goal).Error
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

func (r *repository) List(ctx context.Context, params ListParams) ([]models.Goal, error) {
	query := r.DB(ctx).Where("partnership_id = ?", params.PartnershipID)
	if params.OwnerID != nil {
		query = query.Where("user_id = ?", *params.OwnerID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	var rows []models.Goal
	if err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.DB(ctx).Model(&models.Goal{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetStatus closes an active goal. It reports false when the goal was no longer in expected.
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, expected, next enums.GoalStatus, closedAt time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Goal{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{"status": next, "closed_at": closedAt})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ProgressCounts(ctx context.Context, goalIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(goalIDs))
	if len(goalIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		GoalID uuid.UUID
		Total  int64
	}
	err := r.DB(ctx).
		Model(&models.ProgressUpdate{}).
		Select("goal_id, COUNT(*) AS total").
		Where("goal_id IN ?", goalIDs).
		Group("goal_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.GoalID] = row.Total
	}
	return out, nil
}
