package progress

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, update *models.ProgressUpdate) error
	ListByGoal(ctx context.Context, goalID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ProgressUpdate, error)
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

func (r *repository) Create(ctx context.Context, update *models.ProgressUpdate) error {
	if update.ID == uuid.Nil {
		update.ID = uuid.New()
	}
	return r.DB(ctx).Create(update).Error
}

func (r *repository) ListByGoal(ctx context.Context, goalID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ProgressUpdate, error) {
	var rows []models.ProgressUpdate
	err := r.DB(ctx).Where("goal_id = ?", goalID).Scopes(pagination.Newest(cursor, limit)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
