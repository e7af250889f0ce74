package checkins

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, checkIn *models.CheckIn) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckIn, error)
	List(ctx context.Context, params ListParams, now time.Time) ([]models.CheckIn, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error
	SetStatus(ctx context.Context, id uuid.UUID, next enums.CheckInStatus, at time.Time) (bool, error)
	ListDueForReminder(ctx context.Context, from, to time.Time, limit int) ([]models.CheckIn, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
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

func (r *repository) Create(ctx context.Context, checkIn *models.CheckIn) error {
	if checkIn.ID == uuid.Nil {
		checkIn.ID = uuid.New()
	}
	return r.DB(ctx).Create(checkIn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckIn, error) {
	var checkIn models.CheckIn
	if err := r.DB(ctx).First(&checkIn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &checkIn, nil
}

// List orders upcoming check-ins soonest first and everything else most recent first.
func (r *repository) List(ctx context.Context, params ListParams, now time.Time) ([]models.CheckIn, error) {
	query := r.DB(ctx).Where("partnership_id = ?", params.PartnershipID)
	switch params.Window {
	case WindowUpcoming:
		query = query.Where("scheduled_at >= ?", now).Order("scheduled_at ASC")
	case WindowPast:
		query = query.Where("scheduled_at < ?", now).Order("scheduled_at DESC")
	default:
		query = query.Order("scheduled_at DESC")
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	var rows []models.CheckIn
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	result := r.DB(ctx).Model(&models.CheckIn{}).Where("id = ?", id).Update("notes", notes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetStatus closes a scheduled check-in and stamps the matching timestamp column.
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, next enums.CheckInStatus, at time.Time) (bool, error) {
	updates := map[string]any{"status": next}
	switch next {
	case enums.CheckInStatusCompleted:
		updates["completed_at"] = at
	case enums.CheckInStatusCancelled:
		updates["cancelled_at"] = at
	}
	result := r.DB(ctx).
		Model(&models.CheckIn{}).
		Where("id = ? AND status = ?", id, enums.CheckInStatusScheduled).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListDueForReminder returns scheduled check-ins starting in [from, to) that have not been reminded.
func (r *repository) ListDueForReminder(ctx context.Context, from, to time.Time, limit int) ([]models.CheckIn, error) {
	var rows []models.CheckIn
	err := r.DB(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND scheduled_at >= ? AND scheduled_at < ?", enums.CheckInStatusScheduled, from, to).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.CheckIn{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		Update("reminder_sent_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
