package partnerships

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
)

// Repository exposes partnership persistence helpers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, partnership *models.Partnership) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Partnership, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *enums.PartnershipStatus) ([]models.Partnership, error)
	ListBetween(ctx context.Context, a, b uuid.UUID) ([]models.Partnership, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected enums.PartnershipStatus, updates map[string]any) (bool, error)
	CascadeEnd(ctx context.Context, id uuid.UUID, now time.Time) (cascadeResult, error)
	ListTrialsAwaitingReminder(ctx context.Context, from, to time.Time, limit int) ([]models.Partnership, error)
}

type cascadeResult struct {
	GoalsAbandoned    int64
	CheckInsCancelled int64
}

type repository struct {
	repo.Base
}

// NewRepository returns a partnerships repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, partnership *models.Partnership) error {
	if partnership.ID == uuid.Nil {
		partnership.ID = uuid.New()
	}
	return r.DB(ctx).Create(partnership).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Partnership, error) {
	var partnership models.Partnership
	if err := r.DB(ctx).First(&partnership, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &partnership, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, status *enums.PartnershipStatus) ([]models.Partnership, error) {
	query := r.DB(ctx).
		Model(&models.Partnership{}).
		Where("user1_id = ? OR user2_id = ?", userID, userID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.Partnership
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBetween returns every partnership between the unordered pair, newest first.
func (r *repository) ListBetween(ctx context.Context, a, b uuid.UUID) ([]models.Partnership, error) {
	var rows []models.Partnership
	err := r.DB(ctx).
		Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)", a, b, b, a).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStatus applies updates only while the row still holds the expected status.
// It reports whether the row was changed.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, expected enums.PartnershipStatus, updates map[string]any) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Partnership{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CascadeEnd closes the open children of an ended partnership.
func (r *repository) CascadeEnd(ctx context.Context, id uuid.UUID, now time.Time) (cascadeResult, error) {
	goals := r.DB(ctx).
		Model(&models.Goal{}).
		Where("partnership_id = ? AND status = ?", id, enums.GoalStatusActive).
		Updates(map[string]any{"status": enums.GoalStatusAbandoned, "closed_at": now})
	if goals.Error != nil {
		return cascadeResult{}, goals.Error
	}
	checkIns := r.DB(ctx).
		Model(&models.CheckIn{}).
		Where("partnership_id = ? AND status = ?", id, enums.CheckInStatusScheduled).
		Updates(map[string]any{"status": enums.CheckInStatusCancelled, "cancelled_at": now})
	if checkIns.Error != nil {
		return cascadeResult{}, checkIns.Error
	}
	return cascadeResult{GoalsAbandoned: goals.RowsAffected, CheckInsCancelled: checkIns.RowsAffected}, nil
}

// ListTrialsAwaitingReminder returns trial partnerships ending within (from, to]
// that have no trial_ending_soon event yet, soonest first.
func (r *repository) ListTrialsAwaitingReminder(ctx context.Context, from, to time.Time, limit int) ([]models.Partnership, error) {
	var rows []models.Partnership
	err := r.DB(ctx).
		Where("status = ? AND trial_end_date > ? AND trial_end_date <= ?", enums.PartnershipStatusTrial, from, to).
		Where("NOT EXISTS (SELECT 1 FROM outbox_events o WHERE o.aggregate_id = partnerships.id AND o.event_type = ?)", enums.EventPartnershipTrialEndingSoon).
		Order("trial_end_date ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
