package invitations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
)

// Repository persists pending external invitations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invitation *models.PendingInvitation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PendingInvitation, error)
	FindByToken(ctx context.Context, token string, forUpdate bool) (*models.PendingInvitation, error)
	FindOpen(ctx context.Context, inviterID uuid.UUID, email string) (*models.PendingInvitation, error)
	ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]models.PendingInvitation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PendingInvitation, error)
	SetStatus(ctx context.Context, id uuid.UUID, expected, next enums.InvitationStatus, extra map[string]any) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns an invitations repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, invitation *models.PendingInvitation) error {
	if invitation.ID == uuid.Nil {
		invitation.ID = uuid.New()
	}
	return r.DB(ctx).Create(invitation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PendingInvitation, error) {
	var invitation models.PendingInvitation
	if err := r.DB(ctx).First(&invitation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invitation, nil
}

// FindByToken optionally row-locks the invitation so concurrent conversions serialize.
func (r *repository) FindByToken(ctx context.Context, token string, forUpdate bool) (*models.PendingInvitation, error) {
	query := r.DB(ctx)
	if forUpdate && r.Postgres() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var invitation models.PendingInvitation
	if err := query.Where("token = ?", token).First(&invitation).Error; err != nil {
		return nil, err
	}
	return &invitation, nil
}

func (r *repository) FindOpen(ctx context.Context, inviterID uuid.UUID, email string) (*models.PendingInvitation, error) {
	var invitation models.PendingInvitation
	err := r.DB(ctx).
		Where("inviter_id = ? AND lower(email) = lower(?) AND status = ?", inviterID, email, enums.InvitationStatusSent).
		First(&invitation).Error
	if err != nil {
		return nil, err
	}
	return &invitation, nil
}

func (r *repository) ListByInviter(ctx context.Context, inviterID uuid.UUID) ([]models.PendingInvitation, error) {
	var rows []models.PendingInvitation
	if err := r.DB(ctx).Where("inviter_id = ?", inviterID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListExpired returns sent invitations whose expiry has passed, oldest first.
func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PendingInvitation, error) {
	var rows []models.PendingInvitation
	err := r.DB(ctx).
		Where("status = ? AND expires_at < ?", enums.InvitationStatusSent, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SetStatus moves the invitation from expected to next and reports whether it changed.
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, expected, next enums.InvitationStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": next}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.DB(ctx).
		Model(&models.PendingInvitation{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
