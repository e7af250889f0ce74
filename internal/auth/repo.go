package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
)

// Repository persists auth identities.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, identity *models.Identity) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecordSignIn(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
}

type repository struct {
	repo.Base
}

// NewRepository binds the identities repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, identity *models.Identity) error {
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	return r.DB(ctx).Create(identity).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	var identity models.Identity
	if err := r.DB(ctx).First(&identity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.DB(ctx).Where("lower(email) = lower(?)", email).First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

// MarkConfirmed stamps email_confirmed_at once. It reports false when the
// identity was already confirmed.
func (r *repository) MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.DB(ctx).Model(&models.Identity{}).
		Where("id = ? AND email_confirmed_at IS NULL", id).
		Updates(map[string]any{"email_confirmed_at": at, "updated_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) RecordSignIn(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB(ctx).Model(&models.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_sign_in_at": at, "updated_at": at}).Error
}

func (r *repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	result := r.DB(ctx).Model(&models.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
