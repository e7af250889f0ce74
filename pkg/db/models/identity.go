package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/types"
)

// Identity is the authentication record. Its id is shared with the user profile.
type Identity struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string                 `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash     string                 `gorm:"column:password_hash;not null"`
	Metadata         types.IdentityMetadata `gorm:"column:metadata;type:jsonb;not null"`
	EmailConfirmedAt *time.Time             `gorm:"column:email_confirmed_at"`
	LastSignInAt     *time.Time             `gorm:"column:last_sign_in_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string { return "auth_identities" }
