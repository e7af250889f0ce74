package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/types"
)

// PendingInvitation targets an email with no profile yet. It converts into a
// Partnership when the invitee registers with Token.
type PendingInvitation struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string                 `gorm:"column:email;type:text;not null"`
	InviterID     uuid.UUID              `gorm:"column:inviter_id;type:uuid;not null"`
	Token         string                 `gorm:"column:token;type:text;not null;uniqueIndex"`
	Agreement     types.Agreement        `gorm:"column:agreement;type:jsonb;not null"`
	Message       *string                `gorm:"column:message"`
	Status        enums.InvitationStatus `gorm:"column:status;type:invitation_status;not null"`
	ExpiresAt     time.Time              `gorm:"column:expires_at;not null"`
	PartnershipID *uuid.UUID             `gorm:"column:partnership_id;type:uuid"`
	AcceptedAt    *time.Time             `gorm:"column:accepted_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
