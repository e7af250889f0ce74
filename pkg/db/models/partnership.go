package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/types"
)

// Partnership links two profiles. user1 is always the requester.
type Partnership struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	User1ID         uuid.UUID               `gorm:"column:user1_id;type:uuid;not null"`
	User2ID         uuid.UUID               `gorm:"column:user2_id;type:uuid;not null"`
	Status          enums.PartnershipStatus `gorm:"column:status;type:partnership_status;not null"`
	TrialEndDate    *time.Time              `gorm:"column:trial_end_date"`
	Agreement       types.Agreement         `gorm:"column:agreement;type:jsonb;not null"`
	Message         *string                 `gorm:"column:message"`
	InvitationID    *uuid.UUID              `gorm:"column:invitation_id;type:uuid"`
	EndedBy         *uuid.UUID              `gorm:"column:ended_by;type:uuid"`
	StatusChangedAt time.Time               `gorm:"column:status_changed_at;not null"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// HasMember reports whether userID occupies either slot.
func (p Partnership) HasMember(userID uuid.UUID) bool {
	return p.User1ID == userID || p.User2ID == userID
}

// Counterpart returns the other member, or uuid.Nil if userID is not a member.
func (p Partnership) Counterpart(userID uuid.UUID) uuid.UUID {
	switch userID {
	case p.User1ID:
		return p.User2ID
	case p.User2ID:
		return p.User1ID
	default:
		return uuid.Nil
	}
}
