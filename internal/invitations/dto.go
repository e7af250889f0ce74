package invitations

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/types"
)

// CreateInput invites an email address that has no profile yet.
type CreateInput struct {
	Email     string          `json:"email" validate:"required,email"`
	Agreement types.Agreement `json:"agreement"`
	Message   *string         `json:"message,omitempty" validate:"omitempty,max=1000"`
}

// InvitationDTO is what the inviter sees. The token is never exposed here.
type InvitationDTO struct {
	ID            uuid.UUID              `json:"id"`
	Email         string                 `json:"email"`
	Agreement     types.Agreement        `json:"agreement"`
	Message       *string                `json:"message,omitempty"`
	Status        enums.InvitationStatus `json:"status"`
	ExpiresAt     time.Time              `json:"expires_at"`
	PartnershipID *uuid.UUID             `json:"partnership_id,omitempty"`
	AcceptedAt    *time.Time             `json:"accepted_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// LookupResult is the public view of a redeemable token.
type LookupResult struct {
	Valid       bool            `json:"valid"`
	Email       string          `json:"email"`
	InviterName string          `json:"inviter_name"`
	Message     string          `json:"message,omitempty"`
	Agreement   types.Agreement `json:"agreement"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

func FromModel(m *models.PendingInvitation) *InvitationDTO {
	if m == nil {
		return nil
	}
	return &InvitationDTO{
		ID:            m.ID,
		Email:         m.Email,
		Agreement:     m.Agreement,
		Message:       m.Message,
		Status:        m.Status,
		ExpiresAt:     m.ExpiresAt,
		PartnershipID: m.PartnershipID,
		AcceptedAt:    m.AcceptedAt,
		CreatedAt:     m.CreatedAt,
	}
}
