package partnerships

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/types"
)

// Role is the caller's slot in a partnership.
type Role string

const (
	RoleRequester Role = "requester"
	RoleRecipient Role = "recipient"
)

// PartnershipDTO is the partnership as seen by one of its members.
type PartnershipDTO struct {
	ID              uuid.UUID               `json:"id"`
	User1ID         uuid.UUID               `json:"user1_id"`
	User2ID         uuid.UUID               `json:"user2_id"`
	Status          enums.PartnershipStatus `json:"status"`
	TrialEndDate    *time.Time              `json:"trial_end_date,omitempty"`
	Agreement       types.Agreement         `json:"agreement"`
	Message         *string                 `json:"message,omitempty"`
	EndedBy         *uuid.UUID              `json:"ended_by,omitempty"`
	StatusChangedAt time.Time               `json:"status_changed_at"`
	CreatedAt       time.Time               `json:"created_at"`
	Role            Role                    `json:"role"`
	Partner         *users.Summary          `json:"partner,omitempty"`
	TrialEndingSoon bool                    `json:"trial_ending_soon"`
	TrialExpired    bool                    `json:"trial_expired"`
	DaysRemaining   *int                    `json:"days_remaining,omitempty"`
	TrialProgress   int                     `json:"trial_progress"`
	AllowedActions  []Action                `json:"allowed_actions"`
}

// CreateInput names the invitee by profile id or by email.
type CreateInput struct {
	InviteeID    *uuid.UUID      `json:"invitee_id,omitempty"`
	InviteeEmail string          `json:"invitee_email,omitempty" validate:"omitempty,email"`
	Agreement    types.Agreement `json:"agreement"`
	Message      *string         `json:"message,omitempty" validate:"omitempty,max=1000"`
}

// CreateResult carries exactly one of a partnership or a pending invitation.
type CreateResult struct {
	Partnership *PartnershipDTO
	Invitation  *models.PendingInvitation
}

// PendingInvitationView is the invitation as returned to its inviter. The token
// only travels by email.
type PendingInvitationView struct {
	ID        uuid.UUID              `json:"id"`
	Email     string                 `json:"email"`
	Status    enums.InvitationStatus `json:"status"`
	Agreement types.Agreement        `json:"agreement"`
	Message   *string                `json:"message,omitempty"`
	ExpiresAt time.Time              `json:"expires_at"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r CreateResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Partnership *PartnershipDTO        `json:"partnership,omitempty"`
		Invitation  *PendingInvitationView `json:"invitation,omitempty"`
	}{Partnership: r.Partnership}
	if inv := r.Invitation; inv != nil {
		out.Invitation = &PendingInvitationView{
			ID:        inv.ID,
			Email:     inv.Email,
			Status:    inv.Status,
			Agreement: inv.Agreement,
			Message:   inv.Message,
			ExpiresAt: inv.ExpiresAt,
			CreatedAt: inv.CreatedAt,
		}
	}
	return json.Marshal(out)
}

// ListParams filters partnerships for a member.
type ListParams struct {
	Status *enums.PartnershipStatus
}

// TransitionResult reports the partnership after a transition and whether it changed anything.
type TransitionResult struct {
	Partnership *PartnershipDTO `json:"partnership"`
	Applied     bool            `json:"applied"`
	Cascade     *CascadeSummary `json:"cascade,omitempty"`
}

// CascadeSummary counts children closed when a partnership ended.
type CascadeSummary struct {
	GoalsAbandoned    int64 `json:"goals_abandoned"`
	CheckInsCancelled int64 `json:"check_ins_cancelled"`
}

type view struct {
	now         time.Time
	trialLength time.Duration
	window      time.Duration
}

func (v view) build(p models.Partnership, viewer uuid.UUID, partner *models.User) *PartnershipDTO {
	dto := &PartnershipDTO{
		ID:              p.ID,
		User1ID:         p.User1ID,
		User2ID:         p.User2ID,
		Status:          p.Status,
		TrialEndDate:    p.TrialEndDate,
		Agreement:       p.Agreement,
		Message:         p.Message,
		EndedBy:         p.EndedBy,
		StatusChangedAt: p.StatusChangedAt,
		CreatedAt:       p.CreatedAt,
		Role:            RoleRequester,
		Partner:         users.SummaryFromModel(partner),
		AllowedActions:  AllowedActions(p, viewer),
	}
	if p.User2ID == viewer {
		dto.Role = RoleRecipient
	}
	trial := DeriveTrial(p, v.now, v.trialLength, v.window)
	dto.TrialEndingSoon = trial.EndingSoon
	dto.TrialExpired = trial.Expired
	dto.DaysRemaining = trial.DaysRemaining
	dto.TrialProgress = trial.Progress
	return dto
}

func trimmedMessage(message *string) *string {
	if message == nil {
		return nil
	}
	value := strings.TrimSpace(*message)
	if value == "" {
		return nil
	}
	return &value
}
