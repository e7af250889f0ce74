package payloads

import (
	"time"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PartnershipTransitionEvent covers every partnership lifecycle event.
// RequesterID is always user1 and PartnerID user2.
type PartnershipTransitionEvent struct {
	PartnershipID uuid.UUID               `json:"partnership_id"`
	RequesterID   uuid.UUID               `json:"requester_id"`
	PartnerID     uuid.UUID               `json:"partner_id"`
	ActorID       *uuid.UUID              `json:"actor_id,omitempty"`
	FromStatus    enums.PartnershipStatus `json:"from_status,omitempty"`
	ToStatus      enums.PartnershipStatus `json:"to_status"`
	TrialEndDate  *time.Time              `json:"trial_end_date,omitempty"`
	DaysRemaining *int                    `json:"days_remaining,omitempty"`
	Message       string                  `json:"message,omitempty"`
}

// InvitationEvent is emitted when an invitation is sent, converted or expires.
// Token is only populated on invitation_sent so the mailer can build the link.
type InvitationEvent struct {
	InvitationID  uuid.UUID  `json:"invitation_id"`
	InviterID     uuid.UUID  `json:"inviter_id"`
	InviterName   string     `json:"inviter_name,omitempty"`
	Email         string     `json:"email"`
	Token         string     `json:"token,omitempty"`
	Message       string     `json:"message,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	PartnershipID *uuid.UUID `json:"partnership_id,omitempty"`
	AcceptedBy    *uuid.UUID `json:"accepted_by,omitempty"`
}

type GoalEvent struct {
	GoalID        uuid.UUID        `json:"goal_id"`
	PartnershipID uuid.UUID        `json:"partnership_id"`
	OwnerID       uuid.UUID        `json:"owner_id"`
	PartnerID     uuid.UUID        `json:"partner_id"`
	Title         string           `json:"title"`
	Status        enums.GoalStatus `json:"status"`
}

type CheckInEvent struct {
	CheckInID       uuid.UUID           `json:"checkin_id"`
	PartnershipID   uuid.UUID           `json:"partnership_id"`
	CreatedBy       uuid.UUID           `json:"created_by"`
	ParticipantIDs  []uuid.UUID         `json:"participant_ids"`
	ScheduledAt     time.Time           `json:"scheduled_at"`
	DurationMinutes int                 `json:"duration_minutes"`
	Status          enums.CheckInStatus `json:"status"`
}

type MessageSentEvent struct {
	MessageID     uuid.UUID `json:"message_id"`
	PartnershipID uuid.UUID `json:"partnership_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderName    string    `json:"sender_name,omitempty"`
	RecipientID   uuid.UUID `json:"recipient_id"`
	Preview       string    `json:"preview"`
}

type ProgressRecordedEvent struct {
	ProgressID    uuid.UUID           `json:"progress_id"`
	GoalID        uuid.UUID           `json:"goal_id"`
	GoalTitle     string              `json:"goal_title"`
	PartnershipID uuid.UUID           `json:"partnership_id"`
	UserID        uuid.UUID           `json:"user_id"`
	PartnerID     uuid.UUID           `json:"partner_id"`
	Description   string              `json:"description"`
	Value         decimal.NullDecimal `json:"value"`
}

type UserRegisteredEvent struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// EmailConfirmationRequestedEvent carries the single-use confirmation token to the mailer.
type EmailConfirmationRequestedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PasswordResetRequestedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
