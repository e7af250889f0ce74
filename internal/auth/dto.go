package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/types"
)

// SignUpRequest registers a new identity. InvitationToken converts a pending
// external invitation into a trial partnership.
type SignUpRequest struct {
	Email           string                 `json:"email" validate:"required,email"`
	Password        string                 `json:"password" validate:"required" sanitize:"-"`
	Metadata        types.IdentityMetadata `json:"metadata"`
	InvitationToken string                 `json:"invitation_token,omitempty"`
}

// SignInRequest captures the user credentials sent to the signin endpoint.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required" sanitize:"-"`
}

type RefreshRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ConfirmRequest struct {
	Token string `json:"token" validate:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required" sanitize:"-"`
}

// IdentityDTO is the authenticated identity as clients see it.
type IdentityDTO struct {
	ID               uuid.UUID              `json:"id"`
	Email            string                 `json:"email"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time             `json:"last_sign_in_at,omitempty"`
	Metadata         types.IdentityMetadata `json:"user_metadata"`
	CreatedAt        time.Time              `json:"created_at"`
}

// SessionDTO is a freshly minted token pair.
type SessionDTO struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         IdentityDTO `json:"user"`
}

// SignUpResult mirrors the signup contract: Session is nil while the email
// still needs confirming.
type SignUpResult struct {
	Identity                  IdentityDTO `json:"identity"`
	Session                   *SessionDTO `json:"session"`
	EmailConfirmationRequired bool        `json:"email_confirmation_required"`
	PartnershipID             *uuid.UUID  `json:"partnership_id,omitempty"`
}

// SignInResult carries the identity and its new session.
type SignInResult struct {
	Identity IdentityDTO `json:"identity"`
	Session  SessionDTO  `json:"session"`
}

// CurrentSession describes the session behind the presented access token.
type CurrentSession struct {
	User      IdentityDTO `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func identityFromModel(m *models.Identity) IdentityDTO {
	return IdentityDTO{
		ID:               m.ID,
		Email:            m.Email,
		EmailConfirmedAt: m.EmailConfirmedAt,
		LastSignInAt:     m.LastSignInAt,
		Metadata:         m.Metadata,
		CreatedAt:        m.CreatedAt,
	}
}
