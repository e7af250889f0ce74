package users

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
)

// ProfileDTO is the public projection of a user profile.
type ProfileDTO struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Bio       *string   `json:"bio,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	TimeZone  string    `json:"time_zone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the compact partner card embedded in partnership responses.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

// CreateProfileInput is the defensive profile creation payload.
type CreateProfileInput struct {
	ID        uuid.UUID `json:"id" validate:"required"`
	Email     string    `json:"email" validate:"required,email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	TimeZone  string    `json:"time_zone"`
}

// UpdateProfileInput is a sparse patch; nil fields are left untouched.
type UpdateProfileInput struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Bio       *string `json:"bio,omitempty" validate:"omitempty,max=1000"`
	TimeZone  *string `json:"time_zone,omitempty" validate:"omitempty,max=64,timezone"`
}

// IsEmpty reports whether the patch changes nothing.
func (u UpdateProfileInput) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Bio == nil && u.TimeZone == nil
}

func (u UpdateProfileInput) columns() map[string]any {
	updates := map[string]any{}
	if u.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*u.FirstName)
	}
	if u.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*u.LastName)
	}
	if u.Bio != nil {
		bio := strings.TrimSpace(*u.Bio)
		if bio == "" {
			updates["bio"] = nil
		} else {
			updates["bio"] = bio
		}
	}
	if u.TimeZone != nil {
		updates["time_zone"] = normalizeTimeZone(*u.TimeZone)
	}
	return updates
}

func FromModel(u *models.User) *ProfileDTO {
	if u == nil {
		return nil
	}
	return &ProfileDTO{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
		AvatarURL: u.AvatarURL,
		TimeZone:  u.TimeZone,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// SummaryFromModel builds a partner card. A nil user yields nil.
func SummaryFromModel(u *models.User) *Summary {
	if u == nil {
		return nil
	}
	return &Summary{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
	}
}

// DisplayName joins first and last name, falling back to the email local part.
func DisplayName(u *models.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return u.Email
}

// ToModel builds the row a profile create inserts.
func (c CreateProfileInput) ToModel() *models.User {
	return &models.User{
		ID:        c.ID,
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		TimeZone:  normalizeTimeZone(c.TimeZone),
	}
}

func normalizeTimeZone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(value); err != nil {
		return "UTC"
	}
	return value
}
