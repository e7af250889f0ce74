package checkins

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
)

const (
	MinDurationMinutes     = 5
	MaxDurationMinutes     = 240
	DefaultDurationMinutes = 30
	maxNotesLength         = 4000
)

// Window selects check-ins relative to now.
type Window string

const (
	WindowAll      Window = ""
	WindowUpcoming Window = "upcoming"
	WindowPast     Window = "past"
)

func (w Window) IsValid() bool {
	return w == WindowAll || w == WindowUpcoming || w == WindowPast
}

type CheckInDTO struct {
	ID              uuid.UUID           `json:"id"`
	PartnershipID   uuid.UUID           `json:"partnership_id"`
	CreatedBy       uuid.UUID           `json:"created_by"`
	ScheduledAt     time.Time           `json:"scheduled_at"`
	DurationMinutes int                 `json:"duration_minutes"`
	EndsAt          time.Time           `json:"ends_at"`
	Notes           *string             `json:"notes,omitempty"`
	Status          enums.CheckInStatus `json:"status"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

type CreateInput struct {
	PartnershipID   uuid.UUID `json:"partnership_id" validate:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"omitempty,min=5,max=240"`
	Notes           *string   `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

type ListParams struct {
	PartnershipID uuid.UUID
	Window        Window
	Status        *enums.CheckInStatus
}

func FromModel(c models.CheckIn) CheckInDTO {
	return CheckInDTO{
		ID:              c.ID,
		PartnershipID:   c.PartnershipID,
		CreatedBy:       c.CreatedBy,
		ScheduledAt:     c.ScheduledAt,
		DurationMinutes: c.DurationMinutes,
		EndsAt:          c.ScheduledAt.Add(time.Duration(c.DurationMinutes) * time.Minute),
		Notes:           c.Notes,
		Status:          c.Status,
		CompletedAt:     c.CompletedAt,
		CancelledAt:     c.CancelledAt,
		CreatedAt:       c.CreatedAt,
	}
}

func normalizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	value := strings.TrimSpace(*notes)
	if value == "" {
		return nil
	}
	return &value
}
