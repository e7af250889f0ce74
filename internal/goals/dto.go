package goals

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/types"
)

const maxTitleLength = 200

// GoalDTO is the API shape of a goal. ProgressCount is derived from progress updates.
type GoalDTO struct {
	ID            uuid.UUID        `json:"id"`
	PartnershipID uuid.UUID        `json:"partnership_id"`
	UserID        uuid.UUID        `json:"user_id"`
	Title         string           `json:"title"`
	Description   *string          `json:"description,omitempty"`
	Status        enums.GoalStatus `json:"status"`
	StartDate     time.Time        `json:"start_date"`
	TargetDate    *time.Time       `json:"target_date,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ProgressCount int64            `json:"progress_count"`
}

type CreateInput struct {
	PartnershipID uuid.UUID  `json:"partnership_id" validate:"required"`
	Title         string     `json:"title" validate:"required,max=200"`
	Description   *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	TargetDate    *time.Time `json:"target_date,omitempty"`
}

// UpdateInput patches an active goal. A null target_date clears it.
type UpdateInput struct {
	Title       *string            `json:"title,omitempty" validate:"omitempty,max=200"`
	Description *string            `json:"description,omitempty" validate:"omitempty,max=2000"`
	TargetDate  types.NullableTime `json:"target_date,omitzero"`
}

func (u UpdateInput) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && !u.TargetDate.Valid
}

type ListParams struct {
	PartnershipID uuid.UUID
	OwnerID       *uuid.UUID
	Status        *enums.GoalStatus
}

// FromModel maps a goal row to its DTO.
func FromModel(g models.Goal, progressCount int64) GoalDTO {
	return GoalDTO{
		ID:            g.ID,
		PartnershipID: g.PartnershipID,
		UserID:        g.UserID,
		Title:         g.Title,
		Description:   g.Description,
		Status:        g.Status,
		StartDate:     g.StartDate,
		TargetDate:    g.TargetDate,
		ClosedAt:      g.ClosedAt,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
		ProgressCount: progressCount,
	}
}

func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
