package progress

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/accountable/accountable-backend/pkg/db/models"
)

type UpdateDTO struct {
	ID          uuid.UUID           `json:"id"`
	GoalID      uuid.UUID           `json:"goal_id"`
	UserID      uuid.UUID           `json:"user_id"`
	Description string              `json:"description"`
	Value       decimal.NullDecimal `json:"value"`
	CreatedAt   time.Time           `json:"created_at"`
}

// CreateInput records progress against a goal. Value is optional and kept to two decimals.
type CreateInput struct {
	GoalID      uuid.UUID        `json:"goal_id" validate:"required"`
	Description string           `json:"description" validate:"required,max=2000"`
	Value       *decimal.Decimal `json:"value,omitempty"`
}

func FromModel(m models.ProgressUpdate) UpdateDTO {
	return UpdateDTO{
		ID:          m.ID,
		GoalID:      m.GoalID,
		UserID:      m.UserID,
		Description: m.Description,
		Value:       m.Value,
		CreatedAt:   m.CreatedAt,
	}
}
