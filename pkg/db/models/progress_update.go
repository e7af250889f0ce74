package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProgressUpdate struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	GoalID      uuid.UUID           `gorm:"column:goal_id;type:uuid;not null"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	Description string              `gorm:"column:description;not null"`
	Value       decimal.NullDecimal `gorm:"column:value;type:numeric(12,2)"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}
