package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
)

type Goal struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PartnershipID uuid.UUID        `gorm:"column:partnership_id;type:uuid;not null"`
	UserID        uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	Title         string           `gorm:"column:title;not null"`
	Description   *string          `gorm:"column:description"`
	Status        enums.GoalStatus `gorm:"column:status;type:goal_status;not null"`
	StartDate     time.Time        `gorm:"column:start_date;not null"`
	TargetDate    *time.Time       `gorm:"column:target_date"`
	ClosedAt      *time.Time       `gorm:"column:closed_at"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
