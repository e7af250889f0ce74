package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
)

type CheckIn struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PartnershipID   uuid.UUID           `gorm:"column:partnership_id;type:uuid;not null"`
	CreatedBy       uuid.UUID           `gorm:"column:created_by;type:uuid;not null"`
	ScheduledAt     time.Time           `gorm:"column:scheduled_at;not null"`
	DurationMinutes int                 `gorm:"column:duration_minutes;not null"`
	Notes           *string             `gorm:"column:notes"`
	Status          enums.CheckInStatus `gorm:"column:status;type:checkin_status;not null"`
	CompletedAt     *time.Time          `gorm:"column:completed_at"`
	CancelledAt     *time.Time          `gorm:"column:cancelled_at"`
	ReminderSentAt  *time.Time          `gorm:"column:reminder_sent_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (CheckIn) TableName() string { return "check_ins" }
