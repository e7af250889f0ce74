package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is append-only; only ReadAt is ever updated.
type Message struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PartnershipID uuid.UUID  `gorm:"column:partnership_id;type:uuid;not null"`
	SenderID      uuid.UUID  `gorm:"column:sender_id;type:uuid;not null"`
	Content       string     `gorm:"column:content;not null"`
	ReadAt        *time.Time `gorm:"column:read_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}
