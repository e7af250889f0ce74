package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
)

// Notification stores in-app notification payloads scoped to a user.
type Notification struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	Type          enums.NotificationType `gorm:"column:type;type:notification_type;not null"`
	Title         string                 `gorm:"column:title;type:text;not null"`
	Message       string                 `gorm:"column:message;type:text;not null"`
	Link          *string                `gorm:"column:link;type:text"`
	PartnershipID *uuid.UUID             `gorm:"column:partnership_id;type:uuid"`
	ReadAt        *time.Time             `gorm:"column:read_at;type:timestamptz"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}
