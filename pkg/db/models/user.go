package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the application profile projected from an Identity.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email     string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	FirstName string    `gorm:"column:first_name;not null;default:''"`
	LastName  string    `gorm:"column:last_name;not null;default:''"`
	Bio       *string   `gorm:"column:bio"`
	AvatarURL *string   `gorm:"column:avatar_url"`
	TimeZone  string    `gorm:"column:time_zone;not null;default:UTC"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
