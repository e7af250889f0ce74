package messages

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
)

const (
	previewLength   = 50
	previewEllipsis = "..."
)

type MessageDTO struct {
	ID            uuid.UUID  `json:"id"`
	PartnershipID uuid.UUID  `json:"partnership_id"`
	SenderID      uuid.UUID  `json:"sender_id"`
	Content       string     `json:"content"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Mine          bool       `json:"mine"`
}

type SendInput struct {
	PartnershipID uuid.UUID `json:"partnership_id" validate:"required"`
	Content       string    `json:"content" validate:"required"`
}

// UnreadSummary counts unread incoming messages for a user.
type UnreadSummary struct {
	Total         int64               `json:"total"`
	ByPartnership map[uuid.UUID]int64 `json:"by_partnership"`
}

func FromModel(m models.Message, viewer uuid.UUID) MessageDTO {
	return MessageDTO{
		ID:            m.ID,
		PartnershipID: m.PartnershipID,
		SenderID:      m.SenderID,
		Content:       m.Content,
		ReadAt:        m.ReadAt,
		CreatedAt:     m.CreatedAt,
		Mine:          m.SenderID == viewer,
	}
}

// Preview shortens content for notifications, cutting on rune boundaries.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength-len(previewEllipsis)]) + previewEllipsis
}
