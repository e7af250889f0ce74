package messages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	List(ctx context.Context, partnershipID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, partnershipID, readerID uuid.UUID, at time.Time) (int64, error)
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, message *models.Message) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	return r.DB(ctx).Create(message).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var message models.Message
	if err := r.DB(ctx).First(&message, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// List returns newest messages first, strictly older than cursor when one is given.
func (r *repository) List(ctx context.Context, partnershipID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Message, error) {
	var rows []models.Message
	err := r.DB(ctx).
		Where("partnership_id = ?", partnershipID).
		Scopes(pagination.Newest(cursor, limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) MarkAllRead(ctx context.Context, partnershipID, readerID uuid.UUID, at time.Time) (int64, error) {
	result := r.DB(ctx).
		Model(&models.Message{}).
		Where("partnership_id = ? AND sender_id <> ? AND read_at IS NULL", partnershipID, readerID).
		Update("read_at", at)
	return result.RowsAffected, result.Error
}

// UnreadCounts groups unread incoming messages by partnership for userID.
func (r *repository) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int64, error) {
	var rows []struct {
		PartnershipID uuid.UUID
		Total         int64
	}
	err := r.DB(ctx).
		Table("messages AS m").
		Select("m.partnership_id AS partnership_id, COUNT(*) AS total").
		Joins("JOIN partnerships p ON p.id = m.partnership_id").
		Where("(p.user1_id = ? OR p.user2_id = ?) AND m.sender_id <> ? AND m.read_at IS NULL", userID, userID, userID).
		Group("m.partnership_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		out[row.PartnershipID] = row.Total
	}
	return out, nil
}
