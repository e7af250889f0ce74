package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

const defaultDLQListLimit = 50

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// DLQListParams filters List. A zero Reason matches every entry.
type DLQListParams struct {
	Reason enums.OutboxDLQErrorReason
	Limit  int
}

// InsertTx parks entry. An event parked twice keeps one row carrying the
// latest failure.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"error_reason", "error_message", "attempt_count", "failed_at"}),
	}).Create(&entry).Error
}

func (r *DLQRepository) Get(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	return r.getTx(r.db.WithContext(ctx), eventID)
}

func (r *DLQRepository) getTx(tx *gorm.DB, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := tx.Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no dead-lettered event %s", eventID)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns the most recent failures first.
func (r *DLQRepository) List(ctx context.Context, params DLQListParams) ([]models.OutboxDLQ, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultDLQListLimit
	}
	query := r.db.WithContext(ctx)
	if params.Reason != "" {
		if !params.Reason.IsValid() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid dlq reason %q", params.Reason)
		}
		query = query.Where("error_reason = ?", params.Reason)
	}
	var rows []models.OutboxDLQ
	err := query.
		Order("failed_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Requeue hands a parked event back to the relay with a fresh attempt budget.
// The outbox row is recreated from the DLQ copy when retention already pruned it.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) (*models.OutboxEvent, error) {
	var event models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := r.getTx(tx, eventID)
		if err != nil {
			return err
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ?", eventID).
			Updates(map[string]any{
				"published_at":  nil,
				"attempt_count": 0,
				"last_error":    nil,
			})
		if res.Error != nil {
			return fmt.Errorf("reset outbox row: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			restored := models.OutboxEvent{
				ID:            entry.EventID,
				EventType:     entry.EventType,
				AggregateType: entry.AggregateType,
				AggregateID:   entry.AggregateID,
				Payload:       entry.Payload,
			}
			if err := tx.Create(&restored).Error; err != nil {
				return fmt.Errorf("restore outbox row: %w", err)
			}
		}

		if err := tx.Delete(&models.OutboxDLQ{}, "event_id = ?", eventID).Error; err != nil {
			return fmt.Errorf("delete dlq entry: %w", err)
		}
		return tx.Where("id = ?", eventID).First(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}
