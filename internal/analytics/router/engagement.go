package router

import (
	"context"
	"fmt"

	"github.com/accountable/accountable-backend/internal/analytics/types"
	pkgbigquery "github.com/accountable/accountable-backend/pkg/bigquery"
	"github.com/accountable/accountable-backend/pkg/logger"
	outboxpayloads "github.com/accountable/accountable-backend/pkg/outbox/payloads"
)

type engagementHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newEngagementHandler(writer Writer, logg *logger.Logger) Handler {
	return &engagementHandler{writer: writer, logg: logg}
}

func (h *engagementHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	row, err := buildEngagementRow(envelope, payload)
	if err != nil {
		return err
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":     envelope.EventType,
		"partnership_id": row.PartnershipID,
		"subject_id":     row.SubjectID,
	})
	if err := h.writer.InsertEngagement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert engagement row", err)
		return err
	}
	h.logg.Info(logCtx, "engagement row inserted")
	return nil
}

func buildEngagementRow(envelope types.Envelope, payload any) (pkgbigquery.EngagementEventRow, error) {
	row := pkgbigquery.EngagementEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		UserID:     envelope.ActorID,
		OccurredAt: envelope.OccurredAt,
	}

	switch event := payload.(type) {
	case *outboxpayloads.GoalEvent:
		row.PartnershipID = event.PartnershipID.String()
		row.SubjectID = event.GoalID.String()
		row.UserID = event.OwnerID.String()
	case *outboxpayloads.CheckInEvent:
		row.PartnershipID = event.PartnershipID.String()
		row.SubjectID = event.CheckInID.String()
		if row.UserID == "" {
			row.UserID = event.CreatedBy.String()
		}
		minutes := float64(event.DurationMinutes)
		row.Value = &minutes
	case *outboxpayloads.MessageSentEvent:
		row.PartnershipID = event.PartnershipID.String()
		row.SubjectID = event.MessageID.String()
		row.UserID = event.SenderID.String()
	case *outboxpayloads.ProgressRecordedEvent:
		row.PartnershipID = event.PartnershipID.String()
		row.SubjectID = event.GoalID.String()
		row.UserID = event.UserID.String()
		if event.Value.Valid {
			value := event.Value.Decimal.InexactFloat64()
			row.Value = &value
		}
	default:
		return row, fmt.Errorf("%w: unexpected payload %T for %s", ErrInvalidPayload, payload, envelope.EventType)
	}
	return row, nil
}
