package router

import (
	"context"
	"fmt"

	"github.com/accountable/accountable-backend/internal/analytics/types"
	pkgbigquery "github.com/accountable/accountable-backend/pkg/bigquery"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	outboxpayloads "github.com/accountable/accountable-backend/pkg/outbox/payloads"
)

type partnershipHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPartnershipHandler(writer Writer, logg *logger.Logger) Handler {
	return &partnershipHandler{writer: writer, logg: logg}
}

func (h *partnershipHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.PartnershipTransitionEvent)
	if !ok {
		return fmt.Errorf("%w: expected partnership transition for %s", ErrInvalidPayload, envelope.EventType)
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":     envelope.EventType,
		"partnership_id": event.PartnershipID,
		"to_status":      event.ToStatus,
	})

	row := pkgbigquery.PartnershipEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		PartnershipID: event.PartnershipID.String(),
		RequesterID:   event.RequesterID.String(),
		PartnerID:     event.PartnerID.String(),
		ActorID:       envelope.ActorID,
		FromStatus:    string(event.FromStatus),
		ToStatus:      string(event.ToStatus),
		TrialEndDate:  event.TrialEndDate,
		OccurredAt:    envelope.OccurredAt,
	}
	if event.ActorID != nil {
		row.ActorID = event.ActorID.String()
	}

	if err := h.writer.InsertPartnership(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert partnership row", err)
		return err
	}
	h.logg.Info(logCtx, "partnership row inserted")
	return nil
}

// Invitations land in the lifecycle table too: a sent invitation is the top
// of the funnel for a partner who has no account yet.
type invitationHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newInvitationHandler(writer Writer, logg *logger.Logger) Handler {
	return &invitationHandler{writer: writer, logg: logg}
}

func (h *invitationHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.InvitationEvent)
	if !ok {
		return fmt.Errorf("%w: expected invitation for %s", ErrInvalidPayload, envelope.EventType)
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":    envelope.EventType,
		"invitation_id": event.InvitationID,
	})

	row := pkgbigquery.PartnershipEventRow{
		EventID:     envelope.EventID,
		EventType:   string(envelope.EventType),
		RequesterID: event.InviterID.String(),
		ActorID:     envelope.ActorID,
		ToStatus:    string(enums.InvitationStatusSent),
		OccurredAt:  envelope.OccurredAt,
	}
	if event.PartnershipID != nil {
		row.PartnershipID = event.PartnershipID.String()
		row.FromStatus = string(enums.InvitationStatusSent)
		row.ToStatus = string(enums.InvitationStatusAccepted)
	}
	if event.AcceptedBy != nil {
		row.PartnerID = event.AcceptedBy.String()
	}

	if err := h.writer.InsertPartnership(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert invitation row", err)
		return err
	}
	h.logg.Info(logCtx, "invitation row inserted")
	return nil
}
