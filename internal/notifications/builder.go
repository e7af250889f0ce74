package notifications

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

// Build derives the per-user notifications for a domain event. The actor of a
// transition is never notified about their own action.
func Build(event *registry.ResolvedEvent) []models.Notification {
	if event == nil {
		return nil
	}
	var actor uuid.UUID
	if event.Envelope.Actor != nil {
		actor = event.Envelope.Actor.UserID
	}

	switch payload := event.Payload.(type) {
	case *payloads.PartnershipTransitionEvent:
		return buildPartnership(event.Descriptor.EventType, actor, payload)
	case *payloads.GoalEvent:
		return buildGoal(event.Descriptor.EventType, payload)
	case *payloads.CheckInEvent:
		return buildCheckIn(event.Descriptor.EventType, payload)
	case *payloads.MessageSentEvent:
		title := "New message"
		if name := strings.TrimSpace(payload.SenderName); name != "" {
			title = "New message from " + name
		}
		return []models.Notification{
			notification(payload.RecipientID, enums.NotificationTypeNewMessage, title, payload.Preview, payload.PartnershipID,
				fmt.Sprintf("/partnerships/%s/messages", payload.PartnershipID)),
		}
	case *payloads.ProgressRecordedEvent:
		return []models.Notification{
			notification(payload.PartnerID, enums.NotificationTypeProgressUpdate,
				fmt.Sprintf("Progress on %q", payload.GoalTitle), payload.Description, payload.PartnershipID,
				fmt.Sprintf("/goals/%s", payload.GoalID)),
		}
	}
	return nil
}

func buildPartnership(eventType enums.OutboxEventType, actor uuid.UUID, p *payloads.PartnershipTransitionEvent) []models.Notification {
	if p.ActorID != nil && actor == uuid.Nil {
		actor = *p.ActorID
	}
	link := fmt.Sprintf("/partnerships/%s", p.PartnershipID)

	var (
		kind    enums.NotificationType
		title   string
		message string
		to      []uuid.UUID
	)
	switch eventType {
	case enums.EventPartnershipRequested:
		kind = enums.NotificationTypePartnershipRequest
		title = "New partnership request"
		message = "Someone wants you as their accountability partner."
		if text := strings.TrimSpace(p.Message); text != "" {
			message = text
		}
		to = []uuid.UUID{p.PartnerID}
	case enums.EventPartnershipAccepted:
		kind = enums.NotificationTypePartnershipAccepted
		title = "Partnership accepted"
		message = "Your partnership request was accepted and the trial has started."
		if p.DaysRemaining != nil {
			message = fmt.Sprintf("Your partnership request was accepted. The trial runs for %d days.", *p.DaysRemaining)
		}
		to = counterpart(actor, p)
	case enums.EventPartnershipDeclined:
		kind = enums.NotificationTypePartnershipDeclined
		title = "Partnership request declined"
		message = "Your partnership request was declined."
		to = counterpart(actor, p)
	case enums.EventPartnershipFinalized:
		kind = enums.NotificationTypePartnershipFinalized
		title = "Partnership is now active"
		message = "Your partner confirmed the partnership after the trial."
		to = counterpart(actor, p)
	case enums.EventPartnershipTrialEnded:
		kind = enums.NotificationTypePartnershipEnded
		title = "Trial ended"
		message = "Your partner ended the trial."
		to = counterpart(actor, p)
	case enums.EventPartnershipTerminated:
		kind = enums.NotificationTypePartnershipEnded
		title = "Partnership ended"
		message = "Your partner ended the partnership."
		to = counterpart(actor, p)
	case enums.EventPartnershipTrialEndingSoon:
		kind = enums.NotificationTypeTrialEndingSoon
		title = "Trial ending soon"
		message = "Your trial is ending soon. Decide whether to continue the partnership."
		if p.DaysRemaining != nil {
			message = fmt.Sprintf("Your trial ends in %d day(s). Decide whether to continue the partnership.", *p.DaysRemaining)
		}
		to = []uuid.UUID{p.RequesterID, p.PartnerID}
	default:
		return nil
	}

	out := make([]models.Notification, 0, len(to))
	for _, userID := range to {
		out = append(out, notification(userID, kind, title, message, p.PartnershipID, link))
	}
	return out
}

func buildGoal(eventType enums.OutboxEventType, g *payloads.GoalEvent) []models.Notification {
	link := fmt.Sprintf("/goals/%s", g.GoalID)
	switch eventType {
	case enums.EventGoalCreated:
		return []models.Notification{
			notification(g.PartnerID, enums.NotificationTypeGoalCreated, "New goal", fmt.Sprintf("Your partner set a new goal: %s", g.Title), g.PartnershipID, link),
		}
	case enums.EventGoalCompleted:
		return []models.Notification{
			notification(g.PartnerID, enums.NotificationTypeGoalCompleted, "Goal completed", fmt.Sprintf("Your partner completed %q.", g.Title), g.PartnershipID, link),
		}
	}
	return nil
}

func buildCheckIn(eventType enums.OutboxEventType, c *payloads.CheckInEvent) []models.Notification {
	link := fmt.Sprintf("/partnerships/%s/checkins", c.PartnershipID)
	when := c.ScheduledAt.UTC().Format("Mon Jan 2 15:04 MST")

	var out []models.Notification
	for _, userID := range c.ParticipantIDs {
		switch eventType {
		case enums.EventCheckInScheduled:
			if userID == c.CreatedBy {
				continue
			}
			out = append(out, notification(userID, enums.NotificationTypeCheckInScheduled, "Check-in scheduled",
				fmt.Sprintf("A %d minute check-in was scheduled for %s.", c.DurationMinutes, when), c.PartnershipID, link))
		case enums.EventCheckInReminder:
			out = append(out, notification(userID, enums.NotificationTypeCheckInReminder, "Upcoming check-in",
				fmt.Sprintf("Your check-in starts at %s.", when), c.PartnershipID, link))
		}
	}
	return out
}

// counterpart returns the member who did not act. Unknown actors notify both sides.
func counterpart(actor uuid.UUID, p *payloads.PartnershipTransitionEvent) []uuid.UUID {
	switch actor {
	case p.RequesterID:
		return []uuid.UUID{p.PartnerID}
	case p.PartnerID:
		return []uuid.UUID{p.RequesterID}
	default:
		return []uuid.UUID{p.RequesterID, p.PartnerID}
	}
}

func notification(userID uuid.UUID, kind enums.NotificationType, title, message string, partnershipID uuid.UUID, link string) models.Notification {
	pid := partnershipID
	return models.Notification{
		UserID:        userID,
		Type:          kind,
		Title:         title,
		Message:       strings.TrimSpace(message),
		Link:          stringPtr(link),
		PartnershipID: &pid,
	}
}

func stringPtr(value string) *string {
	return &value
}
