package realtime

import (
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

// ChangeFromEvent maps a decoded domain event to the row change it represents and
// the users who may see it. ok is false for events with no table row behind them.
func ChangeFromEvent(event *registry.ResolvedEvent) (change Change, recipients []uuid.UUID, ok bool) {
	if event == nil {
		return Change{}, nil, false
	}
	eventType := event.Descriptor.EventType
	change = Change{
		Action:     ActionUpdate,
		EventType:  string(eventType),
		OccurredAt: event.Envelope.OccurredAt,
	}

	switch payload := event.Payload.(type) {
	case *payloads.PartnershipTransitionEvent:
		if eventType == enums.EventPartnershipTrialEndingSoon {
			return Change{}, nil, false
		}
		if eventType == enums.EventPartnershipRequested {
			change.Action = ActionInsert
		}
		change.Table = TablePartnerships
		change.RecordID = payload.PartnershipID
		change.PartnershipID = &payload.PartnershipID
		recipients = []uuid.UUID{payload.RequesterID, payload.PartnerID}
	case *payloads.GoalEvent:
		if eventType == enums.EventGoalCreated {
			change.Action = ActionInsert
		}
		change.Table = TableGoals
		change.RecordID = payload.GoalID
		change.PartnershipID = &payload.PartnershipID
		recipients = []uuid.UUID{payload.OwnerID, payload.PartnerID}
	case *payloads.CheckInEvent:
		if eventType == enums.EventCheckInReminder {
			return Change{}, nil, false
		}
		if eventType == enums.EventCheckInScheduled {
			change.Action = ActionInsert
		}
		change.Table = TableCheckIns
		change.RecordID = payload.CheckInID
		change.PartnershipID = &payload.PartnershipID
		recipients = append([]uuid.UUID{payload.CreatedBy}, payload.ParticipantIDs...)
	case *payloads.MessageSentEvent:
		change.Action = ActionInsert
		change.Table = TableMessages
		change.RecordID = payload.MessageID
		change.PartnershipID = &payload.PartnershipID
		recipients = []uuid.UUID{payload.SenderID, payload.RecipientID}
	case *payloads.ProgressRecordedEvent:
		change.Action = ActionInsert
		change.Table = TableProgressUpdates
		change.RecordID = payload.ProgressID
		change.PartnershipID = &payload.PartnershipID
		recipients = []uuid.UUID{payload.UserID, payload.PartnerID}
	default:
		return Change{}, nil, false
	}
	return change, recipients, true
}
