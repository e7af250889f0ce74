package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePartnership    OutboxAggregateType = "partnership"
	AggregateInvitation     OutboxAggregateType = "invitation"
	AggregateGoal           OutboxAggregateType = "goal"
	AggregateCheckIn        OutboxAggregateType = "checkin"
	AggregateMessage        OutboxAggregateType = "message"
	AggregateProgressUpdate OutboxAggregateType = "progress_update"
	AggregateIdentity       OutboxAggregateType = "identity"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePartnership,
	AggregateInvitation,
	AggregateGoal,
	AggregateCheckIn,
	AggregateMessage,
	AggregateProgressUpdate,
	AggregateIdentity,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPartnershipRequested       OutboxEventType = "partnership_requested"
	EventPartnershipAccepted        OutboxEventType = "partnership_accepted"
	EventPartnershipDeclined        OutboxEventType = "partnership_declined"
	EventPartnershipFinalized       OutboxEventType = "partnership_finalized"
	EventPartnershipTrialEnded      OutboxEventType = "partnership_trial_ended"
	EventPartnershipTerminated      OutboxEventType = "partnership_terminated"
	EventPartnershipTrialEndingSoon OutboxEventType = "partnership_trial_ending_soon"
	EventInvitationSent             OutboxEventType = "invitation_sent"
	EventInvitationConverted        OutboxEventType = "invitation_converted"
	EventInvitationExpired          OutboxEventType = "invitation_expired"
	EventGoalCreated                OutboxEventType = "goal_created"
	EventGoalCompleted              OutboxEventType = "goal_completed"
	EventGoalAbandoned              OutboxEventType = "goal_abandoned"
	EventCheckInScheduled           OutboxEventType = "checkin_scheduled"
	EventCheckInCompleted           OutboxEventType = "checkin_completed"
	EventCheckInCancelled           OutboxEventType = "checkin_cancelled"
	EventCheckInReminder            OutboxEventType = "checkin_reminder"
	EventMessageSent                OutboxEventType = "message_sent"
	EventProgressRecorded           OutboxEventType = "progress_recorded"
	EventUserRegistered             OutboxEventType = "user_registered"
	EventEmailConfirmationRequested OutboxEventType = "email_confirmation_requested"
	EventPasswordResetRequested     OutboxEventType = "password_reset_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPartnershipRequested,
	EventPartnershipAccepted,
	EventPartnershipDeclined,
	EventPartnershipFinalized,
	EventPartnershipTrialEnded,
	EventPartnershipTerminated,
	EventPartnershipTrialEndingSoon,
	EventInvitationSent,
	EventInvitationConverted,
	EventInvitationExpired,
	EventGoalCreated,
	EventGoalCompleted,
	EventGoalAbandoned,
	EventCheckInScheduled,
	EventCheckInCompleted,
	EventCheckInCancelled,
	EventCheckInReminder,
	EventMessageSent,
	EventProgressRecorded,
	EventUserRegistered,
	EventEmailConfirmationRequested,
	EventPasswordResetRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxEventTypes returns every known event type.
func OutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, len(validOutboxEventTypes))
	copy(out, validOutboxEventTypes)
	return out
}

// OutboxDLQErrorReason records why the relay parked an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	reason := OutboxDLQErrorReason(value)
	if !reason.IsValid() {
		return "", fmt.Errorf("invalid dlq reason %q", value)
	}
	return reason, nil
}
