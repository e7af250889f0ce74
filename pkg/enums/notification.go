package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypePartnershipRequest   NotificationType = "partnership_request"
	NotificationTypePartnershipAccepted  NotificationType = "partnership_accepted"
	NotificationTypePartnershipDeclined  NotificationType = "partnership_declined"
	NotificationTypePartnershipFinalized NotificationType = "partnership_finalized"
	NotificationTypePartnershipEnded     NotificationType = "partnership_ended"
	NotificationTypeTrialEndingSoon      NotificationType = "trial_ending_soon"
	NotificationTypeGoalCreated          NotificationType = "goal_created"
	NotificationTypeGoalCompleted        NotificationType = "goal_completed"
	NotificationTypeCheckInScheduled     NotificationType = "checkin_scheduled"
	NotificationTypeCheckInReminder      NotificationType = "checkin_reminder"
	NotificationTypeProgressUpdate       NotificationType = "progress_update"
	NotificationTypeNewMessage           NotificationType = "new_message"
)

var validNotificationTypes = []NotificationType{
	NotificationTypePartnershipRequest,
	NotificationTypePartnershipAccepted,
	NotificationTypePartnershipDeclined,
	NotificationTypePartnershipFinalized,
	NotificationTypePartnershipEnded,
	NotificationTypeTrialEndingSoon,
	NotificationTypeGoalCreated,
	NotificationTypeGoalCompleted,
	NotificationTypeCheckInScheduled,
	NotificationTypeCheckInReminder,
	NotificationTypeProgressUpdate,
	NotificationTypeNewMessage,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
