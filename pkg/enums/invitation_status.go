package enums

import "fmt"

// InvitationStatus maps to the invitation_status enum in Postgres.
type InvitationStatus string

const (
	InvitationStatusSent     InvitationStatus = "sent"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusExpired  InvitationStatus = "expired"
	InvitationStatusRevoked  InvitationStatus = "revoked"
)

var validInvitationStatuses = []InvitationStatus{
	InvitationStatusSent,
	InvitationStatusAccepted,
	InvitationStatusExpired,
	InvitationStatusRevoked,
}

func (s InvitationStatus) IsValid() bool {
	for _, candidate := range validInvitationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseInvitationStatus(value string) (InvitationStatus, error) {
	for _, candidate := range validInvitationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invitation status %q", value)
}
