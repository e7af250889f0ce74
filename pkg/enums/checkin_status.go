package enums

import "fmt"

// CheckInStatus maps to the checkin_status enum in Postgres.
type CheckInStatus string

const (
	CheckInStatusScheduled CheckInStatus = "scheduled"
	CheckInStatusCompleted CheckInStatus = "completed"
	CheckInStatusCancelled CheckInStatus = "cancelled"
)

var validCheckInStatuses = []CheckInStatus{
	CheckInStatusScheduled,
	CheckInStatusCompleted,
	CheckInStatusCancelled,
}

func (s CheckInStatus) IsValid() bool {
	for _, candidate := range validCheckInStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s CheckInStatus) IsTerminal() bool {
	return s == CheckInStatusCompleted || s == CheckInStatusCancelled
}

func ParseCheckInStatus(value string) (CheckInStatus, error) {
	for _, candidate := range validCheckInStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid check-in status %q", value)
}
