package enums

import "fmt"

// GoalStatus maps to the goal_status enum in Postgres.
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusAbandoned GoalStatus = "abandoned"
)

var validGoalStatuses = []GoalStatus{
	GoalStatusActive,
	GoalStatusCompleted,
	GoalStatusAbandoned,
}

func (s GoalStatus) IsValid() bool {
	for _, candidate := range validGoalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the goal can no longer change status.
func (s GoalStatus) IsTerminal() bool {
	return s == GoalStatusCompleted || s == GoalStatusAbandoned
}

func ParseGoalStatus(value string) (GoalStatus, error) {
	for _, candidate := range validGoalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid goal status %q", value)
}
