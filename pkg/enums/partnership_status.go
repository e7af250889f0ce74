package enums

import "fmt"

// PartnershipStatus maps to the partnership_status enum in Postgres.
type PartnershipStatus string

const (
	PartnershipStatusPending PartnershipStatus = "pending"
	PartnershipStatusTrial   PartnershipStatus = "trial"
	PartnershipStatusActive  PartnershipStatus = "active"
	PartnershipStatusEnded   PartnershipStatus = "ended"
)

var validPartnershipStatuses = []PartnershipStatus{
	PartnershipStatusPending,
	PartnershipStatusTrial,
	PartnershipStatusActive,
	PartnershipStatusEnded,
}

// IsValid reports whether the value matches the canonical partnership_status enum.
func (s PartnershipStatus) IsValid() bool {
	for _, candidate := range validPartnershipStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves this status.
func (s PartnershipStatus) IsTerminal() bool {
	return s == PartnershipStatusEnded
}

// AllowsCollaboration reports whether goals, check-ins and messages may be created.
func (s PartnershipStatus) AllowsCollaboration() bool {
	return s == PartnershipStatusTrial || s == PartnershipStatusActive
}

// ParsePartnershipStatus converts raw input into PartnershipStatus.
func ParsePartnershipStatus(value string) (PartnershipStatus, error) {
	for _, candidate := range validPartnershipStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid partnership status %q", value)
}
