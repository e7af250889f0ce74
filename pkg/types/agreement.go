package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Agreement holds the terms two partners proposed when the partnership was requested.
// It is stored as jsonb and carried unchanged from an invitation into the partnership.
type Agreement struct {
	CommunicationFrequency string   `json:"communication_frequency,omitempty"`
	CheckInDays            []string `json:"check_in_days,omitempty"`
	Expectations           string   `json:"expectations,omitempty"`
	CommitmentLevel        string   `json:"commitment_level,omitempty"`
	FeedbackStyle          string   `json:"feedback_style,omitempty"`
}

// IsZero reports whether no term was provided.
func (a Agreement) IsZero() bool {
	return a.CommunicationFrequency == "" &&
		len(a.CheckInDays) == 0 &&
		a.Expectations == "" &&
		a.CommitmentLevel == "" &&
		a.FeedbackStyle == ""
}

// Normalize trims whitespace and lowercases the enumerated terms.
func (a Agreement) Normalize() Agreement {
	out := Agreement{
		CommunicationFrequency: strings.ToLower(strings.TrimSpace(a.CommunicationFrequency)),
		Expectations:           strings.TrimSpace(a.Expectations),
		CommitmentLevel:        strings.ToLower(strings.TrimSpace(a.CommitmentLevel)),
		FeedbackStyle:          strings.ToLower(strings.TrimSpace(a.FeedbackStyle)),
	}
	for _, day := range a.CheckInDays {
		if d := strings.ToLower(strings.TrimSpace(day)); d != "" {
			out.CheckInDays = append(out.CheckInDays, d)
		}
	}
	return out
}

func (a Agreement) Value() (driver.Value, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("agreement: marshal: %w", err)
	}
	return string(raw), nil
}

func (a *Agreement) Scan(value any) error {
	var scanned Agreement
	if _, err := scanJSON("agreement", value, &scanned); err != nil {
		return err
	}
	*a = scanned
	return nil
}
