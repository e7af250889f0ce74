package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// IdentityMetadata carries the free-form fields supplied at signup.
type IdentityMetadata struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	TimeZone  string `json:"time_zone,omitempty"`
}

// Trimmed returns a copy with surrounding whitespace removed.
func (m IdentityMetadata) Trimmed() IdentityMetadata {
	return IdentityMetadata{
		FirstName: strings.TrimSpace(m.FirstName),
		LastName:  strings.TrimSpace(m.LastName),
		TimeZone:  strings.TrimSpace(m.TimeZone),
	}
}

func (m IdentityMetadata) Value() (driver.Value, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("identity metadata: marshal: %w", err)
	}
	return string(raw), nil
}

func (m *IdentityMetadata) Scan(value any) error {
	var scanned IdentityMetadata
	if _, err := scanJSON("identity metadata", value, &scanned); err != nil {
		return err
	}
	*m = scanned
	return nil
}
