package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// NullableTime tracks whether a timestamp field was explicitly present in JSON,
// so PATCH payloads can distinguish "clear" (null) from "leave unchanged" (absent).
type NullableTime struct {
	Valid bool
	Value *time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullableTime) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	if bytes.Equal(trimmed, []byte("null")) {
		n.Valid = true
		n.Value = nil
		return nil
	}

	var parsed time.Time
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return err
	}
	n.Valid = true
	n.Value = &parsed
	return nil
}

// MarshalJSON writes null for an explicit clear. Pair the field with omitzero so
// an absent value is left out entirely.
func (n NullableTime) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// IsZero reports whether the field was absent.
func (n NullableTime) IsZero() bool {
	return !n.Valid
}

// Clone returns a copy of the NullableTime.
func (n NullableTime) Clone() NullableTime {
	if n.Value == nil {
		return NullableTime{Valid: n.Valid}
	}
	copy := *n.Value
	return NullableTime{Valid: n.Valid, Value: &copy}
}
