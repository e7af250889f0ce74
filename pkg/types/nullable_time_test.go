package types

import (
	"encoding/json"
	"testing"
)

func TestNullableTimeUnmarshal(t *testing.T) {
	type payload struct {
		TargetDate NullableTime `json:"target_date"`
	}

	var got payload
	if err := json.Unmarshal([]byte(`{"target_date": "2026-03-01T00:00:00Z"}`), &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if !got.TargetDate.Valid || got.TargetDate.Value == nil {
		t.Fatalf("expected valid time, got %v", got.TargetDate)
	}
	if got.TargetDate.Value.Year() != 2026 {
		t.Fatalf("unexpected time %s", got.TargetDate.Value)
	}

	got = payload{}
	if err := json.Unmarshal([]byte(`{"target_date": null}`), &got); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !got.TargetDate.Valid || got.TargetDate.Value != nil {
		t.Fatalf("expected null to be valid but nil, got %v", got.TargetDate)
	}

	got = payload{}
	if err := json.Unmarshal([]byte(`{}`), &got); err != nil {
		t.Fatalf("unmarshal missing: %v", err)
	}
	if got.TargetDate.Valid {
		t.Fatalf("expected invalid flag for missing field, got %+v", got.TargetDate)
	}

	clone := payload{}.TargetDate.Clone()
	if clone.Valid || clone.Value != nil {
		t.Fatalf("expected empty clone, got %+v", clone)
	}
}

func TestNullableTimeMarshalOmitsAbsent(t *testing.T) {
	type payload struct {
		TargetDate NullableTime `json:"target_date,omitzero"`
	}

	out, err := json.Marshal(payload{})
	if err != nil {
		t.Fatalf("marshal absent: %v", err)
	}
	if string(out) != `{}` {
		t.Fatalf("expected absent field to be omitted, got %s", out)
	}

	out, err = json.Marshal(payload{TargetDate: NullableTime{Valid: true}})
	if err != nil {
		t.Fatalf("marshal clear: %v", err)
	}
	if string(out) != `{"target_date":null}` {
		t.Fatalf("expected explicit null, got %s", out)
	}

	var back payload
	when := []byte(`{"target_date":"2026-03-01T00:00:00Z"}`)
	if err := json.Unmarshal(when, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err = json.Marshal(back)
	if err != nil {
		t.Fatalf("marshal value: %v", err)
	}
	if string(out) != string(when) {
		t.Fatalf("expected %s, got %s", when, out)
	}
}
