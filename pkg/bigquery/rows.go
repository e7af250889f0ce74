package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// PartnershipEventRow is one lifecycle transition in the partnership_events table.
type PartnershipEventRow struct {
	EventID       string
	EventType     string
	PartnershipID string
	RequesterID   string
	PartnerID     string
	ActorID       string
	FromStatus    string
	ToStatus      string
	TrialEndDate  *time.Time
	OccurredAt    time.Time
}

func (r PartnershipEventRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"event_id":       r.EventID,
		"event_type":     r.EventType,
		"partnership_id": r.PartnershipID,
		"requester_id":   r.RequesterID,
		"partner_id":     r.PartnerID,
		"to_status":      r.ToStatus,
		"occurred_at":    r.OccurredAt.UTC(),
	}
	if r.ActorID != "" {
		row["actor_id"] = r.ActorID
	}
	if r.FromStatus != "" {
		row["from_status"] = r.FromStatus
	}
	if r.TrialEndDate != nil {
		row["trial_end_date"] = r.TrialEndDate.UTC()
	}
	// event id doubles as the streaming insert id so redeliveries dedupe
	return row, r.EventID, nil
}

// EngagementEventRow records goal, check-in, message and progress activity.
type EngagementEventRow struct {
	EventID       string
	EventType     string
	PartnershipID string
	UserID        string
	SubjectID     string
	Value         *float64
	OccurredAt    time.Time
}

func (r EngagementEventRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"event_id":       r.EventID,
		"event_type":     r.EventType,
		"partnership_id": r.PartnershipID,
		"user_id":        r.UserID,
		"subject_id":     r.SubjectID,
		"occurred_at":    r.OccurredAt.UTC(),
	}
	if r.Value != nil {
		row["value"] = *r.Value
	}
	return row, r.EventID, nil
}
