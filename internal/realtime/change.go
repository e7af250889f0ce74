package realtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table names exposed on the change feed.
const (
	TablePartnerships    = "partnerships"
	TableGoals           = "goals"
	TableCheckIns        = "check_ins"
	TableMessages        = "messages"
	TableProgressUpdates = "progress_updates"
	TableNotifications   = "notifications"
)

var knownTables = []string{
	TablePartnerships,
	TableGoals,
	TableCheckIns,
	TableMessages,
	TableProgressUpdates,
	TableNotifications,
}

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
)

// Change describes one row change pushed to a subscriber. Delivery order relative
// to the HTTP response of the originating mutation is not guaranteed.
type Change struct {
	Table         string     `json:"table"`
	Action        Action     `json:"action"`
	RecordID      uuid.UUID  `json:"record_id"`
	PartnershipID *uuid.UUID `json:"partnership_id,omitempty"`
	EventType     string     `json:"event_type,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// TableFilter selects which tables a subscriber receives. An empty filter admits all.
type TableFilter map[string]struct{}

// ParseTables reads a comma separated table list.
func ParseTables(raw string) (TableFilter, error) {
	filter := TableFilter{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if !isKnownTable(name) {
			return nil, fmt.Errorf("unknown table %q", name)
		}
		filter[name] = struct{}{}
	}
	return filter, nil
}

func (f TableFilter) Allows(table string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[table]
	return ok
}

func isKnownTable(name string) bool {
	for _, table := range knownTables {
		if table == name {
			return true
		}
	}
	return false
}
