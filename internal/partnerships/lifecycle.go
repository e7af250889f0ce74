package partnerships

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

// Action is a user-driven lifecycle transition.
type Action string

const (
	ActionAccept    Action = "accept"
	ActionDecline   Action = "decline"
	ActionFinalize  Action = "finalize"
	ActionEndTrial  Action = "end_trial"
	ActionTerminate Action = "terminate"
)

type rule struct {
	from          []enums.PartnershipStatus
	to            enums.PartnershipStatus
	recipientOnly bool
	event         enums.OutboxEventType
}

var rules = map[Action]rule{
	ActionAccept: {
		from:          []enums.PartnershipStatus{enums.PartnershipStatusPending},
		to:            enums.PartnershipStatusTrial,
		recipientOnly: true,
		event:         enums.EventPartnershipAccepted,
	},
	ActionDecline: {
		from:          []enums.PartnershipStatus{enums.PartnershipStatusPending},
		to:            enums.PartnershipStatusEnded,
		recipientOnly: true,
		event:         enums.EventPartnershipDeclined,
	},
	ActionFinalize: {
		from:  []enums.PartnershipStatus{enums.PartnershipStatusTrial},
		to:    enums.PartnershipStatusActive,
		event: enums.EventPartnershipFinalized,
	},
	ActionEndTrial: {
		from:  []enums.PartnershipStatus{enums.PartnershipStatusTrial},
		to:    enums.PartnershipStatusEnded,
		event: enums.EventPartnershipTrialEnded,
	},
	ActionTerminate: {
		from: []enums.PartnershipStatus{
			enums.PartnershipStatusPending,
			enums.PartnershipStatusTrial,
			enums.PartnershipStatusActive,
		},
		to:    enums.PartnershipStatusEnded,
		event: enums.EventPartnershipTerminated,
	},
}

// actionOrder fixes the order AllowedActions reports.
var actionOrder = []Action{ActionAccept, ActionDecline, ActionFinalize, ActionEndTrial, ActionTerminate}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	_, ok := rules[a]
	return ok
}

// Target returns the status the action leads to.
func (a Action) Target() enums.PartnershipStatus {
	return rules[a].to
}

func (r rule) allowsFrom(status enums.PartnershipStatus) bool {
	for _, candidate := range r.from {
		if candidate == status {
			return true
		}
	}
	return false
}

// CanTransition reports whether some action moves a partnership from one status to another.
func CanTransition(from, to enums.PartnershipStatus) bool {
	for _, r := range rules {
		if r.to == to && r.allowsFrom(from) {
			return true
		}
	}
	return false
}

// AllowedActions lists what userID may do next. Non-members get nothing.
func AllowedActions(p models.Partnership, userID uuid.UUID) []Action {
	if !p.HasMember(userID) {
		return nil
	}
	out := []Action{}
	for _, action := range actionOrder {
		r := rules[action]
		if !r.allowsFrom(p.Status) {
			continue
		}
		if r.recipientOnly && p.User2ID != userID {
			continue
		}
		out = append(out, action)
	}
	return out
}

// ActionFor resolves the action a status update request maps to.
// Ending a pending request is a decline for the recipient and a withdrawal for the requester.
func ActionFor(p models.Partnership, userID uuid.UUID, target enums.PartnershipStatus) (Action, error) {
	switch target {
	case enums.PartnershipStatusTrial:
		return ActionAccept, nil
	case enums.PartnershipStatusActive:
		return ActionFinalize, nil
	case enums.PartnershipStatusEnded:
		switch p.Status {
		case enums.PartnershipStatusPending:
			if p.User2ID == userID {
				return ActionDecline, nil
			}
			return ActionTerminate, nil
		case enums.PartnershipStatusTrial:
			return ActionEndTrial, nil
		default:
			return ActionTerminate, nil
		}
	case enums.PartnershipStatusPending:
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "a partnership cannot return to pending")
	default:
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "unknown partnership status %q", target)
	}
}

// TrialState is the read-only trial view derived from trial_end_date.
type TrialState struct {
	EndingSoon    bool
	Expired       bool
	DaysRemaining *int
	Progress      int
}

// DeriveTrial computes the trial flags at now. Only trial partnerships carry them.
func DeriveTrial(p models.Partnership, now time.Time, trialLength, window time.Duration) TrialState {
	if p.Status != enums.PartnershipStatusTrial || p.TrialEndDate == nil {
		return TrialState{}
	}
	remaining := p.TrialEndDate.Sub(now)
	state := TrialState{Expired: remaining < 0}

	days := 0
	if remaining > 0 {
		days = int(remaining / (24 * time.Hour))
	}
	state.DaysRemaining = &days
	state.EndingSoon = !state.Expired && remaining <= window

	if trialLength > 0 {
		elapsed := trialLength - remaining
		pct := float64(elapsed) / float64(trialLength) * 100
		state.Progress = int(math.Round(math.Min(100, math.Max(0, pct))))
	}
	return state
}
