package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/api/responses"
	"github.com/accountable/accountable-backend/api/validators"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
)

func CreateGoal(svc goals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body goals.CreateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		goal, err := svc.Create(r.Context(), userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, goal)
	}
}

// ListGoals requires partnership_id and optionally narrows by owner_id and status.
func ListGoals(svc goals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		partnershipID, err := validators.ParseQueryUUID(r, "partnership_id", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ownerID, err := validators.ParseQueryUUID(r, "owner_id", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := validators.ParseQueryEnum(r, "status", enums.ParseGoalStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := goals.ListParams{PartnershipID: *partnershipID, OwnerID: ownerID, Status: status}

		items, err := svc.List(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

func GetGoal(svc goals.Service, logg *logger.Logger) http.HandlerFunc {
	return goalHandler(logg, svc.Get)
}

func UpdateGoal(svc goals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "goalID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body goals.UpdateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		goal, err := svc.Update(r.Context(), userID, id, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, goal)
	}
}

func CompleteGoal(svc goals.Service, logg *logger.Logger) http.HandlerFunc {
	return goalHandler(logg, svc.Complete)
}

func AbandonGoal(svc goals.Service, logg *logger.Logger) http.HandlerFunc {
	return goalHandler(logg, svc.Abandon)
}

func goalHandler(logg *logger.Logger, fn func(ctx context.Context, userID, id uuid.UUID) (*goals.GoalDTO, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "goalID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		goal, err := fn(r.Context(), userID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, goal)
	}
}
