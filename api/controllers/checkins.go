package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/api/responses"
	"github.com/accountable/accountable-backend/api/validators"
	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
)

type updateNotesRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=4000"`
}

func CreateCheckIn(svc checkins.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body checkins.CreateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		checkIn, err := svc.Create(r.Context(), userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, checkIn)
	}
}

// ListCheckIns takes partnership_id plus an optional window (upcoming|past) and status.
func ListCheckIns(svc checkins.Service, logg *logger.Logger) http.HandlerFunc {
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

		params := checkins.ListParams{
			PartnershipID: *partnershipID,
			Window:        checkins.Window(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("window")))),
		}
		if !params.Window.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "window must be upcoming or past").WithDetails(map[string]any{"field": "window"}))
			return
		}
		if params.Status, err = validators.ParseQueryEnum(r, "status", enums.ParseCheckInStatus); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.List(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

func UpdateCheckInNotes(svc checkins.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "checkInID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateNotesRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		checkIn, err := svc.UpdateNotes(r.Context(), userID, id, body.Notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkIn)
	}
}

func CompleteCheckIn(svc checkins.Service, logg *logger.Logger) http.HandlerFunc {
	return checkInHandler(logg, svc.Complete)
}

func CancelCheckIn(svc checkins.Service, logg *logger.Logger) http.HandlerFunc {
	return checkInHandler(logg, svc.Cancel)
}

func checkInHandler(logg *logger.Logger, fn func(ctx context.Context, userID, id uuid.UUID) (*checkins.CheckInDTO, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uuidParam(r, "checkInID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		checkIn, err := fn(r.Context(), userID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkIn)
	}
}
