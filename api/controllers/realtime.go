package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/accountable/accountable-backend/api/responses"
	"github.com/accountable/accountable-backend/internal/realtime"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
)

const realtimeHeartbeat = 25 * time.Second

// StreamChanges serves the caller's change feed as server-sent events. The
// tables query parameter narrows the feed, e.g. ?tables=partnerships,messages.
func StreamChanges(source realtime.Source, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "realtime unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := realtime.ParseTables(r.URL.Query().Get("tables"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tables").WithDetails(map[string]any{"field": "tables"}))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		ctx := r.Context()
		changes, stop, err := source.Stream(ctx, userID, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open change stream"))
			return
		}
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(realtimeHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case change, ok := <-changes:
				if !ok {
					return
				}
				data, err := json.Marshal(change)
				if err != nil {
					if logg != nil {
						logg.Error(ctx, "realtime.encode_failed", err)
					}
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", change.RecordID, change.Table, data)
				flusher.Flush()
			}
		}
	}
}
