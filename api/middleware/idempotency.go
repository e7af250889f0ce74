package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/accountable/accountable-backend/api/responses"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	pkgredis "github.com/accountable/accountable-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	standardReplayTTL  = 24 * time.Hour
	lifecycleReplayTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL          = 2 * time.Minute
	maxIdempotencyKeyLen = 255
)

// ReplayStore keeps recorded responses per caller and Idempotency-Key.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Route globs use path.Match so they fit both chi patterns and raw paths.
var idempotentRoutes = []struct {
	method string
	glob   string
	ttl    time.Duration
}{
	{http.MethodPost, "/api/v1/partnerships", standardReplayTTL},
	{http.MethodPost, "/api/v1/invitations", standardReplayTTL},
	{http.MethodPost, "/api/v1/goals", standardReplayTTL},
	{http.MethodPost, "/api/v1/checkins", standardReplayTTL},
	{http.MethodPost, "/api/v1/messages", standardReplayTTL},
	{http.MethodPost, "/api/v1/progress", standardReplayTTL},
	{http.MethodPost, "/api/v1/notifications/*/read", standardReplayTTL},
	{http.MethodPost, "/api/v1/notifications/read-all", standardReplayTTL},

	{http.MethodPost, "/api/v1/partnerships/*/accept", lifecycleReplayTTL},
	{http.MethodPost, "/api/v1/partnerships/*/decline", lifecycleReplayTTL},
	{http.MethodPost, "/api/v1/partnerships/*/finalize", lifecycleReplayTTL},
	{http.MethodPost, "/api/v1/partnerships/*/end-trial", lifecycleReplayTTL},
	{http.MethodPost, "/api/v1/partnerships/*/terminate", lifecycleReplayTTL},
	{http.MethodPatch, "/api/v1/partnerships/*/status", lifecycleReplayTTL},
}

type replayRecord struct {
	InFlight    bool              `json:"in_flight,omitempty"`
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Header      map[string]string `json:"header,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

// replayedHeaders are the response headers worth handing back on a replay.
var replayedHeaders = []string{"Content-Type", "Location"}

// Idempotency makes the listed mutations safe to retry. The first request with
// a key claims it, runs, and records its response; repeats get that response
// back. Server errors release the key so the client can try again.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := idempotencyTTL(r.Method, idempotencyRoute(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			claim, _ := json.Marshal(replayRecord{InFlight: true, RequestHash: fingerprint})
			claimed, err := store.SetNX(ctx, key, string(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(ctx, store, key, fingerprint, w, logg)
				return
			}

			rec := &recordingWriter{ResponseWriter: w}
			finished := false
			defer func() {
				if !finished {
					release(ctx, store, key, logg)
				}
			}()
			next.ServeHTTP(rec, r)
			finished = true

			if rec.statusCode() >= http.StatusInternalServerError {
				release(ctx, store, key, logg)
				return
			}
			record := replayRecord{
				RequestHash: fingerprint,
				Status:      rec.statusCode(),
				Body:        rec.body.Bytes(),
			}
			for _, name := range replayedHeaders {
				if value := rec.Header().Get(name); value != "" {
					if record.Header == nil {
						record.Header = map[string]string{}
					}
					record.Header[name] = value
				}
			}
			payload, err := json.Marshal(record)
			if err == nil {
				err = store.Set(ctx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(logg.WithField(ctx, "idempotency_key", clientKey), "idempotency.record_failed", err)
			}
		})
	}
}

func replay(ctx context.Context, store ReplayStore, key, fingerprint string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && stored == "") {
		// the claim expired between SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != fingerprint {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.InFlight {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}

	for name, value := range record.Header {
		w.Header().Set(name, value)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

func release(ctx context.Context, store ReplayStore, key string, logg *logger.Logger) {
	if err := store.Del(context.WithoutCancel(ctx), key); err != nil && logg != nil {
		logg.Error(ctx, "idempotency.release_failed", err)
	}
}

// replayScope keeps keys from different callers and endpoints apart.
func replayScope(r *http.Request) string {
	return strings.Join([]string{callerKeyPart(r.Context()), r.Method, r.URL.Path}, "|")
}

func requestFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// idempotencyRoute falls back to the raw path while chi only knows the "/*"
// prefix of a mounted sub-router.
func idempotencyRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "/*") {
			return pattern
		}
	}
	return r.URL.Path
}

func idempotencyTTL(method, route string) (time.Duration, bool) {
	if route == "" {
		return 0, false
	}
	route = strings.TrimSuffix(route, "/")
	for _, candidate := range idempotentRoutes {
		if candidate.method != method {
			continue
		}
		if matched, _ := path.Match(candidate.glob, route); matched {
			return candidate.ttl, true
		}
	}
	return 0, false
}

type recordingWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
