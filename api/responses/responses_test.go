package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessWrapsData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"title": "Run 5k"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"title":"Run 5k"}}`, w.Body.String())
}

func TestWriteSuccessEncodeFailureIsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, func() {})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, w).Code)
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		status      int
		code        pkgerrors.Code
		message     string
		withDetails bool
		retryable   bool
	}{
		{
			name:        "validation keeps message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "title is required").WithDetails(map[string]any{"field": "title"}),
			status:      http.StatusBadRequest,
			code:        pkgerrors.CodeValidation,
			message:     "title is required",
			withDetails: true,
		},
		{
			name:    "state conflict through a wrap",
			err:     fmt.Errorf("transition: %w", pkgerrors.New(pkgerrors.CodeStateConflict, "partnership already ended")),
			status:  http.StatusConflict,
			code:    pkgerrors.CodeStateConflict,
			message: "partnership already ended",
		},
		{
			name:    "untyped unique violation becomes conflict",
			err:     &pgconn.PgError{Code: pkgerrors.PGUniqueViolation, ConstraintName: "ux_goals_active"},
			status:  http.StatusConflict,
			code:    pkgerrors.CodeConflict,
			message: "record already exists",
		},
		{
			name:    "internal hides its message",
			err:     pkgerrors.New(pkgerrors.CodeInternal, "nil pointer in goal mapper"),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage,
		},
		{
			name:    "plain error is internal",
			err:     errors.New("dial tcp: refused"),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage,
		},
		{
			name:      "dependency is retryable",
			err:       pkgerrors.New(pkgerrors.CodeDependency, "redis timeout"),
			status:    pkgerrors.MetadataFor(pkgerrors.CodeDependency).HTTPStatus,
			code:      pkgerrors.CodeDependency,
			message:   pkgerrors.MetadataFor(pkgerrors.CodeDependency).PublicMessage,
			retryable: pkgerrors.MetadataFor(pkgerrors.CodeDependency).Retryable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), logger.Nop(), w, tc.err)

			assert.Equal(t, tc.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, string(tc.code), body.Code)
			assert.Equal(t, tc.message, body.Message)
			assert.Equal(t, tc.retryable, body.Retryable)
			if tc.withDetails {
				assert.Equal(t, map[string]any{"field": "title"}, body.Details)
			}
		})
	}
}

func TestWriteErrorCarriesRequestIDAndLogsByClass(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api", Output: buf, Format: "json"})
	ctx := logg.WithRequestID(context.Background(), "req-9")

	w := httptest.NewRecorder()
	WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "goal not found"))
	assert.Equal(t, "req-9", decodeError(t, w).RequestID)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "NOT_FOUND", entry["error_code"])
	assert.NotContains(t, entry, "stack")

	buf.Reset()
	step := pkgerrors.New(pkgerrors.CodeInternal, "outbox insert").WithDetails(map[string]any{"step": "emit_event"})
	WriteError(ctx, logg, httptest.NewRecorder(), step)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "emit_event", entry["step"])
}

func TestWriteErrorNilError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
