package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/types"
)

func TestRequestIDAdoptsOrMints(t *testing.T) {
	var seen string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFrom(r.Context())
	}))

	cases := []struct {
		name   string
		header string
		adopt  bool
	}{
		{"caller id", "req-42", true},
		{"missing", "", false},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"control characters", "req\n42", false},
		{"spaces", "req 42", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(RequestIDHeader, tc.header)
			}
			resp := httptest.NewRecorder()
			h.ServeHTTP(resp, req)

			assert.Equal(t, seen, resp.Header().Get(RequestIDHeader))
			if tc.adopt {
				assert.Equal(t, tc.header, seen)
			} else {
				assert.NotEqual(t, tc.header, seen)
				assert.NotEmpty(t, seen)
			}
		})
	}
}

func TestRecovererWritesInternalEnvelope(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api", Output: buf, Format: "json"})

	r := chi.NewRouter()
	r.Use(RequestID(logg), Recoverer(logg))
	r.Get("/goals/{id}", func(w http.ResponseWriter, r *http.Request) {
		panic("nil goal")
	})

	req := httptest.NewRequest(http.MethodGet, "/goals/1", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "nil goal")
	assert.Equal(t, "req-7", body.Error.RequestID)

	assert.Contains(t, buf.String(), `"request.panic"`)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"route":"/goals/{id}"`)
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingWritesOneLinePerRequest(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api", Output: buf, Format: "json"})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/api/v1/goals/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Zero(t, buf.Len())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/goals/abc", nil))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request.rejected", entry["message"])
	assert.Equal(t, "/api/v1/goals/{id}", entry["route"])
	assert.EqualValues(t, http.StatusNotFound, entry["status"])
}
