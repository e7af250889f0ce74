package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/auth"
	"github.com/accountable/accountable-backend/pkg/auth/session"
	"github.com/accountable/accountable-backend/pkg/config"
)

type stubSessionVerifier struct {
	ok  bool
	err error
}

func (s stubSessionVerifier) HasSession(context.Context, string) (bool, error) {
	return s.ok, s.err
}

func testSigner(t *testing.T) *auth.Signer {
	t.Helper()
	signer, err := auth.NewSigner(config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60})
	require.NoError(t, err)
	return signer
}

func mintTestToken(t *testing.T, signer *auth.Signer, userID uuid.UUID) (string, string) {
	t.Helper()
	sessionID := session.NewAccessID()
	token, err := signer.Mint(time.Now(), auth.Grant{UserID: userID, Email: "ada@example.com", SessionID: sessionID})
	require.NoError(t, err)
	return token, sessionID
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestAuthRejectsMissingOrInvalidToken(t *testing.T) {
	h := Auth(testSigner(t), stubSessionVerifier{ok: true}, nil)(okHandler())

	for name, header := range map[string]string{
		"missing":      "",
		"blank bearer": "Bearer   ",
		"garbage":      "Bearer invalid",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
		})
	}
}

func TestAuthPutsCallerInContext(t *testing.T) {
	signer := testSigner(t)
	userID := uuid.New()
	token, sessionID := mintTestToken(t, signer, userID)

	var got Caller
	h := Auth(signer, stubSessionVerifier{ok: true}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	require.Equal(t, http.StatusOK, serve(h, req).Code)

	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, sessionID, got.SessionID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.ExpiresAt, 5*time.Second)
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	signer := testSigner(t)
	userID := uuid.New()
	token, _ := mintTestToken(t, signer, userID)

	var got uuid.UUID
	h := Auth(signer, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CallerID(r.Context())
	}))
	serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/realtime?access_token="+token, nil))
	assert.Equal(t, userID, got)
}

func TestAuthRejectsRevokedSession(t *testing.T) {
	signer := testSigner(t)
	token, _ := mintTestToken(t, signer, uuid.New())

	for name, tc := range map[string]struct {
		verifier stubSessionVerifier
		status   int
	}{
		"revoked":     {stubSessionVerifier{ok: false}, http.StatusUnauthorized},
		"redis error": {stubSessionVerifier{err: errors.New("redis down")}, http.StatusServiceUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			h := Auth(signer, tc.verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			assert.Equal(t, tc.status, serve(h, req).Code)
		})
	}
}

func TestCallerAnonymous(t *testing.T) {
	assert.Equal(t, uuid.Nil, CallerID(context.Background()))
	_, ok := CallerFrom(WithCaller(context.Background(), Caller{SessionID: "orphan"}))
	assert.False(t, ok)
}
