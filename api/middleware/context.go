package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/accountable/accountable-backend/pkg/auth"
)

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID    uuid.UUID
	SessionID string
	ExpiresAt time.Time
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func withCaller(ctx context.Context, claims *pkgAuth.Claims) context.Context {
	return WithCaller(ctx, Caller{
		UserID:    claims.UserID,
		SessionID: claims.SessionID(),
		ExpiresAt: claims.Expiry(),
	})
}

// CallerFrom reports false for anonymous requests.
func CallerFrom(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok && c.UserID != uuid.Nil
}

// CallerID is uuid.Nil for anonymous requests.
func CallerID(ctx context.Context) uuid.UUID {
	c, _ := CallerFrom(ctx)
	return c.UserID
}

// callerKeyPart renders the caller for log fields and cache scopes.
func callerKeyPart(ctx context.Context) string {
	if c, ok := CallerFrom(ctx); ok {
		return c.UserID.String()
	}
	return ""
}
