package middleware

import (
	"net/http"
	"strings"

	"github.com/accountable/accountable-backend/api/responses"
	pkgAuth "github.com/accountable/accountable-backend/pkg/auth"
	"github.com/accountable/accountable-backend/pkg/auth/session"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
)

// TokenVerifier is satisfied by *auth.Signer.
type TokenVerifier interface {
	Verify(token string) (*pkgAuth.Claims, error)
}

// Auth admits requests carrying a valid access token whose session is still
// live, and puts the caller into the request context. A nil sessions checker
// skips the revocation lookup.
func Auth(tokens TokenVerifier, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := credentials(r)
			if token == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := tokens.Verify(token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if sessions != nil {
				live, err := sessions.HasSession(ctx, claims.SessionID())
				switch {
				case err != nil:
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				case !live:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable"))
					return
				}
			}

			ctx = withCaller(ctx, claims)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentials prefers the Authorization header. EventSource cannot set
// headers, so the realtime stream may pass access_token in the query.
func credentials(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if scheme, token, ok := strings.Cut(raw, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return raw
}
