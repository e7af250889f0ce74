package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Grant is what an access token asserts about its holder. SessionID becomes
// the jti and keys the refresh session in Redis.
type Grant struct {
	UserID    uuid.UUID
	Email     string
	SessionID string
}

type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass. jwt calls it through
// jwt.ClaimsValidator.
func (c *Claims) Validate() error {
	switch {
	case c.UserID == uuid.Nil:
		return errors.New("token missing user id")
	case c.Subject != c.UserID.String():
		return errors.New("token subject does not match user id")
	case c.ID == "":
		return errors.New("token missing session id")
	}
	return nil
}

func (c *Claims) SessionID() string {
	return c.ID
}

// Expiry is zero for a token without exp, which Verify never accepts.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
