package redis

import "strings"

// Every key lives under one namespace so the instance can be shared.
const keyNamespace = "acct"

const (
	idempotencyPrefix   = "idempotency"
	rateLimitPrefix     = "rate_limit"
	counterPrefix       = "counter"
	sessionPrefix       = "session"
	confirmationPrefix  = "email_confirmation"
	passwordResetPrefix = "password_reset"
	lockPrefix          = "lock"
	realtimePrefix      = "realtime"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

func (c *Client) CounterKey(name string) string {
	return buildKey(counterPrefix, name)
}

// AccessSessionKey marks a live access token by its jti.
func (c *Client) AccessSessionKey(accessID string) string {
	return buildKey(sessionPrefix, "access", accessID)
}

// ConfirmationKey holds a single-use email confirmation token.
func (c *Client) ConfirmationKey(token string) string {
	return buildKey(confirmationPrefix, token)
}

// PasswordResetKey holds a single-use password reset token.
func (c *Client) PasswordResetKey(token string) string {
	return buildKey(passwordResetPrefix, token)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

// RealtimeChannel is the pub/sub channel carrying row changes for one user.
func (c *Client) RealtimeChannel(userID string) string {
	return buildKey(realtimePrefix, "user", userID)
}

// buildKey joins the non-blank parts after the namespace with colons.
func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
