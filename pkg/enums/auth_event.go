package enums

// AuthEvent names a session change delivered to auth-state subscribers.
type AuthEvent string

const (
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEvent = "USER_UPDATED"
)

// CarriesSession reports whether subscribers should expect a non-nil session.
func (e AuthEvent) CarriesSession() bool {
	return e != AuthEventSignedOut
}
