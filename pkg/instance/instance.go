package instance

import (
	"os"

	"github.com/accountable/accountable-backend/pkg/env"
)

const EnvID = "ACCOUNTABLE_INSTANCE_ID"

// ID names this process in logs and lock tokens. It prefers the env var, then
// the platform's dyno name, then the hostname, then fallback.
func ID(fallback string) string {
	if id := env.First("", EnvID, "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
