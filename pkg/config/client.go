package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ClientConfig configures the command line client. It needs none of the
// server's required settings.
type ClientConfig struct {
	APIURL      string        `envconfig:"ACCOUNTABLE_API_URL" default:"http://localhost:8080"`
	SessionFile string        `envconfig:"ACCOUNTABLE_SESSION_FILE"`
	Timeout     time.Duration `envconfig:"ACCOUNTABLE_CLIENT_TIMEOUT" default:"15s"`
	LogLevel    string        `envconfig:"ACCOUNTABLE_LOG_LEVEL" default:"warn"`
	Session     SessionConfig
}

func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	parsed, err := url.Parse(cfg.APIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("ACCOUNTABLE_API_URL must be an absolute url, got %q", cfg.APIURL)
	}
	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		cfg.SessionFile = filepath.Join(dir, "accountable", "session.json")
	}
	return &cfg, nil
}
