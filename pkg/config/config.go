package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Partnership   PartnershipConfig
	Session       SessionConfig
	Messaging     MessagingConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	GCS           GCSConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Outbox        OutboxConfig
	Cron          CronConfig
	CORS          CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Partnership.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ACCOUNTABLE_APP_ENV" required:"true"`
	Port         string `envconfig:"ACCOUNTABLE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ACCOUNTABLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ACCOUNTABLE_LOG_WARN_STACK" default:"false"`
	PublicURL    string `envconfig:"ACCOUNTABLE_PUBLIC_URL" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"ACCOUNTABLE_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"ACCOUNTABLE_METRICS_ADDR"`
}

type DBConfig struct {
	DSN string `envconfig:"ACCOUNTABLE_DB_DSN"`
	// SlowQuery is the duration past which a statement is logged at warn level.
	SlowQuery time.Duration `envconfig:"ACCOUNTABLE_DB_SLOW_QUERY" default:"500ms"`

	LegacyHost     string `envconfig:"ACCOUNTABLE_DB_HOST"`
	LegacyPort     int    `envconfig:"ACCOUNTABLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ACCOUNTABLE_DB_USER"`
	LegacyPassword string `envconfig:"ACCOUNTABLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"ACCOUNTABLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"ACCOUNTABLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ACCOUNTABLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ACCOUNTABLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ACCOUNTABLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ACCOUNTABLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ACCOUNTABLE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ACCOUNTABLE_REDIS_ADDR"`
	Password     string        `envconfig:"ACCOUNTABLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"ACCOUNTABLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ACCOUNTABLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ACCOUNTABLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ACCOUNTABLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ACCOUNTABLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ACCOUNTABLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"ACCOUNTABLE_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"ACCOUNTABLE_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"ACCOUNTABLE_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"ACCOUNTABLE_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

// AccessTokenTTL returns the access token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ACCOUNTABLE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ACCOUNTABLE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ACCOUNTABLE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ACCOUNTABLE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ACCOUNTABLE_ARGON_KEY_LEN" default:"32"`
	MinLength        int `envconfig:"ACCOUNTABLE_PASSWORD_MIN_LENGTH" default:"8"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"ACCOUNTABLE_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"ACCOUNTABLE_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"ACCOUNTABLE_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"ACCOUNTABLE_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"ACCOUNTABLE_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"ACCOUNTABLE_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate               bool `envconfig:"ACCOUNTABLE_AUTO_MIGRATE" default:"false"`
	RequireEmailConfirmation  bool `envconfig:"ACCOUNTABLE_REQUIRE_EMAIL_CONFIRMATION" default:"false"`
	CreateProfileOnSignup     bool `envconfig:"ACCOUNTABLE_CREATE_PROFILE_ON_SIGNUP" default:"true"`
	EmailConfirmationTTLHours int  `envconfig:"ACCOUNTABLE_EMAIL_CONFIRMATION_TTL_HOURS" default:"48"`
	PasswordResetTTLMinutes   int  `envconfig:"ACCOUNTABLE_PASSWORD_RESET_TTL_MINUTES" default:"60"`
}

// EmailConfirmationTTL returns how long a confirmation token stays redeemable.
func (f FeatureFlagsConfig) EmailConfirmationTTL() time.Duration {
	if f.EmailConfirmationTTLHours <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(f.EmailConfirmationTTLHours) * time.Hour
}

func (f FeatureFlagsConfig) PasswordResetTTL() time.Duration {
	if f.PasswordResetTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(f.PasswordResetTTLMinutes) * time.Minute
}

// PartnershipConfig tunes the partnership lifecycle rules.
type PartnershipConfig struct {
	TrialLength             time.Duration `envconfig:"ACCOUNTABLE_PARTNERSHIP_TRIAL_LENGTH" default:"336h"`
	EndingSoonWindow        time.Duration `envconfig:"ACCOUNTABLE_PARTNERSHIP_ENDING_SOON_WINDOW" default:"72h"`
	InvitationTTL           time.Duration `envconfig:"ACCOUNTABLE_PARTNERSHIP_INVITATION_TTL" default:"168h"`
	AllowReinviteAfterEnded bool          `envconfig:"ACCOUNTABLE_PARTNERSHIP_ALLOW_REINVITE_AFTER_ENDED" default:"true"`
	CascadeOnEnd            bool          `envconfig:"ACCOUNTABLE_PARTNERSHIP_CASCADE_ON_END" default:"false"`
}

func (p PartnershipConfig) validate() error {
	if p.TrialLength <= 0 {
		return fmt.Errorf("%s must be positive", EnvPartnershipTrialLength)
	}
	if p.EndingSoonWindow < 0 || p.EndingSoonWindow > p.TrialLength {
		return fmt.Errorf("%s must be between 0 and the trial length", EnvPartnershipEndingSoonWindow)
	}
	if p.InvitationTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvPartnershipInvitationTTL)
	}
	return nil
}

// SessionConfig bounds client-side session bootstrapping.
type SessionConfig struct {
	ProfileTimeout time.Duration `envconfig:"ACCOUNTABLE_SESSION_PROFILE_TIMEOUT" default:"8s"`
}

type MessagingConfig struct {
	SendRatePerMinute int `envconfig:"ACCOUNTABLE_MESSAGING_SEND_RATE_PER_MINUTE" default:"30"`
	SendBurst         int `envconfig:"ACCOUNTABLE_MESSAGING_SEND_BURST" default:"10"`
	MaxLength         int `envconfig:"ACCOUNTABLE_MESSAGING_MAX_LENGTH" default:"4000"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"ACCOUNTABLE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ACCOUNTABLE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ACCOUNTABLE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ACCOUNTABLE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"ACCOUNTABLE_GCS_BUCKET_NAME" required:"true"`
	PublicBaseURL string `envconfig:"ACCOUNTABLE_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
	MaxUploadMB   int    `envconfig:"ACCOUNTABLE_GCS_MAX_UPLOAD_MB" default:"5"`
}

// MaxUploadBytes returns the upload cap in bytes.
func (g GCSConfig) MaxUploadBytes() int64 {
	if g.MaxUploadMB <= 0 {
		return 5 << 20
	}
	return int64(g.MaxUploadMB) << 20
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"ACCOUNTABLE_PUBSUB_DOMAIN_TOPIC" default:"accountable-domain-events"`
	NotificationSubscription string `envconfig:"ACCOUNTABLE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription    string `envconfig:"ACCOUNTABLE_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
	RealtimeSubscription     string `envconfig:"ACCOUNTABLE_PUBSUB_REALTIME_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset                string `envconfig:"ACCOUNTABLE_BIGQUERY_DATASET" default:"accountable"`
	PartnershipEventsTable string `envconfig:"ACCOUNTABLE_BIGQUERY_PARTNERSHIP_EVENTS_TABLE" default:"partnership_events"`
	EngagementEventsTable  string `envconfig:"ACCOUNTABLE_BIGQUERY_ENGAGEMENT_EVENTS_TABLE" default:"engagement_events"`
	InsertBatchSize        int    `envconfig:"ACCOUNTABLE_BIGQUERY_INSERT_BATCH_SIZE" default:"1"`
	InsertAttempts         int    `envconfig:"ACCOUNTABLE_BIGQUERY_INSERT_ATTEMPTS" default:"3"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ACCOUNTABLE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ACCOUNTABLE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ACCOUNTABLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"ACCOUNTABLE_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"ACCOUNTABLE_CRON_INTERVAL" default:"1h"`
	NotificationRetention time.Duration `envconfig:"ACCOUNTABLE_CRON_NOTIFICATION_RETENTION" default:"2160h"`
	CheckInReminderLead   time.Duration `envconfig:"ACCOUNTABLE_CRON_CHECKIN_REMINDER_LEAD" default:"24h"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ACCOUNTABLE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
