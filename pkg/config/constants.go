package config

const (
	EnvPrefix = "ACCOUNTABLE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "ACCOUNTABLE_APP_ENV"
	EnvPort   = "ACCOUNTABLE_APP_PORT"

	EnvDBDSN  = "ACCOUNTABLE_DB_DSN"
	EnvDBHost = "ACCOUNTABLE_DB_HOST"
	EnvDBUser = "ACCOUNTABLE_DB_USER"
	EnvDBName = "ACCOUNTABLE_DB_NAME"

	EnvRedisURL               = "ACCOUNTABLE_REDIS_URL"
	EnvJWTSecret              = "ACCOUNTABLE_JWT_SECRET"
	EnvJWTIssuer              = "ACCOUNTABLE_JWT_ISSUER"
	EnvJWTExpMins             = "ACCOUNTABLE_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "ACCOUNTABLE_REFRESH_TOKEN_TTL_MINUTES"

	EnvGCPProjectID = "ACCOUNTABLE_GCP_PROJECT_ID"
	EnvGCSBucket    = "ACCOUNTABLE_GCS_BUCKET_NAME"

	EnvPubSubDomainTopic     = "ACCOUNTABLE_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubNotificationSub = "ACCOUNTABLE_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub    = "ACCOUNTABLE_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvPubSubRealtimeSub     = "ACCOUNTABLE_PUBSUB_REALTIME_SUBSCRIPTION"

	EnvMetricsAddr = "ACCOUNTABLE_METRICS_ADDR"

	EnvPartnershipTrialLength      = "ACCOUNTABLE_PARTNERSHIP_TRIAL_LENGTH"
	EnvPartnershipEndingSoonWindow = "ACCOUNTABLE_PARTNERSHIP_ENDING_SOON_WINDOW"
	EnvPartnershipInvitationTTL    = "ACCOUNTABLE_PARTNERSHIP_INVITATION_TTL"
	EnvPartnershipCascadeOnEnd     = "ACCOUNTABLE_PARTNERSHIP_CASCADE_ON_END"
	EnvPartnershipAllowReinvite    = "ACCOUNTABLE_PARTNERSHIP_ALLOW_REINVITE_AFTER_ENDED"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
