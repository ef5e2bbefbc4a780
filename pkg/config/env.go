package config

const EnvPrefix = "ORDERFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "ORDERFLOW_APP_ENV"
	EnvPort     = "ORDERFLOW_APP_PORT"
	EnvLogLevel = "ORDERFLOW_LOG_LEVEL"

	EnvDBDSN  = "ORDERFLOW_DB_DSN"
	EnvDBHost = "ORDERFLOW_DB_HOST"
	EnvDBUser = "ORDERFLOW_DB_USER"
	EnvDBName = "ORDERFLOW_DB_NAME"

	EnvRedisURL  = "ORDERFLOW_REDIS_URL"
	EnvRedisAddr = "ORDERFLOW_REDIS_ADDR"

	EnvRealtimeBackend      = "ORDERFLOW_REALTIME_BACKEND"
	EnvRealtimeMaxPerSecond = "ORDERFLOW_REALTIME_MAX_UPDATES_PER_SECOND"
	EnvRealtimeMaxBurst     = "ORDERFLOW_REALTIME_MAX_BURST_SIZE"

	EnvWorkflowAutoComplete = "ORDERFLOW_WORKFLOW_AUTO_COMPLETE_AFTER"
	EnvBulkMaxConcurrent    = "ORDERFLOW_BULK_MAX_CONCURRENT"
	EnvGCPProjectID         = "ORDERFLOW_GCP_PROJECT_ID"
	EnvPubSubDomainTopic    = "ORDERFLOW_PUBSUB_DOMAIN_TOPIC"
	EnvOutboxMaxAttempts    = "ORDERFLOW_OUTBOX_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
