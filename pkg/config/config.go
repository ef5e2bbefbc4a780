package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Realtime     RealtimeConfig
	Workflow     WorkflowConfig
	Bulk         BulkConfig
	History      HistoryConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.ensureDSN(),
		cfg.Redis.validate(),
		cfg.Realtime.validate(),
		cfg.Outbox.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"ORDERFLOW_LOG_FORMAT" default:"json"`

	CORSAllowedOrigins []string `envconfig:"ORDERFLOW_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// LoggerOptions applies the log settings to a named service.
func (a AppConfig) LoggerOptions(service string) logger.Options {
	return logger.Options{
		ServiceName: service,
		Level:       a.LogLevel,
		WarnStack:   a.LogWarnStack,
		Format:      a.LogFormat,
	}
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERFLOW_DB_USER"`
	LegacyPassword string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"ORDERFLOW_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

func (r RedisConfig) validate() error {
	if r.URL == "" && r.Address == "" {
		return fmt.Errorf("either %s or %s is required", EnvRedisURL, EnvRedisAddr)
	}
	return nil
}

// RealtimeConfig tunes the change-stream transport.
type RealtimeConfig struct {
	// Backend selects the pub/sub substrate: "memory" or "redis".
	Backend              string        `envconfig:"ORDERFLOW_REALTIME_BACKEND" default:"memory"`
	MaxUpdatesPerSecond  int           `envconfig:"ORDERFLOW_REALTIME_MAX_UPDATES_PER_SECOND" default:"5"`
	MaxBurstSize         int           `envconfig:"ORDERFLOW_REALTIME_MAX_BURST_SIZE" default:"10"`
	SharedThrottle       bool          `envconfig:"ORDERFLOW_REALTIME_SHARED_THROTTLE" default:"false"`
	BaseReconnectDelay   time.Duration `envconfig:"ORDERFLOW_REALTIME_BASE_RECONNECT_DELAY" default:"1s"`
	MaxReconnectDelay    time.Duration `envconfig:"ORDERFLOW_REALTIME_MAX_RECONNECT_DELAY" default:"30s"`
	MaxReconnectAttempts int           `envconfig:"ORDERFLOW_REALTIME_MAX_RECONNECT_ATTEMPTS" default:"10"`
	SubscribeTimeout     time.Duration `envconfig:"ORDERFLOW_REALTIME_SUBSCRIBE_TIMEOUT" default:"10s"`
}

func (r RealtimeConfig) validate() error {
	if r.MaxBurstSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvRealtimeMaxBurst)
	}
	if r.MaxUpdatesPerSecond <= 0 || r.MaxUpdatesPerSecond > r.MaxBurstSize {
		return fmt.Errorf("%s must be between 1 and %s", EnvRealtimeMaxPerSecond, EnvRealtimeMaxBurst)
	}
	if r.MaxReconnectDelay < r.BaseReconnectDelay {
		return fmt.Errorf("max reconnect delay must be >= base reconnect delay")
	}
	return nil
}

type WorkflowConfig struct {
	AutoCompleteAfter time.Duration `envconfig:"ORDERFLOW_WORKFLOW_AUTO_COMPLETE_AFTER" default:"24h"`
	EscalationAfter   time.Duration `envconfig:"ORDERFLOW_WORKFLOW_ESCALATION_AFTER" default:"2h"`
}

type BulkConfig struct {
	MaxConcurrent   int           `envconfig:"ORDERFLOW_BULK_MAX_CONCURRENT" default:"5"`
	BatchRetention  time.Duration `envconfig:"ORDERFLOW_BULK_BATCH_RETENTION" default:"168h"`
	ContinueOnError bool          `envconfig:"ORDERFLOW_BULK_CONTINUE_ON_ERROR" default:"true"`
}

type HistoryConfig struct {
	RetentionDays int `envconfig:"ORDERFLOW_HISTORY_RETENTION_DAYS" default:"365"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"ORDERFLOW_CRON_INTERVAL" default:"1m"`
	AutomationBatchSize int           `envconfig:"ORDERFLOW_CRON_AUTOMATION_BATCH_SIZE" default:"100"`
	LockTTL             time.Duration `envconfig:"ORDERFLOW_CRON_LOCK_TTL" default:"5m"`
}

// RateLimitConfig bounds per-actor write traffic on the API. A zero limit
// disables the policy.
type RateLimitConfig struct {
	Window        time.Duration `envconfig:"ORDERFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	StatusLimit   int           `envconfig:"ORDERFLOW_RATE_LIMIT_STATUS" default:"60"`
	LocationLimit int           `envconfig:"ORDERFLOW_RATE_LIMIT_LOCATION" default:"120"`
	BulkLimit     int           `envconfig:"ORDERFLOW_RATE_LIMIT_BULK" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ORDERFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"ORDERFLOW_PUBSUB_DOMAIN_TOPIC" default:"orderflow-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// Retention is how long published events are kept before the cron worker purges them.
	Retention time.Duration `envconfig:"ORDERFLOW_OUTBOX_RETENTION" default:"720h"`
}

func (o OutboxConfig) validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvOutboxMaxAttempts)
	}
	return nil
}

func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
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
