// Package config defines the process configuration for the notification
// engine binaries. It is loaded once at start-up and treated as immutable.
//
// Values are resolved in priority order:
//
//	OS environment -> .env file -> AWS SSM Parameter Store
//
// A missing required value or an invalid combination fails start-up.
package config

import (
	"time"

	"adalerts/internal/types"
)

// SecretString is an alias for types.SecretString so config dumps never
// print credentials.
type SecretString = types.SecretString

// Sender kinds.
const (
	SenderGateway = "gateway"
	SenderSMTP    = "smtp"
	SenderLog     = "log"
)

// Config is the top-level configuration. Components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"adalerts"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Sender        SenderConfig
	Engine        EngineConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings for cmd/api.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the Postgres DSN and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds the region and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// PublishQueueURL receives AdPublishedMessage events. Empty disables
	// async publish on the admin API.
	PublishQueueURL string `envconfig:"SQS_AD_PUBLISHED" validate:"omitempty,url"`

	// LocalStack endpoint. Empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// RedisConfig configures the publish replay guard. An empty Addr disables it.
type RedisConfig struct {
	Addr       string        `envconfig:"REDIS_ADDR"`
	Password   SecretString  `envconfig:"REDIS_PASSWORD"`
	DB         int           `envconfig:"REDIS_DB" default:"0"`
	GuardTTL   time.Duration `envconfig:"PUBLISH_GUARD_TTL" default:"10m"`
	GuardScope string        `envconfig:"PUBLISH_GUARD_PREFIX" default:"adalerts:publish:"`
}

// SenderConfig selects and configures the notification transport.
type SenderConfig struct {
	Kind string `envconfig:"SENDER_KIND" default:"log" validate:"oneof=gateway smtp log"`

	GatewayURL   string        `envconfig:"SENDER_GATEWAY_URL" validate:"required_if=Kind gateway,omitempty,url"`
	GatewayToken SecretString  `envconfig:"SENDER_GATEWAY_TOKEN"`
	HTTPTimeout  time.Duration `envconfig:"SENDER_HTTP_TIMEOUT" default:"15s"`

	SMTPHost     string       `envconfig:"SMTP_HOST" validate:"required_if=Kind smtp"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string       `envconfig:"SMTP_USERNAME"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`

	// SMTPSettleTimeout is how long a send keeps waiting for an in-flight
	// SMTP exchange after its deadline before giving up on the outcome.
	SMTPSettleTimeout time.Duration `envconfig:"SMTP_SETTLE_TIMEOUT" default:"30s" validate:"gte=0"`

	FromAddress    string `envconfig:"SENDER_FROM_ADDRESS" default:"alerts@adalerts.local" validate:"required"`
	ListingURLBase string `envconfig:"LISTING_URL_BASE" default:"http://localhost:3000/ads" validate:"url"`
}

// EngineConfig tunes matching, dispatch and the retry sweep.
type EngineConfig struct {
	MatchConcurrency int           `envconfig:"ENGINE_MATCH_CONCURRENCY" default:"16" validate:"gte=1"`
	Concurrency      int           `envconfig:"ENGINE_SEND_CONCURRENCY" default:"8" validate:"gte=1,lte=256"`
	SendTimeout      time.Duration `envconfig:"ENGINE_SEND_TIMEOUT" default:"10s" validate:"gt=0"`

	MaxAttempts   int           `envconfig:"ENGINE_MAX_ATTEMPTS" default:"5" validate:"gte=1"`
	BaseDelay     time.Duration `envconfig:"ENGINE_RETRY_BASE_DELAY" default:"1m" validate:"gt=0"`
	MaxDelay      time.Duration `envconfig:"ENGINE_RETRY_MAX_DELAY" default:"6h" validate:"gtefield=BaseDelay"`
	BackoffFactor float64       `envconfig:"ENGINE_RETRY_BACKOFF_FACTOR" default:"4" validate:"gte=1"`

	StaleSendingAfter time.Duration `envconfig:"ENGINE_STALE_SENDING_AFTER" default:"15m" validate:"gt=0"`
	SweepBatchSize    int           `envconfig:"ENGINE_SWEEP_BATCH_SIZE" default:"500" validate:"gte=1"`
	JobLockTTL        time.Duration `envconfig:"ENGINE_JOB_LOCK_TTL" default:"10m"`
}

// SecurityConfig holds operator API credentials and CORS settings.
type SecurityConfig struct {
	// AdminAPIKeyHash is a bcrypt hash of the operator bearer key.
	AdminAPIKeyHash    SecretString `envconfig:"ADMIN_API_KEY_HASH" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RateLimitPerMinute int          `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600" validate:"gte=0"`
}

// ObservabilityConfig selects the metrics sink.
type ObservabilityConfig struct {
	// MetricsBackend is "prometheus" for the long-running API and
	// "cloudwatch" for the Lambda binaries.
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"AdAlerts"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
