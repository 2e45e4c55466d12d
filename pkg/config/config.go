package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/calltrackerpro/calltracker/pkg/webhooks"
	"github.com/robfig/cron/v3"
)

// EnvPrefix is prepended to every environment variable read by Load
const EnvPrefix = "CALLTRACKER_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `envPrefix:"SERVER_"`

	// Credential configuration
	Auth AuthConfig `envPrefix:"AUTH_"`

	// Invitation lifecycle configuration
	Invitations InvitationsConfig `envPrefix:"INVITATIONS_"`

	// Storage configuration
	Storage storage.Config `envPrefix:"STORAGE_"`

	// Observability configuration
	Observability ObservabilityConfig

	// PlanCatalogPath optionally points at a YAML plan limit override
	PlanCatalogPath string `env:"PLAN_CATALOG"`

	// Debug exposes internal error details in responses
	Debug bool `env:"DEBUG" envDefault:"false"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `env:"HEALTH_PORT" envDefault:"9090"`

	// Per-IP throttling of the public invitation endpoints
	PublicRateLimit  int           `env:"PUBLIC_RATE_LIMIT" envDefault:"30"`
	PublicRateWindow time.Duration `env:"PUBLIC_RATE_WINDOW" envDefault:"1m"`
	PublicRateBurst  int           `env:"PUBLIC_RATE_BURST" envDefault:"10"`
}

// AuthConfig holds session credential settings
type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET"`
	Issuer     string        `env:"ISSUER" envDefault:"calltracker"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"12"`
}

// InvitationsConfig holds invitation lifecycle settings
type InvitationsConfig struct {
	BaseURL          string        `env:"BASE_URL" envDefault:"http://localhost:3000"`
	Expiry           time.Duration `env:"EXPIRY" envDefault:"168h"`
	ReminderInterval time.Duration `env:"REMINDER_INTERVAL" envDefault:"48h"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"30s"`
	BulkConcurrency  int           `env:"BULK_CONCURRENCY" envDefault:"5"`

	// Cron specs of the background sweeps. Empty disables a sweep.
	ExpireSchedule   string        `env:"EXPIRE_SCHEDULE" envDefault:"0 * * * *"`
	ReminderSchedule string        `env:"REMINDER_SCHEDULE" envDefault:"30 9 * * *"`
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`

	// WebhookURL hands notifications to an external mailer. Empty logs them instead.
	WebhookURL         string        `env:"WEBHOOK_URL"`
	WebhookSecret      string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout     time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	WebhookMaxAttempts int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	WebhookRate        float64       `env:"WEBHOOK_RATE" envDefault:"10"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// AuditLogPath receives the audit trail as JSON lines. Empty writes to stdout.
	AuditLogPath string `env:"AUDIT_LOG_PATH"`

	// Metrics
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// OpenTelemetry
	OTelEnabled        bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint       string `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OTelServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"calltracker"`
	OTelServiceVersion string `env:"OTEL_SERVICE_VERSION" envDefault:"1.0.0"`
	OTelInsecure       bool   `env:"OTEL_INSECURE" envDefault:"true"` // Use insecure gRPC connection
}

// LoadConfig loads configuration from the process environment
func LoadConfig() (*Config, error) {
	return Load(nil)
}

// Load reads configuration from environ, or from the process environment when
// environ is nil, and validates it.
func Load(environ map[string]string) (*Config, error) {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.Server.PublicRateLimit <= 0 || c.Server.PublicRateWindow <= 0 {
		return fmt.Errorf("public rate limit and window must be positive")
	}

	// Validate credentials
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%sAUTH_JWT_SECRET is required", EnvPrefix)
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	// Validate invitations
	if u, err := url.Parse(c.Invitations.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invitation base URL must be an absolute URL: %q", c.Invitations.BaseURL)
	}
	if c.Invitations.Expiry <= 0 || c.Invitations.ReminderInterval <= 0 {
		return fmt.Errorf("invitation expiry and reminder interval must be positive")
	}
	for name, spec := range map[string]string{
		"expire":   c.Invitations.ExpireSchedule,
		"reminder": c.Invitations.ReminderSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Invitations.WebhookURL != "" {
		if err := c.Webhook().Validate(); err != nil {
			return err
		}
	}

	// Validate storage config based on type
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.PlanCatalogPath != "" {
		if _, err := os.Stat(c.PlanCatalogPath); err != nil {
			return fmt.Errorf("plan catalog: %w", err)
		}
	}

	return nil
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// OTel returns the tracing settings
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// InvitationSettings returns the lifecycle settings for invitations.NewService
func (c *Config) InvitationSettings() invitations.Config {
	cfg := invitations.DefaultConfig()
	cfg.BaseURL = strings.TrimRight(c.Invitations.BaseURL, "/")
	cfg.Expiry = c.Invitations.Expiry
	cfg.ReminderInterval = c.Invitations.ReminderInterval
	cfg.NotifyTimeout = c.Invitations.NotifyTimeout
	cfg.BulkConcurrency = c.Invitations.BulkConcurrency
	return cfg
}

// Schedule returns the cron settings for invitations.NewScheduler
func (c *Config) Schedule() invitations.ScheduleConfig {
	return invitations.ScheduleConfig{
		ExpireSchedule:   c.Invitations.ExpireSchedule,
		ReminderSchedule: c.Invitations.ReminderSchedule,
		JobTimeout:       c.Invitations.JobTimeout,
	}
}

// Webhook returns the notification dispatcher settings
func (c *Config) Webhook() webhooks.Config {
	retry := webhooks.DefaultRetryConfig()
	retry.MaxAttempts = c.Invitations.WebhookMaxAttempts
	return webhooks.Config{
		URL:           c.Invitations.WebhookURL,
		Secret:        c.Invitations.WebhookSecret,
		Timeout:       c.Invitations.WebhookTimeout,
		RatePerSecond: c.Invitations.WebhookRate,
		Retry:         retry,
	}
}

// PlanCatalog returns the default catalog, or the YAML override when configured
func (c *Config) PlanCatalog() (orgs.PlanCatalog, error) {
	if c.PlanCatalogPath == "" {
		return orgs.DefaultPlanCatalog(), nil
	}
	return orgs.LoadPlanCatalog(c.PlanCatalogPath)
}
