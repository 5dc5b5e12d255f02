package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Admin    AdminConfig
	Redis    RedisConfig
	Mirror   Configuration
}

type ServerConfig struct {
	Host                    string
	Port                    int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	AdminTimeout            time.Duration // replaces the request timeout on /v1/admin
	CORSAllowedOrigins      []string // applied to /v1/actions when set
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type RedisConfig struct {
	URL       string
	LockTTL   time.Duration
	ActionRPM int // per API key; counted in process when Redis is not configured
}

type AdminConfig struct {
	AdminSecret string
	KeyEnv      string // env segment embedded in issued API keys
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second),
			AdminTimeout:            getEnvDuration("SERVER_ADMIN_TIMEOUT", 10*time.Minute),
			CORSAllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 1*time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			LockTTL:   getEnvDuration("REDIS_LOCK_TTL", 10*time.Second),
			ActionRPM: getEnvInt("ACTION_RATE_LIMIT_RPM", 60),
		},
		Admin: AdminConfig{
			AdminSecret: getEnv("ADMIN_SECRET", ""),
			KeyEnv:      getEnv("API_KEY_ENV", "live"),
		},
		Mirror: Normalize(loadOptions()),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadOptions reads the user-facing mirror options. Secrets are not required here;
// their absence surfaces at first use.
func loadOptions() Configuration {
	tables := map[string]bool{}
	for _, name := range getEnvList("SYNC_DISABLED_TABLES") {
		tables[name] = false
	}
	for _, name := range getEnvList("SYNC_ENABLED_TABLES") {
		tables[name] = true
	}

	return Configuration{
		Stripe: StripeConfig{
			SecretKey:            getEnv("STRIPE_SECRET_KEY", ""),
			AccountWebhookSecret: getEnv("STRIPE_ACCOUNT_WEBHOOK_SECRET", getEnv("STRIPE_WEBHOOK_SECRET", "")),
			ConnectWebhookSecret: getEnv("STRIPE_CONNECT_WEBHOOK_SECRET", ""),
			RateLimit:            getEnvFloat("STRIPE_RATE_LIMIT", 0),
			MaxNetworkRetries:    int64(getEnvInt("STRIPE_MAX_NETWORK_RETRIES", 2)),
		},
		Webhook: WebhookConfig{
			Path:        getEnv("WEBHOOK_PATH", ""),
			Description: getEnv("WEBHOOK_DESCRIPTION", ""),
			Metadata:    getEnvMap("WEBHOOK_METADATA"),
		},
		Sync: SyncConfig{
			Tables:            tables,
			Detached:          getEnvBool("SYNC_DETACHED", false),
			Concurrency:       getEnvInt("SYNC_CONCURRENCY", 0),
			PageCap:           getEnvInt("SYNC_PAGE_CAP", 0),
			Interval:          getEnvDuration("SYNC_INTERVAL", 0),
			OnStart:           getEnvBool("SYNC_ON_START", false),
			EntityMetadataKey: getEnv("SYNC_ENTITY_METADATA_KEY", ""),
		},
		Portal: PortalConfig{
			Headline:                   getEnv("PORTAL_HEADLINE", ""),
			PrivacyPolicyURL:           getEnv("PORTAL_PRIVACY_POLICY_URL", ""),
			TermsOfServiceURL:          getEnv("PORTAL_TERMS_OF_SERVICE_URL", ""),
			DisableCustomerUpdate:      !getEnvBool("PORTAL_CUSTOMER_UPDATE", true),
			DisableInvoiceHistory:      !getEnvBool("PORTAL_INVOICE_HISTORY", true),
			DisablePaymentMethodUpdate: !getEnvBool("PORTAL_PAYMENT_METHOD_UPDATE", true),
			DisableSubscriptionCancel:  !getEnvBool("PORTAL_SUBSCRIPTION_CANCEL", true),
			CancelMode:                 getEnv("PORTAL_CANCEL_MODE", ""),
		},
		Redirect: RedirectConfig{
			Secret:     getEnv("REDIRECT_SECRET", ""),
			TTL:        getEnvDuration("REDIRECT_TTL", 0),
			PathPrefix: getEnv("REDIRECT_PATH_PREFIX", ""),
		},
		App: AppConfig{
			BaseURL: getEnv("APP_BASE_URL", ""),
			SiteURL: getEnv("APP_SITE_URL", ""),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Mirror.Sync.Concurrency < 0 {
		return fmt.Errorf("sync concurrency must not be negative")
	}
	if c.Mirror.Sync.PageCap < 1 {
		return fmt.Errorf("sync page cap must be at least 1")
	}
	if c.Mirror.Redirect.TTL <= 0 {
		return fmt.Errorf("redirect ttl must be positive")
	}
	if !strings.HasPrefix(c.Mirror.Webhook.Path, "/") {
		return fmt.Errorf("webhook path must start with /: %q", c.Mirror.Webhook.Path)
	}
	if !strings.HasPrefix(c.Mirror.Redirect.PathPrefix, "/") {
		return fmt.Errorf("redirect path prefix must start with /: %q", c.Mirror.Redirect.PathPrefix)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvMap parses k=v,k=v pairs.
func getEnvMap(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range getEnvList(key) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
