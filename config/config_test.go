package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Save original env vars
	keys := []string{
		"SERVER_PORT", "DATABASE_URL", "LOG_LEVEL", "METRICS_ENABLED",
		"SYNC_DISABLED_TABLES", "SYNC_ENABLED_TABLES", "REDIRECT_TTL", "WEBHOOK_PATH",
		"WEBHOOK_METADATA", "STRIPE_WEBHOOK_SECRET", "STRIPE_ACCOUNT_WEBHOOK_SECRET",
		"SYNC_CONCURRENCY", "SYNC_PAGE_CAP", "APP_SITE_URL",
	}
	originalVars := map[string]string{}
	for _, k := range keys {
		originalVars[k] = os.Getenv(k)
	}

	// Clean up after test
	defer func() {
		for key, value := range originalVars {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()
	clear := func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	}

	t.Run("Default configuration", func(t *testing.T) {
		clear()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("Expected default log level 'info', got %s", cfg.Logging.Level)
		}
		if cfg.Mirror.Webhook.Path != DefaultWebhookPath {
			t.Errorf("Expected webhook path %s, got %s", DefaultWebhookPath, cfg.Mirror.Webhook.Path)
		}
		if cfg.Mirror.Redirect.TTL != DefaultRedirectTTL {
			t.Errorf("Expected redirect ttl %v, got %v", DefaultRedirectTTL, cfg.Mirror.Redirect.TTL)
		}
		if cfg.Mirror.Sync.PageCap != DefaultPageCap {
			t.Errorf("Expected page cap %d, got %d", DefaultPageCap, cfg.Mirror.Sync.PageCap)
		}
		if cfg.Mirror.Sync.Detached {
			t.Errorf("Expected detached to default to false")
		}
		if !cfg.Mirror.Sync.Enabled("stripeCustomers") {
			t.Errorf("Expected tables to be enabled by default")
		}
	})

	t.Run("Custom configuration", func(t *testing.T) {
		clear()
		os.Setenv("SERVER_PORT", "9000")
		os.Setenv("SYNC_DISABLED_TABLES", "stripeReviews, stripePayouts")
		os.Setenv("REDIRECT_TTL", "2m")
		os.Setenv("WEBHOOK_PATH", "hooks/stripe")
		os.Setenv("WEBHOOK_METADATA", "app=billing,env=test")
		os.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_legacy")
		os.Setenv("APP_SITE_URL", "https://example.com/")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
		}
		if cfg.Mirror.Sync.Enabled("stripeReviews") || cfg.Mirror.Sync.Enabled("stripePayouts") {
			t.Errorf("Expected disabled tables to be off")
		}
		if !cfg.Mirror.Sync.Enabled("stripeCharges") {
			t.Errorf("Expected unrelated table to stay enabled")
		}
		if cfg.Mirror.Redirect.TTL != 2*time.Minute {
			t.Errorf("Expected ttl 2m, got %v", cfg.Mirror.Redirect.TTL)
		}
		if cfg.Mirror.Webhook.Path != "/hooks/stripe" {
			t.Errorf("Expected normalized webhook path, got %s", cfg.Mirror.Webhook.Path)
		}
		if cfg.Mirror.Webhook.Metadata["env"] != "test" || cfg.Mirror.Webhook.Metadata["app"] != "billing" {
			t.Errorf("Unexpected webhook metadata: %v", cfg.Mirror.Webhook.Metadata)
		}
		if cfg.Mirror.Stripe.AccountWebhookSecret != "whsec_legacy" {
			t.Errorf("Expected legacy webhook secret fallback, got %q", cfg.Mirror.Stripe.AccountWebhookSecret)
		}
		if got := cfg.Mirror.WebhookURL(); got != "https://example.com/hooks/stripe" {
			t.Errorf("Unexpected webhook URL %s", got)
		}
	})
}

func TestNormalize(t *testing.T) {
	in := Configuration{
		Sync:     SyncConfig{Tables: map[string]bool{"stripeCoupons": false}, Concurrency: -3},
		Redirect: RedirectConfig{PathPrefix: "return/"},
		Portal:   PortalConfig{CancelMode: "bogus"},
		Webhook:  WebhookConfig{Metadata: map[string]string{"a": "b"}},
	}
	out := Normalize(in)

	if out.Redirect.PathPrefix != "/return" {
		t.Errorf("Expected /return, got %s", out.Redirect.PathPrefix)
	}
	if out.Sync.Concurrency != 0 {
		t.Errorf("Expected negative concurrency to clamp to 0, got %d", out.Sync.Concurrency)
	}
	if out.Portal.CancelMode != DefaultPortalCancelMode {
		t.Errorf("Expected cancel mode fallback, got %s", out.Portal.CancelMode)
	}
	if out.Stripe.RateLimit != DefaultStripeRateLimit {
		t.Errorf("Expected default rate limit, got %v", out.Stripe.RateLimit)
	}
	if out.Sync.EntityMetadataKey != DefaultEntityMetadataKey {
		t.Errorf("Expected default metadata key, got %s", out.Sync.EntityMetadataKey)
	}

	// Maps must not alias the input.
	in.Sync.Tables["stripeCoupons"] = true
	in.Webhook.Metadata["a"] = "changed"
	if out.Sync.Enabled("stripeCoupons") {
		t.Errorf("Normalized table flags alias the input map")
	}
	if out.Webhook.Metadata["a"] != "b" {
		t.Errorf("Normalized metadata aliases the input map")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{MaxConns: 10},
			Mirror:   Normalize(Configuration{}),
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Valid configuration", mutate: func(c *Config) {}, wantErr: false},
		{name: "Invalid port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "Invalid port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "Invalid max connections", mutate: func(c *Config) { c.Database.MaxConns = 0 }, wantErr: true},
		{name: "Zero page cap", mutate: func(c *Config) { c.Mirror.Sync.PageCap = 0 }, wantErr: true},
		{name: "Zero redirect ttl", mutate: func(c *Config) { c.Mirror.Redirect.TTL = 0 }, wantErr: true},
		{name: "Relative webhook path", mutate: func(c *Config) { c.Mirror.Webhook.Path = "hook" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
