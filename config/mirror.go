package config

import (
	"strings"
	"time"
)

// Defaults applied by Normalize.
const (
	DefaultWebhookPath        = "/stripe/webhook"
	DefaultWebhookDescription = "stripemirror sync endpoint"
	DefaultRedirectPathPrefix = "/stripe/return"
	DefaultRedirectTTL        = 15 * time.Minute
	DefaultPageCap            = 10000
	DefaultEntityMetadataKey  = "entityId"
	DefaultStripeRateLimit    = 20
	DefaultPortalHeadline     = "Manage your billing"
	DefaultPortalCancelMode   = "at_period_end"
)

// Configuration is the normalized mirror configuration. It is built once by Normalize
// and passed by value to every component.
type Configuration struct {
	Stripe   StripeConfig
	Webhook  WebhookConfig
	Sync     SyncConfig
	Portal   PortalConfig
	Redirect RedirectConfig
	App      AppConfig
}

type StripeConfig struct {
	SecretKey            string
	AccountWebhookSecret string
	ConnectWebhookSecret string
	RateLimit            float64 // requests per second against the Stripe API
	MaxNetworkRetries    int64
}

type WebhookConfig struct {
	Path        string
	Description string
	Metadata    map[string]string
}

type SyncConfig struct {
	// Tables holds per-table overrides. A table absent from the map is enabled.
	Tables            map[string]bool
	Detached          bool
	Concurrency       int // 0 runs every syncer at once
	PageCap           int
	Interval          time.Duration
	OnStart           bool
	EntityMetadataKey string
}

// Enabled reports whether the named table should be synchronized.
func (s SyncConfig) Enabled(table string) bool {
	v, ok := s.Tables[table]
	return !ok || v
}

// PortalConfig describes the default billing portal configuration. Features are on
// unless disabled.
type PortalConfig struct {
	Headline                   string
	PrivacyPolicyURL           string
	TermsOfServiceURL          string
	DisableCustomerUpdate      bool
	DisableInvoiceHistory      bool
	DisablePaymentMethodUpdate bool
	DisableSubscriptionCancel  bool
	CancelMode                 string // at_period_end or immediately
}

type RedirectConfig struct {
	Secret     string
	TTL        time.Duration
	PathPrefix string
}

type AppConfig struct {
	BaseURL string // where this service is reachable; return links point here
	SiteURL string // public site URL used for the webhook endpoint registration
}

// WebhookURL is the callback registered with Stripe.
func (c Configuration) WebhookURL() string {
	return strings.TrimRight(c.App.SiteURL, "/") + c.Webhook.Path
}

// Normalize merges user supplied options with defaults. Maps are copied so the result
// does not alias the input.
func Normalize(opts Configuration) Configuration {
	out := opts

	if out.Webhook.Path == "" {
		out.Webhook.Path = DefaultWebhookPath
	}
	if !strings.HasPrefix(out.Webhook.Path, "/") {
		out.Webhook.Path = "/" + out.Webhook.Path
	}
	if out.Webhook.Description == "" {
		out.Webhook.Description = DefaultWebhookDescription
	}
	out.Webhook.Metadata = copyStrings(opts.Webhook.Metadata)

	out.Sync.Tables = make(map[string]bool, len(opts.Sync.Tables))
	for k, v := range opts.Sync.Tables {
		out.Sync.Tables[k] = v
	}
	if out.Sync.PageCap <= 0 {
		out.Sync.PageCap = DefaultPageCap
	}
	if out.Sync.Concurrency < 0 {
		out.Sync.Concurrency = 0
	}
	if out.Sync.EntityMetadataKey == "" {
		out.Sync.EntityMetadataKey = DefaultEntityMetadataKey
	}

	if out.Stripe.RateLimit <= 0 {
		out.Stripe.RateLimit = DefaultStripeRateLimit
	}

	if out.Portal.Headline == "" {
		out.Portal.Headline = DefaultPortalHeadline
	}
	if out.Portal.CancelMode != "immediately" {
		out.Portal.CancelMode = DefaultPortalCancelMode
	}

	if out.Redirect.TTL <= 0 {
		out.Redirect.TTL = DefaultRedirectTTL
	}
	if out.Redirect.PathPrefix == "" {
		out.Redirect.PathPrefix = DefaultRedirectPathPrefix
	}
	out.Redirect.PathPrefix = "/" + strings.Trim(out.Redirect.PathPrefix, "/")

	out.App.BaseURL = strings.TrimRight(out.App.BaseURL, "/")
	out.App.SiteURL = strings.TrimRight(out.App.SiteURL, "/")

	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
