package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/metrics"
	"github.com/rajasatyajit/stripemirror/internal/store"
	sc "github.com/rajasatyajit/stripemirror/internal/stripeclient"
	stripe "github.com/stripe/stripe-go/v76"
	"golang.org/x/sync/semaphore"
)

// Report collects the outcome of a full sync. Failures never abort siblings.
type Report struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]error  `json:"-"`
	Results   map[string]Result `json:"results"`
}

// Errors flattens the failures for logging and JSON responses.
func (r Report) Errors() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for name, err := range r.Failed {
		out[name] = err.Error()
	}
	return out
}

// Err folds the failures into one error, ordered by syncer name, or nil.
func (r Report) Err() error {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	var me apperrors.MultiError
	for _, name := range names {
		me.Add(fmt.Errorf("%s: %w", name, r.Failed[name]))
	}
	return me.ErrOrNil()
}

// EndpointResult describes the reconciled webhook endpoint. Secret is only set when the
// endpoint was created by this call.
type EndpointResult struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Created bool     `json:"created"`
	Added   []string `json:"added,omitempty"`
	Secret  string   `json:"secret,omitempty"`
}

// Orchestrator runs the synchronizers and reconciles provider-side setup.
type Orchestrator struct {
	registry *Registry
	provider sc.Provider
	events   []string
}

// NewOrchestrator takes the event types the webhook endpoint must subscribe to.
func NewOrchestrator(r *Registry, p sc.Provider, events []string) *Orchestrator {
	wanted := append([]string(nil), events...)
	sort.Strings(wanted)
	return &Orchestrator{registry: r, provider: p, events: wanted}
}

// Registry returns the synchronizers the orchestrator drives.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// RunAll starts every synchronizer, at most cfg.Sync.Concurrency at a time (all at once
// when zero). It always returns a report.
func (o *Orchestrator) RunAll(ctx context.Context, cfg config.Configuration) Report {
	descs := o.registry.All()
	report := Report{Failed: map[string]error{}, Results: map[string]Result{}}

	limit := cfg.Sync.Concurrency
	if limit <= 0 || limit > len(descs) {
		limit = len(descs)
	}
	sem := semaphore.NewWeighted(int64(limit))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, d := range descs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			report.Failed[d.Name] = fmt.Errorf("acquire semaphore: %w", err)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(d Descriptor) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := o.run(ctx, cfg, d)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[d.Name] = err
				return
			}
			report.Succeeded = append(report.Succeeded, d.Name)
			report.Results[d.Name] = res
		}(d)
	}
	wg.Wait()

	sort.Strings(report.Succeeded)
	logger.Info("Full sync finished", "succeeded", len(report.Succeeded), "failed", len(report.Failed))
	return report
}

// RunOne runs the synchronizer registered under name, which may be the table name or
// the resource name.
func (o *Orchestrator) RunOne(ctx context.Context, cfg config.Configuration, name string) (Result, error) {
	for _, d := range o.registry.All() {
		if d.Name == name || d.Table == name {
			return o.run(ctx, cfg, d)
		}
	}
	return Result{}, apperrors.ValidationError{Field: "table", Message: fmt.Sprintf("no synchronizer named %q", name)}
}

func (o *Orchestrator) run(ctx context.Context, cfg config.Configuration, d Descriptor) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.HandlerError{Handler: d.Name, Err: fmt.Errorf("panic: %v", r)}
		}
		status := "success"
		if err != nil {
			status = "error"
			logger.Error("Syncer failed", "syncer", d.Name, "table", d.Table, "error", err)
		}
		metrics.RecordSyncRun(d.Name, status, time.Since(start))
	}()
	return d.Run(ctx, cfg)
}

// Start runs RunAll every cfg.Sync.Interval until ctx is done, and once immediately when
// cfg.Sync.OnStart is set.
func (o *Orchestrator) Start(ctx context.Context, cfg config.Configuration) {
	scheduled := func() {
		if err := o.RunAll(ctx, cfg).Err(); err != nil {
			logger.Warn("Scheduled sync finished with failures", "error", err)
		}
	}
	if cfg.Sync.OnStart {
		go scheduled()
	}
	if cfg.Sync.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(cfg.Sync.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scheduled()
			}
		}
	}()
}

// EnsureWebhookEndpoint makes sure an endpoint at cfg.WebhookURL() subscribes to every
// handled event. Existing subscriptions are only ever extended.
func (o *Orchestrator) EnsureWebhookEndpoint(ctx context.Context, cfg config.Configuration) (EndpointResult, error) {
	if cfg.App.SiteURL == "" {
		return EndpointResult{}, fmt.Errorf("site url: %w", apperrors.ErrNotConfigured)
	}
	url := cfg.WebhookURL()
	res := EndpointResult{URL: url}

	var existing *stripe.WebhookEndpoint
	it := o.provider.List(ctx, sc.ListRequest{Resource: sc.ResourceWebhookEndpoints})
	for it.Next() {
		if we, ok := it.Current().(*stripe.WebhookEndpoint); ok && we.URL == url {
			existing = we
			break
		}
	}
	if err := it.Err(); err != nil {
		return res, fmt.Errorf("list webhook endpoints: %w", err)
	}

	if existing == nil {
		params := &stripe.WebhookEndpointParams{
			URL:           stripe.String(url),
			EnabledEvents: stripe.StringSlice(o.events),
		}
		if cfg.Webhook.Description != "" {
			params.Description = stripe.String(cfg.Webhook.Description)
		}
		for k, v := range cfg.Webhook.Metadata {
			params.AddMetadata(k, v)
		}
		we, err := o.provider.CreateWebhookEndpoint(ctx, params)
		if err != nil {
			return res, fmt.Errorf("create webhook endpoint: %w", err)
		}
		res.ID, res.Created, res.Secret = we.ID, true, we.Secret
		res.Added = append([]string(nil), o.events...)
		logger.Warn("Created webhook endpoint; store its signing secret now, it is not shown again",
			"endpoint_id", we.ID, "url", url)
		return res, nil
	}

	res.ID = existing.ID
	have := make(map[string]bool, len(existing.EnabledEvents))
	for _, e := range existing.EnabledEvents {
		have[e] = true
	}
	if have["*"] {
		return res, nil
	}
	for _, e := range o.events {
		if !have[e] {
			res.Added = append(res.Added, e)
		}
	}
	if len(res.Added) == 0 {
		return res, nil
	}

	union := append([]string(nil), existing.EnabledEvents...)
	union = append(union, res.Added...)
	sort.Strings(union)
	if _, err := o.provider.UpdateWebhookEndpoint(ctx, existing.ID, &stripe.WebhookEndpointParams{
		EnabledEvents: stripe.StringSlice(union),
	}); err != nil {
		return res, fmt.Errorf("update webhook endpoint %s: %w", existing.ID, err)
	}
	logger.Info("Extended webhook endpoint events", "endpoint_id", existing.ID, "added", res.Added)
	return res, nil
}

// EnsurePortalConfiguration returns the active default billing portal configuration,
// creating one from cfg.Portal when none exists.
func (o *Orchestrator) EnsurePortalConfiguration(ctx context.Context, cfg config.Configuration) (string, bool, error) {
	it := o.provider.List(ctx, sc.ListRequest{Resource: sc.ResourceBillingPortalConfigurations})
	for it.Next() {
		if pc, ok := it.Current().(*stripe.BillingPortalConfiguration); ok && pc.IsDefault && pc.Active {
			return pc.ID, false, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", false, fmt.Errorf("list portal configurations: %w", err)
	}

	pc, err := o.provider.CreatePortalConfiguration(ctx, portalParams(cfg.Portal))
	if err != nil {
		return "", false, fmt.Errorf("create portal configuration: %w", err)
	}
	if _, err := upsertAs(ctx, o.registry, cfg, store.TableBillingPortalConfigurations, pc); err != nil {
		return pc.ID, true, err
	}
	logger.Info("Created billing portal configuration", "configuration_id", pc.ID)
	return pc.ID, true, nil
}

func portalParams(p config.PortalConfig) *stripe.BillingPortalConfigurationParams {
	profile := &stripe.BillingPortalConfigurationBusinessProfileParams{
		Headline: stripe.String(p.Headline),
	}
	if p.PrivacyPolicyURL != "" {
		profile.PrivacyPolicyURL = stripe.String(p.PrivacyPolicyURL)
	}
	if p.TermsOfServiceURL != "" {
		profile.TermsOfServiceURL = stripe.String(p.TermsOfServiceURL)
	}

	return &stripe.BillingPortalConfigurationParams{
		BusinessProfile: profile,
		Features: &stripe.BillingPortalConfigurationFeaturesParams{
			CustomerUpdate: &stripe.BillingPortalConfigurationFeaturesCustomerUpdateParams{
				Enabled:        stripe.Bool(!p.DisableCustomerUpdate),
				AllowedUpdates: stripe.StringSlice([]string{"email", "address", "phone", "tax_id"}),
			},
			InvoiceHistory: &stripe.BillingPortalConfigurationFeaturesInvoiceHistoryParams{
				Enabled: stripe.Bool(!p.DisableInvoiceHistory),
			},
			PaymentMethodUpdate: &stripe.BillingPortalConfigurationFeaturesPaymentMethodUpdateParams{
				Enabled: stripe.Bool(!p.DisablePaymentMethodUpdate),
			},
			SubscriptionCancel: &stripe.BillingPortalConfigurationFeaturesSubscriptionCancelParams{
				Enabled: stripe.Bool(!p.DisableSubscriptionCancel),
				Mode:    stripe.String(p.CancelMode),
			},
		},
	}
}
