// Package stripeclient is the narrow surface of the Stripe API the mirror depends on.
package stripeclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Resource names a listable Stripe collection.
type Resource string

const (
	ResourceAccounts                    Resource = "accounts"
	ResourceCustomers                   Resource = "customers"
	ResourceProducts                    Resource = "products"
	ResourcePrices                      Resource = "prices"
	ResourcePlans                       Resource = "plans"
	ResourceCoupons                     Resource = "coupons"
	ResourcePromotionCodes              Resource = "promotion_codes"
	ResourceTaxRates                    Resource = "tax_rates"
	ResourceSubscriptions               Resource = "subscriptions"
	ResourceSubscriptionSchedules       Resource = "subscription_schedules"
	ResourceInvoices                    Resource = "invoices"
	ResourceInvoiceItems                Resource = "invoiceitems"
	ResourceCreditNotes                 Resource = "credit_notes"
	ResourcePaymentIntents              Resource = "payment_intents"
	ResourceSetupIntents                Resource = "setup_intents"
	ResourceCharges                     Resource = "charges"
	ResourceRefunds                     Resource = "refunds"
	ResourceDisputes                    Resource = "disputes"
	ResourceEarlyFraudWarnings          Resource = "radar.early_fraud_warnings"
	ResourceReviews                     Resource = "reviews"
	ResourcePayouts                     Resource = "payouts"
	ResourceTransfers                   Resource = "transfers"
	ResourceCheckoutSessions            Resource = "checkout.sessions"
	ResourceBillingPortalConfigurations Resource = "billing_portal.configurations"
	ResourceWebhookEndpoints            Resource = "webhook_endpoints"
)

// Iterator walks a paged listing. *stripe.Iter satisfies it.
type Iterator interface {
	Next() bool
	Current() interface{}
	Err() error
}

// ListRequest selects a collection. Customer narrows listings that support it.
type ListRequest struct {
	Resource Resource
	Customer string
}

// Provider is everything the mirror asks of Stripe. Params are passed through as the
// SDK defines them; implementations attach ctx.
type Provider interface {
	List(ctx context.Context, req ListRequest) Iterator
	GetAccount(ctx context.Context, id string) (*stripe.Account, error)
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error)
	CreateAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	CreatePortalConfiguration(ctx context.Context, params *stripe.BillingPortalConfigurationParams) (*stripe.BillingPortalConfiguration, error)
	CreateWebhookEndpoint(ctx context.Context, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error)
	UpdateWebhookEndpoint(ctx context.Context, id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error)
}

// pageSize is the largest page Stripe serves.
const pageSize = 100

// Client is the live Provider. It is safe for concurrent use.
type Client struct {
	api        *client.API
	configured bool
}

// New builds a client whose outbound requests are throttled to cfg.RateLimit per second.
// An empty secret key yields a client that fails every call with ErrNotConfigured.
func New(cfg config.StripeConfig) *Client {
	httpClient := &http.Client{
		Timeout:   80 * time.Second,
		Transport: NewRateLimitedTransport(http.DefaultTransport, cfg.RateLimit),
	}
	retries := cfg.MaxNetworkRetries
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     logger.NewStripeLogger(),
		MaxNetworkRetries: stripe.Int64(retries),
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Client{api: api, configured: cfg.SecretKey != ""}
}

func (c *Client) check() error {
	if !c.configured {
		return fmt.Errorf("stripe secret key: %w", apperrors.ErrNotConfigured)
	}
	return nil
}

// List pages through a collection. Subscriptions are listed with status=all so
// canceled ones reconcile too.
func (c *Client) List(ctx context.Context, req ListRequest) Iterator {
	if err := c.check(); err != nil {
		return errIterator{err: err}
	}
	lp := stripe.ListParams{Context: ctx, Limit: stripe.Int64(pageSize)}
	var customer *string
	if req.Customer != "" {
		customer = stripe.String(req.Customer)
	}

	switch req.Resource {
	case ResourceAccounts:
		return c.api.Accounts.List(&stripe.AccountListParams{ListParams: lp}).Iter
	case ResourceCustomers:
		return c.api.Customers.List(&stripe.CustomerListParams{ListParams: lp}).Iter
	case ResourceProducts:
		return c.api.Products.List(&stripe.ProductListParams{ListParams: lp}).Iter
	case ResourcePrices:
		return c.api.Prices.List(&stripe.PriceListParams{ListParams: lp}).Iter
	case ResourcePlans:
		return c.api.Plans.List(&stripe.PlanListParams{ListParams: lp}).Iter
	case ResourceCoupons:
		return c.api.Coupons.List(&stripe.CouponListParams{ListParams: lp}).Iter
	case ResourcePromotionCodes:
		return c.api.PromotionCodes.List(&stripe.PromotionCodeListParams{ListParams: lp}).Iter
	case ResourceTaxRates:
		return c.api.TaxRates.List(&stripe.TaxRateListParams{ListParams: lp}).Iter
	case ResourceSubscriptions:
		return c.api.Subscriptions.List(&stripe.SubscriptionListParams{
			ListParams: lp,
			Customer:   customer,
			Status:     stripe.String("all"),
		}).Iter
	case ResourceSubscriptionSchedules:
		return c.api.SubscriptionSchedules.List(&stripe.SubscriptionScheduleListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceInvoices:
		return c.api.Invoices.List(&stripe.InvoiceListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceInvoiceItems:
		return c.api.InvoiceItems.List(&stripe.InvoiceItemListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceCreditNotes:
		return c.api.CreditNotes.List(&stripe.CreditNoteListParams{ListParams: lp, Customer: customer}).Iter
	case ResourcePaymentIntents:
		return c.api.PaymentIntents.List(&stripe.PaymentIntentListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceSetupIntents:
		return c.api.SetupIntents.List(&stripe.SetupIntentListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceCharges:
		return c.api.Charges.List(&stripe.ChargeListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceRefunds:
		return c.api.Refunds.List(&stripe.RefundListParams{ListParams: lp}).Iter
	case ResourceDisputes:
		return c.api.Disputes.List(&stripe.DisputeListParams{ListParams: lp}).Iter
	case ResourceEarlyFraudWarnings:
		return c.api.RadarEarlyFraudWarnings.List(&stripe.RadarEarlyFraudWarningListParams{ListParams: lp}).Iter
	case ResourceReviews:
		return c.api.Reviews.List(&stripe.ReviewListParams{ListParams: lp}).Iter
	case ResourcePayouts:
		return c.api.Payouts.List(&stripe.PayoutListParams{ListParams: lp}).Iter
	case ResourceTransfers:
		return c.api.Transfers.List(&stripe.TransferListParams{ListParams: lp}).Iter
	case ResourceCheckoutSessions:
		return c.api.CheckoutSessions.List(&stripe.CheckoutSessionListParams{ListParams: lp, Customer: customer}).Iter
	case ResourceBillingPortalConfigurations:
		return c.api.BillingPortalConfigurations.List(&stripe.BillingPortalConfigurationListParams{ListParams: lp}).Iter
	case ResourceWebhookEndpoints:
		return c.api.WebhookEndpoints.List(&stripe.WebhookEndpointListParams{ListParams: lp}).Iter
	default:
		return errIterator{err: fmt.Errorf("unsupported resource %q: %w", req.Resource, apperrors.ErrInvalidInput)}
	}
}

func (c *Client) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params := &stripe.AccountParams{}
	params.Context = ctx
	return c.api.Accounts.GetByID(id, params)
}

func (c *Client) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.Customers.New(params)
}

func (c *Client) CreateAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.Accounts.New(params)
}

func (c *Client) CreateAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.AccountLinks.New(params)
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.CheckoutSessions.New(params)
}

func (c *Client) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.BillingPortalSessions.New(params)
}

func (c *Client) CreatePortalConfiguration(ctx context.Context, params *stripe.BillingPortalConfigurationParams) (*stripe.BillingPortalConfiguration, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.BillingPortalConfigurations.New(params)
}

func (c *Client) CreateWebhookEndpoint(ctx context.Context, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.WebhookEndpoints.New(params)
}

func (c *Client) UpdateWebhookEndpoint(ctx context.Context, id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	params.Context = ctx
	return c.api.WebhookEndpoints.Update(id, params)
}

type errIterator struct{ err error }

func (e errIterator) Next() bool           { return false }
func (e errIterator) Current() interface{} { return nil }
func (e errIterator) Err() error           { return e.err }
