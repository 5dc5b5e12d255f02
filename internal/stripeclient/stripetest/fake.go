// Package stripetest provides an in-memory stripeclient.Provider for tests.
package stripetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rajasatyajit/stripemirror/internal/stripeclient"
	stripe "github.com/stripe/stripe-go/v76"
)

// SliceIterator serves a fixed list of objects, then Err.
type SliceIterator struct {
	items []interface{}
	pos   int
	err   error
}

func NewSliceIterator(items []interface{}, err error) *SliceIterator {
	return &SliceIterator{items: items, pos: -1, err: err}
}

func (s *SliceIterator) Next() bool {
	if s.pos+1 >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Current() interface{} {
	if s.pos < 0 || s.pos >= len(s.items) {
		return nil
	}
	return s.items[s.pos]
}

func (s *SliceIterator) Err() error {
	if s.pos+1 >= len(s.items) {
		return s.err
	}
	return nil
}

// Fake records every call and serves listings from Objects.
type Fake struct {
	mu sync.Mutex

	Objects   map[stripeclient.Resource][]interface{}
	ListErr   map[stripeclient.Resource]error
	CreateErr error

	// OnList, when set, sees every listing request with its context.
	OnList func(ctx context.Context, req stripeclient.ListRequest)

	Lists            []stripeclient.ListRequest
	AccountGets      []string
	Customers        []*stripe.CustomerParams
	Accounts         []*stripe.AccountParams
	AccountLinks     []*stripe.AccountLinkParams
	CheckoutSessions []*stripe.CheckoutSessionParams
	PortalSessions   []*stripe.BillingPortalSessionParams
	PortalConfigs    []*stripe.BillingPortalConfigurationParams
	WebhookCreates   []*stripe.WebhookEndpointParams
	WebhookUpdates   map[string]*stripe.WebhookEndpointParams

	seq int
}

var _ stripeclient.Provider = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Objects:        map[stripeclient.Resource][]interface{}{},
		ListErr:        map[stripeclient.Resource]error{},
		WebhookUpdates: map[string]*stripe.WebhookEndpointParams{},
	}
}

// Set replaces the listing for r.
func (f *Fake) Set(r stripeclient.Resource, objs ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[r] = objs
}

// Calls reports the total number of remote calls made so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Lists) + len(f.AccountGets) + len(f.Customers) + len(f.Accounts) + len(f.AccountLinks) + len(f.CheckoutSessions) +
		len(f.PortalSessions) + len(f.PortalConfigs) + len(f.WebhookCreates) + len(f.WebhookUpdates)
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_fake_%d", prefix, f.seq)
}

func (f *Fake) List(ctx context.Context, req stripeclient.ListRequest) stripeclient.Iterator {
	if f.OnList != nil {
		f.OnList(ctx, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists = append(f.Lists, req)

	var items []interface{}
	for _, obj := range f.Objects[req.Resource] {
		if req.Customer != "" && customerOf(obj) != req.Customer {
			continue
		}
		items = append(items, obj)
	}
	return NewSliceIterator(items, f.ListErr[req.Resource])
}

func customerOf(obj interface{}) string {
	switch o := obj.(type) {
	case *stripe.Subscription:
		if o.Customer != nil {
			return o.Customer.ID
		}
	case *stripe.CheckoutSession:
		if o.Customer != nil {
			return o.Customer.ID
		}
	case *stripe.Invoice:
		if o.Customer != nil {
			return o.Customer.ID
		}
	}
	return ""
}

// GetAccount serves the matching account from the accounts listing.
func (f *Fake) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AccountGets = append(f.AccountGets, id)
	for _, obj := range f.Objects[stripeclient.ResourceAccounts] {
		if a, ok := obj.(*stripe.Account); ok && a.ID == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no such account: %s", id)
}

func (f *Fake) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Customers = append(f.Customers, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	c := &stripe.Customer{ID: f.next("cus"), Metadata: params.Metadata}
	if params.Email != nil {
		c.Email = *params.Email
	}
	if params.Name != nil {
		c.Name = *params.Name
	}
	return c, nil
}

func (f *Fake) CreateAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accounts = append(f.Accounts, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	a := &stripe.Account{ID: f.next("acct"), Metadata: params.Metadata}
	if params.Email != nil {
		a.Email = *params.Email
	}
	if params.Country != nil {
		a.Country = *params.Country
	}
	return a, nil
}

func (f *Fake) CreateAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AccountLinks = append(f.AccountLinks, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &stripe.AccountLink{URL: "https://connect.stripe.test/" + f.next("link"), Created: 1700000000, ExpiresAt: 1700000300}, nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CheckoutSessions = append(f.CheckoutSessions, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	id := f.next("cs")
	s := &stripe.CheckoutSession{
		ID:       id,
		URL:      "https://checkout.stripe.test/" + id,
		Metadata: params.Metadata,
		Status:   stripe.CheckoutSessionStatusOpen,
	}
	if params.Customer != nil {
		s.Customer = &stripe.Customer{ID: *params.Customer}
	}
	if params.Mode != nil {
		s.Mode = stripe.CheckoutSessionMode(*params.Mode)
	}
	if params.SuccessURL != nil {
		s.SuccessURL = *params.SuccessURL
	}
	if params.CancelURL != nil {
		s.CancelURL = *params.CancelURL
	}
	return s, nil
}

func (f *Fake) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PortalSessions = append(f.PortalSessions, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	id := f.next("bps")
	s := &stripe.BillingPortalSession{ID: id, URL: "https://billing.stripe.test/" + id}
	if params.Customer != nil {
		s.Customer = *params.Customer
	}
	if params.ReturnURL != nil {
		s.ReturnURL = *params.ReturnURL
	}
	return s, nil
}

func (f *Fake) CreatePortalConfiguration(ctx context.Context, params *stripe.BillingPortalConfigurationParams) (*stripe.BillingPortalConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PortalConfigs = append(f.PortalConfigs, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &stripe.BillingPortalConfiguration{ID: f.next("bpc"), Active: true, IsDefault: true}, nil
}

func (f *Fake) CreateWebhookEndpoint(ctx context.Context, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WebhookCreates = append(f.WebhookCreates, params)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	we := &stripe.WebhookEndpoint{ID: f.next("we"), Secret: "whsec_" + f.next("secret")}
	if params.URL != nil {
		we.URL = *params.URL
	}
	for _, e := range params.EnabledEvents {
		we.EnabledEvents = append(we.EnabledEvents, *e)
	}
	return we, nil
}

func (f *Fake) UpdateWebhookEndpoint(ctx context.Context, id string, params *stripe.WebhookEndpointParams) (*stripe.WebhookEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WebhookUpdates[id] = params
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	we := &stripe.WebhookEndpoint{ID: id}
	for _, e := range params.EnabledEvents {
		we.EnabledEvents = append(we.EnabledEvents, *e)
	}
	return we, nil
}
