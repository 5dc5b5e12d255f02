// Package identity links application entities to Stripe customers and connected accounts
// through object metadata.
package identity

import (
	"context"
	"fmt"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/lock"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient"
	stripe "github.com/stripe/stripe-go/v76"
)

// EntityIDFromMetadata extracts the entity id stored under key.
func EntityIDFromMetadata(md map[string]string, key string) (string, bool) {
	v, ok := md[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EntityField is the value written to a mirror row's entityId. It is nil when the
// metadata carries no link, so an upsert clears a link that was removed remotely.
func EntityField(md map[string]string, key string) any {
	id, _ := EntityIDFromMetadata(md, key)
	return store.Nullable(id)
}

// Options control creation when no link exists yet.
type Options struct {
	CreateIfMissing bool
	Email           string
	Name            string
	Country         string
	AccountType     string // express unless set
}

type Resolver struct {
	store    *store.Dispatcher
	provider stripeclient.Provider
	locker   lock.Locker
	key      string
}

func NewResolver(d *store.Dispatcher, p stripeclient.Provider, l lock.Locker, cfg config.Configuration) *Resolver {
	if l == nil {
		l = lock.NewLocalLocker()
	}
	return &Resolver{store: d, provider: p, locker: l, key: cfg.Sync.EntityMetadataKey}
}

// MetadataKey is the metadata field holding the entity id.
func (r *Resolver) MetadataKey() string { return r.key }

// CustomerForEntity returns the Stripe customer linked to entityID, creating and
// mirroring one when allowed.
func (r *Resolver) CustomerForEntity(ctx context.Context, entityID string, opts Options) (string, error) {
	if entityID == "" {
		return "", apperrors.ValidationError{Field: store.FieldEntityID, Message: "entity id is required"}
	}
	if id, err := r.lookup(ctx, store.TableCustomers, entityID, store.FieldCustomerID); err != nil || id != "" {
		return id, err
	}
	if !opts.CreateIfMissing {
		return "", apperrors.MissingLinkError{Kind: "customer", EntityID: entityID}
	}

	release, err := r.locker.Lock(ctx, "identity/customer/"+entityID)
	if err != nil {
		return "", err
	}
	defer release()

	// Another caller may have linked while we waited.
	if id, err := r.lookup(ctx, store.TableCustomers, entityID, store.FieldCustomerID); err != nil || id != "" {
		return id, err
	}

	params := &stripe.CustomerParams{}
	if opts.Email != "" {
		params.Email = stripe.String(opts.Email)
	}
	if opts.Name != "" {
		params.Name = stripe.String(opts.Name)
	}
	params.AddMetadata(r.key, entityID)

	c, err := r.provider.CreateCustomer(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create customer for %s: %w", entityID, err)
	}
	if _, err := r.store.Upsert(ctx, store.TableCustomers, store.FieldCustomerID, CustomerDocument(c, r.key)); err != nil {
		return "", err
	}
	logger.Info("Created customer for entity", "entity_id", entityID, "customer_id", c.ID)
	return c.ID, nil
}

// AccountForEntity is CustomerForEntity for connected accounts.
func (r *Resolver) AccountForEntity(ctx context.Context, entityID string, opts Options) (string, error) {
	if entityID == "" {
		return "", apperrors.ValidationError{Field: store.FieldEntityID, Message: "entity id is required"}
	}
	if id, err := r.lookup(ctx, store.TableAccounts, entityID, store.FieldAccountID); err != nil || id != "" {
		return id, err
	}
	if !opts.CreateIfMissing {
		return "", apperrors.MissingLinkError{Kind: "account", EntityID: entityID}
	}

	release, err := r.locker.Lock(ctx, "identity/account/"+entityID)
	if err != nil {
		return "", err
	}
	defer release()

	if id, err := r.lookup(ctx, store.TableAccounts, entityID, store.FieldAccountID); err != nil || id != "" {
		return id, err
	}

	accountType := opts.AccountType
	if accountType == "" {
		accountType = string(stripe.AccountTypeExpress)
	}
	params := &stripe.AccountParams{Type: stripe.String(accountType)}
	if opts.Email != "" {
		params.Email = stripe.String(opts.Email)
	}
	if opts.Country != "" {
		params.Country = stripe.String(opts.Country)
	}
	params.AddMetadata(r.key, entityID)

	a, err := r.provider.CreateAccount(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create account for %s: %w", entityID, err)
	}
	if _, err := r.store.Upsert(ctx, store.TableAccounts, store.FieldAccountID, AccountDocument(a, r.key)); err != nil {
		return "", err
	}
	logger.Info("Created connected account for entity", "entity_id", entityID, "account_id", a.ID)
	return a.ID, nil
}

// EntityForCustomer is the reverse lookup. It returns "" when the customer is unknown
// or carries no link.
func (r *Resolver) EntityForCustomer(ctx context.Context, customerID string) (string, error) {
	rec, err := r.store.SelectOne(ctx, store.TableCustomers, store.FieldCustomerID, customerID)
	if err != nil {
		return "", err
	}
	return rec.String(store.FieldEntityID), nil
}

func (r *Resolver) lookup(ctx context.Context, table, entityID, field string) (string, error) {
	rec, err := r.store.SelectOne(ctx, table, store.FieldEntityID, entityID)
	if err != nil {
		return "", err
	}
	return rec.String(field), nil
}

// CustomerDocument is the mirror row for a customer.
func CustomerDocument(c *stripe.Customer, key string) store.Document {
	doc := store.Document{
		store.FieldCustomerID: c.ID,
		"email":               store.Nullable(c.Email),
		"name":                store.Nullable(c.Name),
		"deleted":             c.Deleted,
		store.FieldPayload:    store.Snapshot(c),
	}
	doc[store.FieldEntityID] = EntityField(c.Metadata, key)
	return doc
}

// AccountDocument is the mirror row for a connected account.
func AccountDocument(a *stripe.Account, key string) store.Document {
	doc := store.Document{
		store.FieldAccountID: a.ID,
		"email":              store.Nullable(a.Email),
		"country":            store.Nullable(a.Country),
		"type":               store.Nullable(string(a.Type)),
		"chargesEnabled":     a.ChargesEnabled,
		"payoutsEnabled":     a.PayoutsEnabled,
		"detailsSubmitted":   a.DetailsSubmitted,
		store.FieldPayload:   store.Snapshot(a),
	}
	doc[store.FieldEntityID] = EntityField(a.Metadata, key)
	return doc
}

