package syncer

import (
	"context"
	"fmt"
	"sort"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/store"
	sc "github.com/rajasatyajit/stripemirror/internal/stripeclient"
	stripe "github.com/stripe/stripe-go/v76"
)

// Descriptor is one entry of the full-sync fan-out.
type Descriptor struct {
	Name  string
	Table string
	Run   func(ctx context.Context, cfg config.Configuration) (Result, error)
}

// Registry holds exactly one synchronizer per mirrored table.
type Registry struct {
	byTable  map[string]Entity
	tables   []string
	provider sc.Provider
}

// NewRegistry wires every synchronizer to the dispatcher and provider.
func NewRegistry(d *store.Dispatcher, p sc.Provider) *Registry {
	entities := []Entity{
		newSynchronizer(d, p, store.TableAccounts, sc.ResourceAccounts,
			func(o *stripe.Account) string { return o.ID }, convertAccount).requireLink(),
		newSynchronizer(d, p, store.TableCustomers, sc.ResourceCustomers,
			func(o *stripe.Customer) string { return o.ID }, convertCustomer).requireLink(),
		newSynchronizer(d, p, store.TableProducts, sc.ResourceProducts,
			func(o *stripe.Product) string { return o.ID }, convertProduct),
		newSynchronizer(d, p, store.TablePrices, sc.ResourcePrices,
			func(o *stripe.Price) string { return o.ID }, convertPrice),
		newSynchronizer(d, p, store.TablePlans, sc.ResourcePlans,
			func(o *stripe.Plan) string { return o.ID }, convertPlan),
		newSynchronizer(d, p, store.TableCoupons, sc.ResourceCoupons,
			func(o *stripe.Coupon) string { return o.ID }, convertCoupon),
		newSynchronizer(d, p, store.TablePromotionCodes, sc.ResourcePromotionCodes,
			func(o *stripe.PromotionCode) string { return o.ID }, convertPromotionCode),
		newSynchronizer(d, p, store.TableTaxRates, sc.ResourceTaxRates,
			func(o *stripe.TaxRate) string { return o.ID }, convertTaxRate),
		newSynchronizer(d, p, store.TableSubscriptions, sc.ResourceSubscriptions,
			func(o *stripe.Subscription) string { return o.ID }, convertSubscription),
		newSynchronizer(d, p, store.TableSubscriptionSchedules, sc.ResourceSubscriptionSchedules,
			func(o *stripe.SubscriptionSchedule) string { return o.ID }, convertSubscriptionSchedule),
		newSynchronizer(d, p, store.TableInvoices, sc.ResourceInvoices,
			func(o *stripe.Invoice) string { return o.ID }, convertInvoice),
		newSynchronizer(d, p, store.TableInvoiceItems, sc.ResourceInvoiceItems,
			func(o *stripe.InvoiceItem) string { return o.ID }, convertInvoiceItem),
		newSynchronizer(d, p, store.TableCreditNotes, sc.ResourceCreditNotes,
			func(o *stripe.CreditNote) string { return o.ID }, convertCreditNote),
		newSynchronizer(d, p, store.TablePaymentIntents, sc.ResourcePaymentIntents,
			func(o *stripe.PaymentIntent) string { return o.ID }, convertPaymentIntent),
		newSynchronizer(d, p, store.TableSetupIntents, sc.ResourceSetupIntents,
			func(o *stripe.SetupIntent) string { return o.ID }, convertSetupIntent),
		newSynchronizer(d, p, store.TableCharges, sc.ResourceCharges,
			func(o *stripe.Charge) string { return o.ID }, convertCharge),
		newSynchronizer(d, p, store.TableRefunds, sc.ResourceRefunds,
			func(o *stripe.Refund) string { return o.ID }, convertRefund),
		newSynchronizer(d, p, store.TableDisputes, sc.ResourceDisputes,
			func(o *stripe.Dispute) string { return o.ID }, convertDispute),
		newSynchronizer(d, p, store.TableEarlyFraudWarnings, sc.ResourceEarlyFraudWarnings,
			func(o *stripe.RadarEarlyFraudWarning) string { return o.ID }, convertEarlyFraudWarning),
		newSynchronizer(d, p, store.TableReviews, sc.ResourceReviews,
			func(o *stripe.Review) string { return o.ID }, convertReview),
		newSynchronizer(d, p, store.TablePayouts, sc.ResourcePayouts,
			func(o *stripe.Payout) string { return o.ID }, convertPayout),
		newSynchronizer(d, p, store.TableTransfers, sc.ResourceTransfers,
			func(o *stripe.Transfer) string { return o.ID }, convertTransfer),
		newSynchronizer(d, p, store.TableCheckoutSessions, sc.ResourceCheckoutSessions,
			func(o *stripe.CheckoutSession) string { return o.ID }, convertCheckoutSession),
		newSynchronizer(d, p, store.TableBillingPortalConfigurations, sc.ResourceBillingPortalConfigurations,
			func(o *stripe.BillingPortalConfiguration) string { return o.ID }, convertBillingPortalConfiguration),
	}

	r := &Registry{byTable: make(map[string]Entity, len(entities)), provider: p}
	for _, e := range entities {
		if _, dup := r.byTable[e.Table()]; dup {
			panic("syncer: duplicate synchronizer for " + e.Table())
		}
		r.byTable[e.Table()] = e
		r.tables = append(r.tables, e.Table())
	}
	sort.Strings(r.tables)
	return r
}

// Tables lists the mirrored tables, sorted.
func (r *Registry) Tables() []string {
	return append([]string(nil), r.tables...)
}

// Entity returns the synchronizer for table.
func (r *Registry) Entity(table string) (Entity, bool) {
	e, ok := r.byTable[table]
	return e, ok
}

// All returns one descriptor per mirrored table.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.tables))
	for _, table := range r.tables {
		e := r.byTable[table]
		out = append(out, Descriptor{Name: e.Name(), Table: table, Run: e.Sync})
	}
	return out
}

// SyncCustomerSubscriptions reconciles one customer's subscriptions.
func (r *Registry) SyncCustomerSubscriptions(ctx context.Context, cfg config.Configuration, customerID string) (Result, error) {
	return r.mustEntity(store.TableSubscriptions).SyncCustomer(ctx, cfg, customerID)
}

func (r *Registry) mustEntity(table string) Entity {
	e, ok := r.byTable[table]
	if !ok {
		panic(fmt.Sprintf("syncer: no synchronizer for %s", table))
	}
	return e
}

// upsertAs mirrors one typed object through the table's synchronizer.
func upsertAs[T any](ctx context.Context, r *Registry, cfg config.Configuration, table string, obj T) (Result, error) {
	s, ok := r.mustEntity(table).(*Synchronizer[T])
	if !ok {
		return Result{Table: table}, fmt.Errorf("synchronizer for %s does not accept %T: %w", table, obj, apperrors.ErrInvalidInput)
	}
	return s.UpsertOne(ctx, cfg, obj)
}

// SyncAccount refreshes a single connected account from the provider.
func (r *Registry) SyncAccount(ctx context.Context, cfg config.Configuration, accountID string) (Result, error) {
	if accountID == "" {
		return Result{Table: store.TableAccounts}, apperrors.ValidationError{Field: store.FieldAccountID, Message: "account id is required"}
	}
	a, err := r.provider.GetAccount(ctx, accountID)
	if err != nil {
		return Result{Table: store.TableAccounts}, fmt.Errorf("retrieve account %s: %w", accountID, err)
	}
	return upsertAs(ctx, r, cfg, store.TableAccounts, a)
}

// MirrorCheckoutSession writes a session the caller just created.
func (r *Registry) MirrorCheckoutSession(ctx context.Context, cfg config.Configuration, s *stripe.CheckoutSession) (Result, error) {
	return upsertAs(ctx, r, cfg, store.TableCheckoutSessions, s)
}
