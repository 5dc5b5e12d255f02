package store

import "sort"

// Table names.
const (
	TableAccounts                    = "stripeAccounts"
	TableCustomers                   = "stripeCustomers"
	TableProducts                    = "stripeProducts"
	TablePrices                      = "stripePrices"
	TablePlans                       = "stripePlans"
	TableCoupons                     = "stripeCoupons"
	TablePromotionCodes              = "stripePromotionCodes"
	TableTaxRates                    = "stripeTaxRates"
	TableSubscriptions               = "stripeSubscriptions"
	TableSubscriptionSchedules       = "stripeSubscriptionSchedules"
	TableInvoices                    = "stripeInvoices"
	TableInvoiceItems                = "stripeInvoiceItems"
	TableCreditNotes                 = "stripeCreditNotes"
	TablePaymentIntents              = "stripePaymentIntents"
	TableSetupIntents                = "stripeSetupIntents"
	TableCharges                     = "stripeCharges"
	TableRefunds                     = "stripeRefunds"
	TableDisputes                    = "stripeDisputes"
	TableEarlyFraudWarnings          = "stripeEarlyFraudWarnings"
	TableReviews                     = "stripeReviews"
	TablePayouts                     = "stripePayouts"
	TableTransfers                   = "stripeTransfers"
	TableCheckoutSessions            = "stripeCheckoutSessions"
	TableBillingPortalConfigurations = "stripeBillingPortalConfigurations"

	TableBillingPortalSessions = "stripeBillingPortalSessions"
	TableAccountLinks          = "stripeAccountLinks"
	TablePayments              = "payments"
	TableSubscriptionCheckouts = "subscriptionCheckouts"

	TableAPIKeys = "apiKeys"
)

// Common field names.
const (
	FieldEntityID     = "entityId"
	FieldCustomerID   = "customerId"
	FieldAccountID    = "accountId"
	FieldPayload      = "payload"
	FieldAttemptID    = "attemptId"
	FieldLastSyncedAt = "lastSyncedAt"
)

// Payment and subscription checkout row states.
const (
	PaymentPending    = "pending"
	PaymentPaid       = "paid"
	PaymentProcessing = "processing"
	PaymentExpired    = "expired"
	PaymentCanceled   = "canceled"
)

// Table describes one document table. Key is the field every upsert from the provider
// side is keyed on. Unique fields hold at most one row per value.
type Table struct {
	Name    string
	Key     string
	Unique  []string
	Indexes []string
	Synced  bool
}

// Indexed reports whether field can be used for lookups on this table.
func (t Table) Indexed(field string) bool {
	if field == t.Key {
		return true
	}
	for _, f := range t.Unique {
		if f == field {
			return true
		}
	}
	for _, f := range t.Indexes {
		if f == field {
			return true
		}
	}
	return false
}

// IsUnique reports whether at most one row may carry a given value of field.
func (t Table) IsUnique(field string) bool {
	if field == t.Key {
		return true
	}
	for _, f := range t.Unique {
		if f == field {
			return true
		}
	}
	return false
}

var schema = map[string]Table{}

func define(t Table) {
	schema[t.Name] = t
}

func init() {
	synced := func(name, key string, indexes ...string) {
		define(Table{Name: name, Key: key, Indexes: indexes, Synced: true})
	}

	define(Table{Name: TableAccounts, Key: "accountId", Unique: []string{FieldEntityID}, Synced: true})
	define(Table{Name: TableCustomers, Key: "customerId", Unique: []string{FieldEntityID}, Indexes: []string{"email"}, Synced: true})
	synced(TableProducts, "productId")
	synced(TablePrices, "priceId", "productId")
	synced(TablePlans, "planId", "productId")
	synced(TableCoupons, "couponId")
	synced(TablePromotionCodes, "promotionCodeId", "couponId", "code")
	synced(TableTaxRates, "taxRateId")
	synced(TableSubscriptions, "subscriptionId", FieldCustomerID, FieldEntityID)
	synced(TableSubscriptionSchedules, "subscriptionScheduleId", FieldCustomerID, "subscriptionId")
	synced(TableInvoices, "invoiceId", FieldCustomerID, "subscriptionId")
	synced(TableInvoiceItems, "invoiceItemId", FieldCustomerID, "invoiceId")
	synced(TableCreditNotes, "creditNoteId", FieldCustomerID, "invoiceId")
	synced(TablePaymentIntents, "paymentIntentId", FieldCustomerID, "invoiceId")
	synced(TableSetupIntents, "setupIntentId", FieldCustomerID)
	synced(TableCharges, "chargeId", FieldCustomerID, "paymentIntentId")
	synced(TableRefunds, "refundId", "chargeId", "paymentIntentId")
	synced(TableDisputes, "disputeId", "chargeId")
	synced(TableEarlyFraudWarnings, "earlyFraudWarningId", "chargeId")
	synced(TableReviews, "reviewId", "chargeId")
	synced(TablePayouts, "payoutId")
	synced(TableTransfers, "transferId", "destination")
	synced(TableCheckoutSessions, "checkoutSessionId", FieldCustomerID, FieldEntityID, "subscriptionId", "paymentIntentId")
	synced(TableBillingPortalConfigurations, "billingPortalConfigurationId")

	define(Table{Name: TableBillingPortalSessions, Key: "billingPortalSessionId", Indexes: []string{FieldCustomerID, FieldEntityID}})
	define(Table{Name: TableAccountLinks, Key: "accountLinkId", Indexes: []string{FieldAccountID, FieldEntityID}})
	define(Table{Name: TablePayments, Key: "checkoutSessionId", Indexes: []string{FieldEntityID, FieldCustomerID, "referenceId", FieldAttemptID}})
	define(Table{Name: TableSubscriptionCheckouts, Key: "checkoutSessionId", Indexes: []string{FieldEntityID, FieldCustomerID, "priceId", FieldAttemptID}})
	define(Table{Name: TableAPIKeys, Key: "keyId", Indexes: []string{FieldEntityID}})
}

// Lookup returns the table definition for name.
func Lookup(name string) (Table, bool) {
	t, ok := schema[name]
	return t, ok
}

// Tables lists every defined table, sorted by name.
func Tables() []Table {
	out := make([]Table, 0, len(schema))
	for _, t := range schema {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SyncedTables lists the names of tables mirrored from the provider, sorted.
func SyncedTables() []string {
	var out []string
	for _, t := range Tables() {
		if t.Synced {
			out = append(out, t.Name)
		}
	}
	return out
}
