package syncer

import (
	"github.com/rajasatyajit/stripemirror/internal/identity"
	"github.com/rajasatyajit/stripemirror/internal/store"
	stripe "github.com/stripe/stripe-go/v76"
)

// Converters turn one provider object into its mirror row. Expandable references are
// reduced to ids and payload carries the full snapshot.

func convertAccount(a *stripe.Account, key string) store.Document {
	return identity.AccountDocument(a, key)
}

func convertCustomer(c *stripe.Customer, key string) store.Document {
	return identity.CustomerDocument(c, key)
}

func convertProduct(p *stripe.Product, _ string) store.Document {
	return store.Document{
		"productId":        p.ID,
		"name":             store.Nullable(p.Name),
		"description":      store.Nullable(p.Description),
		"active":           p.Active,
		store.FieldPayload: store.Snapshot(p),
	}
}

func convertPrice(p *stripe.Price, _ string) store.Document {
	doc := store.Document{
		"priceId":          p.ID,
		"productId":        productRef(p.Product),
		"active":           p.Active,
		"currency":         store.Nullable(string(p.Currency)),
		"unitAmount":       p.UnitAmount,
		"type":             store.Nullable(string(p.Type)),
		"interval":         nil,
		store.FieldPayload: store.Snapshot(p),
	}
	if p.Recurring != nil {
		doc["interval"] = store.Nullable(string(p.Recurring.Interval))
	}
	return doc
}

func convertPlan(p *stripe.Plan, _ string) store.Document {
	return store.Document{
		"planId":           p.ID,
		"productId":        productRef(p.Product),
		"active":           p.Active,
		"amount":           p.Amount,
		"currency":         store.Nullable(string(p.Currency)),
		"interval":         store.Nullable(string(p.Interval)),
		store.FieldPayload: store.Snapshot(p),
	}
}

func convertCoupon(c *stripe.Coupon, _ string) store.Document {
	return store.Document{
		"couponId":         c.ID,
		"name":             store.Nullable(c.Name),
		"percentOff":       c.PercentOff,
		"amountOff":        c.AmountOff,
		"duration":         store.Nullable(string(c.Duration)),
		"valid":            c.Valid,
		store.FieldPayload: store.Snapshot(c),
	}
}

func convertPromotionCode(p *stripe.PromotionCode, _ string) store.Document {
	doc := store.Document{
		"promotionCodeId":     p.ID,
		"code":                store.Nullable(p.Code),
		"active":              p.Active,
		"couponId":            nil,
		store.FieldCustomerID: customerRef(p.Customer),
		store.FieldPayload:    store.Snapshot(p),
	}
	if p.Coupon != nil {
		doc["couponId"] = store.Nullable(p.Coupon.ID)
	}
	return doc
}

func convertTaxRate(r *stripe.TaxRate, _ string) store.Document {
	return store.Document{
		"taxRateId":        r.ID,
		"displayName":      store.Nullable(r.DisplayName),
		"percentage":       r.Percentage,
		"inclusive":        r.Inclusive,
		"active":           r.Active,
		store.FieldPayload: store.Snapshot(r),
	}
}

func convertSubscription(s *stripe.Subscription, key string) store.Document {
	var priceIDs []string
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item != nil && item.Price != nil {
				priceIDs = append(priceIDs, item.Price.ID)
			}
		}
	}
	doc := store.Document{
		"subscriptionId":      s.ID,
		store.FieldCustomerID: customerRef(s.Customer),
		"status":              store.Nullable(string(s.Status)),
		"priceIds":            priceIDs,
		"cancelAtPeriodEnd":   s.CancelAtPeriodEnd,
		"currentPeriodEnd":    s.CurrentPeriodEnd,
		store.FieldPayload:    store.Snapshot(s),
	}
	doc[store.FieldEntityID] = identity.EntityField(s.Metadata, key)
	return doc
}

func convertSubscriptionSchedule(s *stripe.SubscriptionSchedule, _ string) store.Document {
	return store.Document{
		"subscriptionScheduleId": s.ID,
		store.FieldCustomerID:    customerRef(s.Customer),
		"subscriptionId":         subscriptionRef(s.Subscription),
		"status":                 store.Nullable(string(s.Status)),
		store.FieldPayload:       store.Snapshot(s),
	}
}

func convertInvoice(i *stripe.Invoice, _ string) store.Document {
	return store.Document{
		"invoiceId":           i.ID,
		store.FieldCustomerID: customerRef(i.Customer),
		"subscriptionId":      subscriptionRef(i.Subscription),
		"status":              store.Nullable(string(i.Status)),
		"amountDue":           i.AmountDue,
		"amountPaid":          i.AmountPaid,
		"currency":            store.Nullable(string(i.Currency)),
		"hostedInvoiceUrl":    store.Nullable(i.HostedInvoiceURL),
		store.FieldPayload:    store.Snapshot(i),
	}
}

func convertInvoiceItem(i *stripe.InvoiceItem, _ string) store.Document {
	return store.Document{
		"invoiceItemId":       i.ID,
		store.FieldCustomerID: customerRef(i.Customer),
		"invoiceId":           invoiceRef(i.Invoice),
		"amount":              i.Amount,
		"currency":            store.Nullable(string(i.Currency)),
		store.FieldPayload:    store.Snapshot(i),
	}
}

func convertCreditNote(n *stripe.CreditNote, _ string) store.Document {
	return store.Document{
		"creditNoteId":        n.ID,
		store.FieldCustomerID: customerRef(n.Customer),
		"invoiceId":           invoiceRef(n.Invoice),
		"status":              store.Nullable(string(n.Status)),
		"total":               n.Total,
		store.FieldPayload:    store.Snapshot(n),
	}
}

func convertPaymentIntent(p *stripe.PaymentIntent, _ string) store.Document {
	return store.Document{
		"paymentIntentId":     p.ID,
		store.FieldCustomerID: customerRef(p.Customer),
		"invoiceId":           invoiceRef(p.Invoice),
		"status":              store.Nullable(string(p.Status)),
		"amount":              p.Amount,
		"currency":            store.Nullable(string(p.Currency)),
		store.FieldPayload:    store.Snapshot(p),
	}
}

func convertSetupIntent(s *stripe.SetupIntent, _ string) store.Document {
	return store.Document{
		"setupIntentId":       s.ID,
		store.FieldCustomerID: customerRef(s.Customer),
		"status":              store.Nullable(string(s.Status)),
		store.FieldPayload:    store.Snapshot(s),
	}
}

func convertCharge(c *stripe.Charge, _ string) store.Document {
	return store.Document{
		"chargeId":            c.ID,
		store.FieldCustomerID: customerRef(c.Customer),
		"paymentIntentId":     paymentIntentRef(c.PaymentIntent),
		"amount":              c.Amount,
		"currency":            store.Nullable(string(c.Currency)),
		"paid":                c.Paid,
		"refunded":            c.Refunded,
		"status":              store.Nullable(string(c.Status)),
		store.FieldPayload:    store.Snapshot(c),
	}
}

func convertRefund(r *stripe.Refund, _ string) store.Document {
	return store.Document{
		"refundId":         r.ID,
		"chargeId":         chargeRef(r.Charge),
		"paymentIntentId":  paymentIntentRef(r.PaymentIntent),
		"amount":           r.Amount,
		"status":           store.Nullable(string(r.Status)),
		store.FieldPayload: store.Snapshot(r),
	}
}

func convertDispute(d *stripe.Dispute, _ string) store.Document {
	return store.Document{
		"disputeId":        d.ID,
		"chargeId":         chargeRef(d.Charge),
		"amount":           d.Amount,
		"status":           store.Nullable(string(d.Status)),
		"reason":           store.Nullable(string(d.Reason)),
		store.FieldPayload: store.Snapshot(d),
	}
}

func convertEarlyFraudWarning(w *stripe.RadarEarlyFraudWarning, _ string) store.Document {
	return store.Document{
		"earlyFraudWarningId": w.ID,
		"chargeId":            chargeRef(w.Charge),
		"fraudType":           store.Nullable(string(w.FraudType)),
		"actionable":          w.Actionable,
		store.FieldPayload:    store.Snapshot(w),
	}
}

func convertReview(r *stripe.Review, _ string) store.Document {
	return store.Document{
		"reviewId":         r.ID,
		"chargeId":         chargeRef(r.Charge),
		"open":             r.Open,
		"reason":           store.Nullable(string(r.Reason)),
		store.FieldPayload: store.Snapshot(r),
	}
}

func convertPayout(p *stripe.Payout, _ string) store.Document {
	return store.Document{
		"payoutId":         p.ID,
		"amount":           p.Amount,
		"currency":         store.Nullable(string(p.Currency)),
		"status":           store.Nullable(string(p.Status)),
		"arrivalDate":      p.ArrivalDate,
		store.FieldPayload: store.Snapshot(p),
	}
}

func convertTransfer(t *stripe.Transfer, _ string) store.Document {
	doc := store.Document{
		"transferId":       t.ID,
		"amount":           t.Amount,
		"currency":         store.Nullable(string(t.Currency)),
		"destination":      nil,
		store.FieldPayload: store.Snapshot(t),
	}
	if t.Destination != nil {
		doc["destination"] = store.Nullable(t.Destination.ID)
	}
	return doc
}

func convertCheckoutSession(s *stripe.CheckoutSession, key string) store.Document {
	doc := store.Document{
		"checkoutSessionId":   s.ID,
		store.FieldCustomerID: customerRef(s.Customer),
		"subscriptionId":      subscriptionRef(s.Subscription),
		"paymentIntentId":     paymentIntentRef(s.PaymentIntent),
		"mode":                store.Nullable(string(s.Mode)),
		"status":              store.Nullable(string(s.Status)),
		"paymentStatus":       store.Nullable(string(s.PaymentStatus)),
		"url":                 store.Nullable(s.URL),
		"clientReferenceId":   store.Nullable(s.ClientReferenceID),
		store.FieldPayload:    store.Snapshot(s),
	}
	doc[store.FieldEntityID] = identity.EntityField(s.Metadata, key)
	return doc
}

func convertBillingPortalConfiguration(c *stripe.BillingPortalConfiguration, _ string) store.Document {
	return store.Document{
		"billingPortalConfigurationId": c.ID,
		"active":                       c.Active,
		"isDefault":                    c.IsDefault,
		store.FieldPayload:             store.Snapshot(c),
	}
}

func customerRef(c *stripe.Customer) any {
	if c == nil {
		return nil
	}
	return store.Nullable(c.ID)
}

func productRef(p *stripe.Product) any {
	if p == nil {
		return nil
	}
	return store.Nullable(p.ID)
}

func subscriptionRef(s *stripe.Subscription) any {
	if s == nil {
		return nil
	}
	return store.Nullable(s.ID)
}

func invoiceRef(i *stripe.Invoice) any {
	if i == nil {
		return nil
	}
	return store.Nullable(i.ID)
}

func paymentIntentRef(p *stripe.PaymentIntent) any {
	if p == nil {
		return nil
	}
	return store.Nullable(p.ID)
}

func chargeRef(c *stripe.Charge) any {
	if c == nil {
		return nil
	}
	return store.Nullable(c.ID)
}
