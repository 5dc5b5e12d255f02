package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
	stripe "github.com/stripe/stripe-go/v76"
)

// entityEvents lists, per mirrored table, the events that carry that object.
var entityEvents = map[string][]string{
	store.TableAccounts:  {"account.updated"},
	store.TableCustomers: {"customer.created", "customer.updated", "customer.deleted"},
	store.TableProducts:  {"product.created", "product.updated", "product.deleted"},
	store.TablePrices:    {"price.created", "price.updated", "price.deleted"},
	store.TablePlans:     {"plan.created", "plan.updated", "plan.deleted"},
	store.TableCoupons:   {"coupon.created", "coupon.updated", "coupon.deleted"},
	store.TablePromotionCodes: {
		"promotion_code.created", "promotion_code.updated",
	},
	store.TableTaxRates: {"tax_rate.created", "tax_rate.updated"},
	store.TableSubscriptions: {
		"customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted",
		"customer.subscription.paused", "customer.subscription.resumed", "customer.subscription.trial_will_end",
		"customer.subscription.pending_update_applied", "customer.subscription.pending_update_expired",
	},
	store.TableSubscriptionSchedules: {
		"subscription_schedule.created", "subscription_schedule.updated", "subscription_schedule.canceled",
		"subscription_schedule.completed", "subscription_schedule.released", "subscription_schedule.aborted",
		"subscription_schedule.expiring",
	},
	store.TableInvoices: {
		"invoice.created", "invoice.updated", "invoice.finalized", "invoice.paid", "invoice.payment_failed",
		"invoice.payment_succeeded", "invoice.voided", "invoice.marked_uncollectible", "invoice.sent",
		"invoice.deleted",
	},
	store.TableInvoiceItems: {"invoiceitem.created", "invoiceitem.deleted"},
	store.TableCreditNotes:  {"credit_note.created", "credit_note.updated", "credit_note.voided"},
	store.TablePaymentIntents: {
		"payment_intent.created", "payment_intent.succeeded", "payment_intent.payment_failed",
		"payment_intent.canceled", "payment_intent.processing", "payment_intent.requires_action",
		"payment_intent.amount_capturable_updated", "payment_intent.partially_funded",
	},
	store.TableSetupIntents: {
		"setup_intent.created", "setup_intent.succeeded", "setup_intent.setup_failed",
		"setup_intent.canceled", "setup_intent.requires_action",
	},
	store.TableCharges: {
		"charge.succeeded", "charge.failed", "charge.captured", "charge.refunded",
		"charge.updated", "charge.pending", "charge.expired",
	},
	store.TableRefunds: {"charge.refund.updated"},
	store.TableDisputes: {
		"charge.dispute.created", "charge.dispute.updated", "charge.dispute.closed",
		"charge.dispute.funds_withdrawn", "charge.dispute.funds_reinstated",
	},
	store.TableEarlyFraudWarnings: {"radar.early_fraud_warning.created", "radar.early_fraud_warning.updated"},
	store.TableReviews:            {"review.opened", "review.closed"},
	store.TablePayouts: {
		"payout.created", "payout.updated", "payout.paid", "payout.failed", "payout.canceled",
	},
	store.TableTransfers: {"transfer.created", "transfer.updated", "transfer.reversed"},
	store.TableCheckoutSessions: {
		"checkout.session.completed", "checkout.session.expired",
		"checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed",
	},
	store.TableBillingPortalConfigurations: {
		"billing_portal.configuration.created", "billing_portal.configuration.updated",
	},
}

// deletionEvents remove the mirrored row instead of upserting it. Subscriptions are
// excluded: a deleted subscription is still listed, with status canceled.
var deletionEvents = map[string]bool{
	"customer.deleted":    true,
	"product.deleted":     true,
	"price.deleted":       true,
	"plan.deleted":        true,
	"coupon.deleted":      true,
	"invoice.deleted":     true,
	"invoiceitem.deleted": true,
}

// lifecycleEvents resync the subscriptions of the event's customer.
var lifecycleEvents = []string{
	"checkout.session.completed",
	"invoice.paid",
	"invoice.payment_failed",
	"payment_intent.succeeded",
}

// All builds the descriptors for every mirrored table plus the subscription lifecycle
// and payment status handlers.
func All(reg *syncer.Registry, d *store.Dispatcher) []Descriptor {
	var out []Descriptor
	for _, table := range reg.Tables() {
		e, _ := reg.Entity(table)
		out = append(out, Descriptor{
			Name:   "sync:" + e.Name(),
			Events: entityEvents[table],
			Handle: entityHandler(e),
		})
	}
	out = append(out,
		Descriptor{Name: "subscription-lifecycle", Events: lifecycleEvents, Handle: lifecycleHandler(reg)},
		Descriptor{
			Name:   "payment-status",
			Events: []string{"checkout.session.completed", "checkout.session.expired"},
			Handle: paymentStatusHandler(d),
		},
	)
	return out
}

func entityHandler(e syncer.Entity) Handler {
	return func(ctx context.Context, cfg config.Configuration, event stripe.Event) error {
		if deletionEvents[string(event.Type)] {
			id, err := objectID(event)
			if err != nil {
				return err
			}
			_, err = e.DeleteOne(ctx, cfg, id)
			return err
		}
		_, err := e.UpsertRaw(ctx, cfg, rawObject(event))
		return err
	}
}

func lifecycleHandler(reg *syncer.Registry) Handler {
	return func(ctx context.Context, cfg config.Configuration, event stripe.Event) error {
		customerID, err := objectCustomer(event)
		if err != nil {
			return err
		}
		if customerID == "" {
			logger.Debug("Lifecycle event without customer", "event_id", event.ID, "event_type", string(event.Type))
			return nil
		}
		_, err = reg.SyncCustomerSubscriptions(ctx, cfg, customerID)
		return err
	}
}

func paymentStatusHandler(d *store.Dispatcher) Handler {
	return func(ctx context.Context, cfg config.Configuration, event stripe.Event) error {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(rawObject(event), &s); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		status := checkoutStatus(string(event.Type), &s)
		for _, table := range []string{store.TablePayments, store.TableSubscriptionCheckouts} {
			rec, err := d.SelectOne(ctx, table, "checkoutSessionId", s.ID)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			doc := store.Document{"checkoutSessionId": s.ID, "status": status}
			if s.PaymentIntent != nil {
				doc["paymentIntentId"] = s.PaymentIntent.ID
			}
			if s.Subscription != nil {
				doc["subscriptionId"] = s.Subscription.ID
			}
			if _, err := d.Upsert(ctx, table, "checkoutSessionId", doc); err != nil {
				return err
			}
		}
		return nil
	}
}

func checkoutStatus(eventType string, s *stripe.CheckoutSession) string {
	if eventType == "checkout.session.expired" {
		return store.PaymentExpired
	}
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return store.PaymentPaid
	default:
		return store.PaymentProcessing
	}
}

func objectID(event stripe.Event) (string, error) {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rawObject(event), &obj); err != nil {
		return "", fmt.Errorf("decode event object: %w", err)
	}
	if obj.ID == "" {
		return "", apperrors.ValidationError{Field: "id", Message: "event object has no id"}
	}
	return obj.ID, nil
}

// objectCustomer reads the customer reference, expanded or not, from the event object.
func objectCustomer(event stripe.Event) (string, error) {
	var obj struct {
		Object   string          `json:"object"`
		ID       string          `json:"id"`
		Customer json.RawMessage `json:"customer"`
	}
	if err := json.Unmarshal(rawObject(event), &obj); err != nil {
		return "", fmt.Errorf("decode event object: %w", err)
	}
	if obj.Object == "customer" {
		return obj.ID, nil
	}
	raw := bytes.TrimSpace(obj.Customer)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if strings.HasPrefix(string(raw), `"`) {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
		return id, nil
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err != nil {
		return "", err
	}
	return expanded.ID, nil
}

func rawObject(event stripe.Event) json.RawMessage {
	if event.Data == nil {
		return nil
	}
	return event.Data.Raw
}
