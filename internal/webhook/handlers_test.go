package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	sc "github.com/rajasatyajit/stripemirror/internal/stripeclient"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient/stripetest"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
	stripe "github.com/stripe/stripe-go/v76"
)

func newMirror(t *testing.T) (*Dispatcher, *store.Dispatcher, *stripetest.Fake) {
	t.Helper()
	logger.Init("error", "text")
	d := store.NewDispatcher(store.NewMemoryBackend())
	fake := stripetest.New()
	reg := syncer.NewRegistry(d, fake)
	return NewDispatcher(testConfig(), All(reg, d)), d, fake
}

func event(t *testing.T, eventType, object string) stripe.Event {
	t.Helper()
	var e stripe.Event
	if err := json.Unmarshal([]byte(eventPayload(eventType, object)), &e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestAll_CoversEverySyncedTable(t *testing.T) {
	d := store.NewDispatcher(store.NewMemoryBackend())
	descs := All(syncer.NewRegistry(d, stripetest.New()), d)
	for _, table := range store.SyncedTables() {
		if len(entityEvents[table]) == 0 {
			t.Errorf("table %s has no webhook events", table)
		}
	}
	if len(descs) != len(store.SyncedTables())+2 {
		t.Fatalf("unexpected descriptor count %d", len(descs))
	}
}

func TestCustomerEvents(t *testing.T) {
	wh, d, _ := newMirror(t)
	ctx := context.Background()

	rr := deliver(t, wh, "/stripe/webhook",
		eventPayload("customer.created", `{"id":"cus_1","object":"customer","email":"a@example.com","metadata":{"entityId":"u1"}}`),
		accountSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rec, _ := d.SelectOne(ctx, store.TableCustomers, store.FieldEntityID, "u1")
	if rec.String(store.FieldCustomerID) != "cus_1" || rec.String("email") != "a@example.com" {
		t.Fatalf("unexpected customer row %v", rec)
	}

	wh.Dispatch(ctx, testConfig(), event(t, "customer.deleted", `{"id":"cus_1","object":"customer","deleted":true}`))
	if rec, _ := d.SelectOne(ctx, store.TableCustomers, store.FieldCustomerID, "cus_1"); rec != nil {
		t.Fatalf("expected customer removed, got %v", rec)
	}
}

func TestInvoicePaid_ResyncsSubscriptions(t *testing.T) {
	wh, d, fake := newMirror(t)
	ctx := context.Background()
	fake.Set(sc.ResourceSubscriptions, &stripe.Subscription{
		ID: "sub_1", Customer: &stripe.Customer{ID: "cus_1"}, Status: stripe.SubscriptionStatusActive,
	})

	handled, failed := wh.Dispatch(ctx, testConfig(),
		event(t, "invoice.paid", `{"id":"in_1","object":"invoice","customer":"cus_1","subscription":"sub_1","status":"paid"}`))
	if handled != 2 || failed != 0 {
		t.Fatalf("expected invoice sync and lifecycle handlers, got %d/%d", handled, failed)
	}
	if rec, _ := d.SelectOne(ctx, store.TableInvoices, "invoiceId", "in_1"); rec.String("status") != "paid" {
		t.Fatalf("unexpected invoice row %v", rec)
	}
	rec, _ := d.SelectOne(ctx, store.TableSubscriptions, "subscriptionId", "sub_1")
	if rec.String("status") != "active" {
		t.Fatalf("expected resynced subscription, got %v", rec)
	}
	if len(fake.Lists) != 1 || fake.Lists[0].Customer != "cus_1" {
		t.Fatalf("expected one customer-scoped listing, got %+v", fake.Lists)
	}
}

func TestCheckoutEvents_UpdatePaymentStatus(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		object    string
		want      string
	}{
		{"completed and paid", "checkout.session.completed",
			`{"id":"cs_1","object":"checkout.session","customer":"cus_1","payment_status":"paid","payment_intent":"pi_1"}`, store.PaymentPaid},
		{"completed async", "checkout.session.completed",
			`{"id":"cs_1","object":"checkout.session","customer":"cus_1","payment_status":"unpaid"}`, store.PaymentProcessing},
		{"expired", "checkout.session.expired",
			`{"id":"cs_1","object":"checkout.session","status":"expired"}`, store.PaymentExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh, d, _ := newMirror(t)
			ctx := context.Background()
			d.Upsert(ctx, store.TablePayments, "checkoutSessionId", store.Document{
				"checkoutSessionId": "cs_1", "entityId": "u1", "status": store.PaymentPending,
			})

			if _, failed := wh.Dispatch(ctx, testConfig(), event(t, tt.eventType, tt.object)); failed != 0 {
				t.Fatalf("expected no handler failures, got %d", failed)
			}
			rec, _ := d.SelectOne(ctx, store.TablePayments, "checkoutSessionId", "cs_1")
			if rec.String("status") != tt.want || rec.String("entityId") != "u1" {
				t.Fatalf("unexpected payment row %v", rec.Fields)
			}
			if session, _ := d.SelectOne(ctx, store.TableCheckoutSessions, "checkoutSessionId", "cs_1"); session == nil {
				t.Fatal("expected checkout session mirrored")
			}
		})
	}
}

func TestObjectCustomer(t *testing.T) {
	tests := []struct {
		object string
		want   string
	}{
		{`{"id":"pi_1","customer":"cus_1"}`, "cus_1"},
		{`{"id":"pi_1","customer":{"id":"cus_2","object":"customer"}}`, "cus_2"},
		{`{"id":"pi_1","customer":null}`, ""},
		{`{"id":"cus_3","object":"customer"}`, "cus_3"},
	}
	for _, tt := range tests {
		got, err := objectCustomer(stripe.Event{Data: &stripe.EventData{Raw: json.RawMessage(tt.object)}})
		if err != nil || got != tt.want {
			t.Errorf("objectCustomer(%s) = %q, %v; want %q", tt.object, got, err, tt.want)
		}
	}
}
