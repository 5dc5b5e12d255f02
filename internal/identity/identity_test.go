package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient/stripetest"
	stripe "github.com/stripe/stripe-go/v76"
)

func newResolver(t *testing.T) (*Resolver, *store.Dispatcher, *stripetest.Fake) {
	t.Helper()
	d := store.NewDispatcher(store.NewMemoryBackend())
	fake := stripetest.New()
	cfg := config.Normalize(config.Configuration{})
	return NewResolver(d, fake, nil, cfg), d, fake
}

func TestEntityIDFromMetadata(t *testing.T) {
	tests := []struct {
		name string
		md   map[string]string
		want string
		ok   bool
	}{
		{"present", map[string]string{"entityId": "u1"}, "u1", true},
		{"empty value", map[string]string{"entityId": ""}, "", false},
		{"absent", map[string]string{"other": "x"}, "", false},
		{"nil map", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EntityIDFromMetadata(tt.md, "entityId")
			if got != tt.want || ok != tt.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCustomerForEntity_ExistingLink(t *testing.T) {
	r, d, fake := newResolver(t)
	ctx := context.Background()
	if _, err := d.Upsert(ctx, store.TableCustomers, store.FieldCustomerID, store.Document{
		store.FieldCustomerID: "cus_1", store.FieldEntityID: "u1",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := r.CustomerForEntity(ctx, "u1", Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if id != "cus_1" {
		t.Fatalf("expected cus_1, got %s", id)
	}
	if fake.Calls() != 0 {
		t.Fatalf("expected no remote calls, got %d", fake.Calls())
	}
}

func TestCustomerForEntity_MissingWithoutCreate(t *testing.T) {
	r, _, fake := newResolver(t)

	_, err := r.CustomerForEntity(context.Background(), "u1", Options{})
	var missing apperrors.MissingLinkError
	if !errors.As(err, &missing) || missing.EntityID != "u1" {
		t.Fatalf("expected MissingLinkError for u1, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain, got %v", err)
	}
	if fake.Calls() != 0 {
		t.Fatalf("expected no remote calls, got %d", fake.Calls())
	}
}

func TestCustomerForEntity_CreatesAndMirrors(t *testing.T) {
	r, d, fake := newResolver(t)
	ctx := context.Background()

	id, err := r.CustomerForEntity(ctx, "u1", Options{CreateIfMissing: true, Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.Customers) != 1 || fake.Customers[0].Metadata["entityId"] != "u1" {
		t.Fatalf("expected one customer created with entity metadata, got %+v", fake.Customers)
	}

	rec, err := d.SelectOne(ctx, store.TableCustomers, store.FieldEntityID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.String(store.FieldCustomerID) != id || rec.String("email") != "a@example.com" {
		t.Fatalf("unexpected mirrored row %v", rec)
	}

	// second call reuses the link
	again, err := r.CustomerForEntity(ctx, "u1", Options{CreateIfMissing: true})
	if err != nil || again != id {
		t.Fatalf("expected %s again, got %s (%v)", id, again, err)
	}
	if len(fake.Customers) != 1 {
		t.Fatalf("expected no second create, got %d", len(fake.Customers))
	}
}

func TestCustomerForEntity_ConcurrentCreatesOnce(t *testing.T) {
	r, _, fake := newResolver(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.CustomerForEntity(ctx, "u1", Options{CreateIfMissing: true})
			if err != nil {
				t.Errorf("resolve: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if len(fake.Customers) != 1 {
		t.Fatalf("expected a single remote create, got %d", len(fake.Customers))
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected every caller to see %s, got %v", ids[0], ids)
		}
	}
}

func TestCustomerForEntity_RemoteFailure(t *testing.T) {
	r, d, fake := newResolver(t)
	fake.CreateErr = errors.New("card_declined")

	if _, err := r.CustomerForEntity(context.Background(), "u1", Options{CreateIfMissing: true}); err == nil {
		t.Fatal("expected error")
	}
	all, _ := d.SelectAll(context.Background(), store.TableCustomers)
	if len(all) != 0 {
		t.Fatalf("expected nothing mirrored, got %d rows", len(all))
	}
}

func TestAccountForEntity_DefaultsToExpress(t *testing.T) {
	r, d, fake := newResolver(t)
	ctx := context.Background()

	id, err := r.AccountForEntity(ctx, "org1", Options{CreateIfMissing: true, Country: "US"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.Accounts) != 1 {
		t.Fatalf("expected one account create, got %d", len(fake.Accounts))
	}
	if got := *fake.Accounts[0].Type; got != string(stripe.AccountTypeExpress) {
		t.Fatalf("expected express account, got %s", got)
	}
	rec, _ := d.SelectOne(ctx, store.TableAccounts, store.FieldEntityID, "org1")
	if rec.String(store.FieldAccountID) != id {
		t.Fatalf("expected mirrored account %s, got %v", id, rec)
	}
}

func TestEntityForCustomer(t *testing.T) {
	r, d, _ := newResolver(t)
	ctx := context.Background()
	d.Upsert(ctx, store.TableCustomers, store.FieldCustomerID, store.Document{
		store.FieldCustomerID: "cus_1", store.FieldEntityID: "u1",
	})

	got, err := r.EntityForCustomer(ctx, "cus_1")
	if err != nil || got != "u1" {
		t.Fatalf("expected u1, got %q (%v)", got, err)
	}
	got, err = r.EntityForCustomer(ctx, "cus_unknown")
	if err != nil || got != "" {
		t.Fatalf("expected empty result, got %q (%v)", got, err)
	}
}

func TestCustomerDocument_NullsMissingLink(t *testing.T) {
	doc := CustomerDocument(&stripe.Customer{ID: "cus_1"}, "entityId")
	if v, ok := doc[store.FieldEntityID]; !ok || v != nil {
		t.Fatalf("expected an explicit nil entity id, got %v", doc)
	}
	if doc["email"] != nil {
		t.Fatalf("expected nil email, got %v", doc["email"])
	}
}
