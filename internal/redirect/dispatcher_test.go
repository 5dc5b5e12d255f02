package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	sc "github.com/rajasatyajit/stripemirror/internal/stripeclient"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient/stripetest"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
	stripe "github.com/stripe/stripe-go/v76"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newRouter(d *Dispatcher, cfg config.Configuration) http.Handler {
	r := chi.NewRouter()
	r.Get(cfg.Redirect.PathPrefix+"/{origin}", d.ServeHTTP)
	return r
}

func link(t *testing.T, cfg config.Configuration, p Params) string {
	t.Helper()
	raw, err := buildAt(cfg, p, epoch)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	return u.RequestURI()
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestDispatcher_Redirects(t *testing.T) {
	logger.Init("error", "text")
	cfg := testConfig()
	var calls int
	reg := MustRegistry(Descriptor{Origins: []string{"pay-success"}, Handle: func(ctx context.Context, cfg config.Configuration, origin string, data json.RawMessage) error {
		calls++
		return nil
	}})
	d := NewDispatcher(cfg, reg)
	d.now = func() time.Time { return epoch.Add(time.Minute) }
	h := newRouter(d, cfg)

	rr := get(h, link(t, cfg, Params{Origin: "pay-success", TargetURL: "https://app.example.com/thanks", Data: map[string]string{"k": "v"}}))
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "https://app.example.com/thanks" {
		t.Fatalf("expected 302 to target, got %d %s", rr.Code, rr.Header().Get("Location"))
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
}

func TestDispatcher_ExpiryAndOriginBinding(t *testing.T) {
	logger.Init("error", "text")
	cfg := testConfig()
	withFailure := Params{Origin: "pay-success", TargetURL: "https://app.example.com/ok", FailureURL: "https://app.example.com/oops?x=1", TTL: time.Minute}
	noFailure := Params{Origin: "pay-success", TargetURL: "https://app.example.com/ok", TTL: time.Minute}

	tests := []struct {
		name     string
		now      time.Time
		path     func() string
		wantCode int
		wantLoc  string
	}{
		{
			name:     "valid just before expiry",
			now:      epoch.Add(time.Minute),
			path:     func() string { return link(t, cfg, withFailure) },
			wantCode: http.StatusFound,
			wantLoc:  "https://app.example.com/ok",
		},
		{
			name:     "expired with failure url",
			now:      epoch.Add(time.Minute + time.Millisecond),
			path:     func() string { return link(t, cfg, withFailure) },
			wantCode: http.StatusFound,
			wantLoc:  "https://app.example.com/oops?reason=link_expired&x=1",
		},
		{
			name:     "expired without failure url",
			now:      epoch.Add(time.Hour),
			path:     func() string { return link(t, cfg, noFailure) },
			wantCode: http.StatusBadRequest,
		},
		{
			name: "origin mismatch with failure url",
			now:  epoch,
			path: func() string {
				u, _ := url.Parse(link(t, cfg, withFailure))
				return "/stripe/return/pay-cancel?" + u.RawQuery
			},
			wantCode: http.StatusFound,
			wantLoc:  "https://app.example.com/oops?reason=origin_mismatch&x=1",
		},
		{
			name: "origin mismatch without failure url",
			now:  epoch,
			path: func() string {
				u, _ := url.Parse(link(t, cfg, noFailure))
				return "/stripe/return/portal-return?" + u.RawQuery
			},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(cfg, nil)
			d.now = func() time.Time { return tt.now }
			rr := get(newRouter(d, cfg), tt.path())
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, rr.Code, rr.Body.String())
			}
			if tt.wantLoc != "" && rr.Header().Get("Location") != tt.wantLoc {
				t.Fatalf("expected location %s, got %s", tt.wantLoc, rr.Header().Get("Location"))
			}
		})
	}
}

func TestDispatcher_InvalidTarget(t *testing.T) {
	cfg := testConfig()
	encoded, _ := Encode(Payload{Origin: "pay-success", Exp: epoch.Add(time.Hour).UnixMilli(), FailureURL: "https://app.example.com/fail"})
	q := url.Values{"data": {encoded}, "signature": {NewSigner(cfg.Redirect.Secret).Sign(encoded)}}

	d := NewDispatcher(cfg, nil)
	d.now = func() time.Time { return epoch }
	rr := get(newRouter(d, cfg), "/stripe/return/pay-success?"+q.Encode())
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "https://app.example.com/fail?reason=invalid_target" {
		t.Fatalf("expected invalid_target redirect, got %d %s", rr.Code, rr.Header().Get("Location"))
	}
}

func TestDispatcher_BadRequests(t *testing.T) {
	cfg := testConfig()
	valid := link(t, cfg, Params{Origin: "pay-success", TargetURL: "https://app.example.com/ok"})
	u, _ := url.Parse(valid)
	q := u.Query()

	tests := []struct {
		name string
		path string
	}{
		{"missing data", "/stripe/return/pay-success?signature=" + q.Get("signature")},
		{"missing signature", "/stripe/return/pay-success?data=" + q.Get("data")},
		{"bad signature", "/stripe/return/pay-success?data=" + q.Get("data") + "&signature=AAAA"},
		{"signed with another secret", "/stripe/return/pay-success?data=" + q.Get("data") + "&signature=" + NewSigner("other").Sign(q.Get("data"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(cfg, nil)
			d.now = func() time.Time { return epoch }
			if rr := get(newRouter(d, cfg), tt.path); rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestDispatcher_HandlerFailureStillRedirects(t *testing.T) {
	logger.Init("error", "text")
	cfg := testConfig()
	reg := MustRegistry(
		Descriptor{Origins: []string{"pay-success"}, Handle: func(context.Context, config.Configuration, string, json.RawMessage) error {
			panic("boom")
		}},
		Descriptor{Origins: []string{"pay-cancel"}, Handle: func(context.Context, config.Configuration, string, json.RawMessage) error {
			return errors.New("store down")
		}},
	)
	for _, origin := range []string{"pay-success", "pay-cancel", "unregistered"} {
		d := NewDispatcher(cfg, reg)
		d.now = func() time.Time { return epoch }
		rr := get(newRouter(d, cfg), link(t, cfg, Params{Origin: origin, TargetURL: "https://app.example.com/next"}))
		if rr.Code != http.StatusFound || rr.Header().Get("Location") != "https://app.example.com/next" {
			t.Fatalf("%s: expected redirect to target, got %d", origin, rr.Code)
		}
	}
}

func TestNewRegistry_DuplicateOrigin(t *testing.T) {
	noop := func(context.Context, config.Configuration, string, json.RawMessage) error { return nil }
	_, err := NewRegistry(
		Descriptor{Origins: []string{"a", "b"}, Handle: noop},
		Descriptor{Origins: []string{"b"}, Handle: noop},
	)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected MustRegistry to panic")
		}
	}()
	MustRegistry(Descriptor{Origins: []string{"a"}, Handle: noop}, Descriptor{Origins: []string{"a"}, Handle: noop})
}

func TestBuiltins(t *testing.T) {
	logger.Init("error", "text")
	ctx := context.Background()
	cfg := testConfig()
	d := store.NewDispatcher(store.NewMemoryBackend())
	fake := stripetest.New()
	reg := syncer.NewRegistry(d, fake)
	registry := MustRegistry(Builtins(reg, d)...)

	fake.Set(sc.ResourceSubscriptions, &stripe.Subscription{ID: "sub_1", Customer: &stripe.Customer{ID: "cus_1"}, Status: stripe.SubscriptionStatusActive})
	fake.Set(sc.ResourceAccounts, &stripe.Account{ID: "acct_1", DetailsSubmitted: true, Metadata: map[string]string{"entityId": "org1"}})
	d.Upsert(ctx, store.TablePayments, "checkoutSessionId", store.Document{
		"checkoutSessionId": "cs_1", "attemptId": "att_1", "status": store.PaymentPending,
	})

	run := func(origin string, data ReturnData) {
		t.Helper()
		h, ok := registry.lookup(origin)
		if !ok {
			t.Fatalf("no builtin for %s", origin)
		}
		raw, _ := json.Marshal(data)
		if err := h(ctx, cfg, origin, raw); err != nil {
			t.Fatalf("%s: %v", origin, err)
		}
	}

	run(OriginPayCancel, ReturnData{CustomerID: "cus_1", AttemptID: "att_1"})
	rec, _ := d.SelectOne(ctx, store.TablePayments, "checkoutSessionId", "cs_1")
	if rec.String("status") != store.PaymentCanceled {
		t.Fatalf("expected canceled payment, got %v", rec.Fields)
	}
	if sub, _ := d.SelectOne(ctx, store.TableSubscriptions, "subscriptionId", "sub_1"); sub == nil {
		t.Fatal("expected subscriptions resynced")
	}

	run(OriginAccountLinkReturn, ReturnData{EntityID: "org1", AccountID: "acct_1"})
	if acct, _ := d.SelectOne(ctx, store.TableAccounts, "accountId", "acct_1"); acct == nil || acct.Fields["detailsSubmitted"] != true {
		t.Fatalf("expected account resynced, got %v", acct)
	}

	for _, origin := range []string{OriginPaySuccess, OriginSubscribeSuccess, OriginSubscribeCancel, OriginPortalReturn, OriginAccountLinkRefresh} {
		if _, ok := registry.lookup(origin); !ok {
			t.Errorf("missing builtin origin %s", origin)
		}
	}
}
