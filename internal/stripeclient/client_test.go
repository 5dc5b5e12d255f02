package stripeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	stripe "github.com/stripe/stripe-go/v76"
	"golang.org/x/time/rate"
)

func TestClient_UnconfiguredFailsAtFirstUse(t *testing.T) {
	c := New(config.StripeConfig{RateLimit: 10})

	it := c.List(context.Background(), ListRequest{Resource: ResourceCustomers})
	if it.Next() {
		t.Fatal("expected empty iterator")
	}
	if !errors.Is(it.Err(), apperrors.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", it.Err())
	}

	if _, err := c.CreateCustomer(context.Background(), &stripe.CustomerParams{}); !errors.Is(err, apperrors.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from create, got %v", err)
	}
}

func TestClient_UnknownResource(t *testing.T) {
	c := New(config.StripeConfig{SecretKey: "sk_test_x"})
	it := c.List(context.Background(), ListRequest{Resource: "bogus"})
	if it.Next() || !errors.Is(it.Err(), apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", it.Err())
	}
}

func TestRateLimitedTransport_Throttles(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewRateLimitedTransport(http.DefaultTransport, 20)}

	start := time.Now()
	for i := 0; i < 25; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	// 20 burst tokens, then 5 more at 20/s needs roughly 250ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected throttling, finished in %v", elapsed)
	}
	if atomic.LoadInt32(&hits) != 25 {
		t.Fatalf("expected 25 requests, got %d", hits)
	}
}

func TestRateLimitedTransport_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tr := NewRateLimitedTransport(http.DefaultTransport, 1)
	client := &http.Client{Transport: tr}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if _, err := client.Do(req); err == nil {
		t.Fatal("expected the limiter wait to fail once the context expires")
	}
}

func TestRateLimitedTransport_ZeroRateUnlimited(t *testing.T) {
	tr := NewRateLimitedTransport(nil, 0)
	if tr.limiter.Limit() != rate.Inf {
		t.Fatalf("expected unlimited transport, got %v", tr.limiter.Limit())
	}
}
