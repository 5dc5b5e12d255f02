package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rajasatyajit/stripemirror/config"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	sc "github.com/rajasatyajit/stripemirror/internal/stripeclient"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient/stripetest"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
	stripe "github.com/stripe/stripe-go/v76"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// The no-op metrics sink serves nothing, so any HTTP answer proves the listener is up.
func TestStartMetricsServer_Listens(t *testing.T) {
	logger.Init("error", "text")
	port := freePort(t)
	go startMetricsServer(port, "/metrics")

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	var lastErr error
	for deadline := time.Now().Add(3 * time.Second); time.Now().Before(deadline); time.Sleep(50 * time.Millisecond) {
		resp, err := http.Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusOK {
			return
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	t.Fatalf("metrics server not reachable: %v", lastErr)
}

func TestReconcileProvider(t *testing.T) {
	logger.Init("error", "text")
	ctx := context.Background()
	d := store.NewDispatcher(store.NewMemoryBackend())
	fake := stripetest.New()
	o := syncer.NewOrchestrator(syncer.NewRegistry(d, fake), fake, []string{"customer.created"})

	cfg := config.Normalize(config.Configuration{
		App: config.AppConfig{BaseURL: "https://api.example.com", SiteURL: "https://api.example.com"},
	})
	reconcileProvider(ctx, o, cfg)
	if len(fake.WebhookCreates) != 1 {
		t.Fatalf("expected webhook endpoint created, got %d", len(fake.WebhookCreates))
	}
	if len(fake.PortalConfigs) != 1 {
		t.Fatalf("expected portal configuration created, got %d", len(fake.PortalConfigs))
	}
	if rec, _ := d.SelectAll(ctx, store.TableBillingPortalConfigurations); len(rec) != 1 {
		t.Fatalf("expected portal configuration mirrored, got %d rows", len(rec))
	}

	// Without a site URL only the portal is checked, and an existing default is kept.
	fake.Set(sc.ResourceBillingPortalConfigurations, &stripe.BillingPortalConfiguration{ID: "bpc_live", Active: true, IsDefault: true})
	cfg.App.SiteURL = ""
	reconcileProvider(ctx, o, cfg)
	if len(fake.WebhookCreates) != 1 || len(fake.PortalConfigs) != 1 {
		t.Fatalf("expected nothing created, got %d endpoints and %d configurations", len(fake.WebhookCreates), len(fake.PortalConfigs))
	}
}
