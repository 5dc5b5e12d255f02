// Package webhook verifies provider event deliveries and fans them out to the handlers
// registered for each event type.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/metrics"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// maxBodyBytes caps a delivery at 1 MiB.
const maxBodyBytes = 1 << 20

// Handler processes one verified event.
type Handler func(ctx context.Context, cfg config.Configuration, event stripe.Event) error

// Descriptor binds a handler to the event types it reacts to.
type Descriptor struct {
	Name   string
	Events []string
	Handle Handler
}

// Dispatcher is the HTTP endpoint for event deliveries.
type Dispatcher struct {
	cfg     config.Configuration
	byEvent map[string][]Descriptor
}

func NewDispatcher(cfg config.Configuration, descs []Descriptor) *Dispatcher {
	byEvent := make(map[string][]Descriptor)
	for _, d := range descs {
		for _, e := range d.Events {
			byEvent[e] = append(byEvent[e], d)
		}
	}
	return &Dispatcher{cfg: cfg, byEvent: byEvent}
}

// Events returns the sorted union of every descriptor's event types.
func Events(descs []Descriptor) []string {
	set := map[string]bool{}
	for _, d := range descs {
		for _, e := range d.Events {
			set[e] = true
		}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}

	secret := d.cfg.Stripe.AccountWebhookSecret
	if r.URL.Query().Get("connect") == "true" {
		secret = d.cfg.Stripe.ConnectWebhookSecret
	}
	if secret == "" {
		logger.Error("Webhook secret not configured", "connect", r.URL.Query().Get("connect") == "true")
		http.Error(w, "webhook secret not configured", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		logger.Warn("Webhook signature verification failed", "error", fmt.Errorf("%w: %v", apperrors.ErrSignature, err))
		metrics.RecordWebhookEvent("unknown", "invalid_signature")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	d.Dispatch(r.Context(), d.cfg, event)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Dispatch runs every handler registered for the event's type and reports how many
// succeeded. A failing handler never affects the others.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg config.Configuration, event stripe.Event) (handled, failed int) {
	eventType := string(event.Type)
	log := logger.With("event_id", event.ID, "event_type", eventType)

	descs := d.byEvent[eventType]
	if len(descs) == 0 {
		log.Debug("No handler for event type")
		metrics.RecordWebhookEvent(eventType, "unhandled")
		return 0, 0
	}

	for _, desc := range descs {
		if err := runHandler(ctx, cfg, desc, event); err != nil {
			failed++
			log.Error("Webhook handler failed", "handler", desc.Name, "error", err)
			continue
		}
		handled++
	}

	status := "ok"
	if failed > 0 {
		status = "handler_error"
	}
	metrics.RecordWebhookEvent(eventType, status)
	log.Debug("Webhook dispatched", "handled", handled, "failed", failed)
	return handled, failed
}

func runHandler(ctx context.Context, cfg config.Configuration, desc Descriptor, event stripe.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.HandlerError{Handler: desc.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return desc.Handle(ctx, cfg, event)
}
