package redirect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/metrics"
)

// Handler runs the side effect of a return. It decodes data itself.
type Handler func(ctx context.Context, cfg config.Configuration, origin string, data json.RawMessage) error

// Descriptor binds a handler to one or more origins.
type Descriptor struct {
	Origins []string
	Handle  Handler
}

// Registry maps each origin to exactly one handler.
type Registry struct {
	byOrigin map[string]Handler
}

// NewRegistry fails when two descriptors claim the same origin.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byOrigin: map[string]Handler{}}
	for _, d := range descs {
		for _, origin := range d.Origins {
			if _, dup := r.byOrigin[origin]; dup {
				return nil, fmt.Errorf("duplicate redirect origin %q: %w", origin, apperrors.ErrConflict)
			}
			r.byOrigin[origin] = d.Handle
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for static configuration; it panics on a duplicate.
func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) lookup(origin string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.byOrigin[origin]
	return h, ok
}

// Dispatcher serves GET {prefix}/{origin}.
type Dispatcher struct {
	cfg      config.Configuration
	registry *Registry
	now      func() time.Time
}

func NewDispatcher(cfg config.Configuration, registry *Registry) *Dispatcher {
	return &Dispatcher{cfg: cfg, registry: registry, now: time.Now}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimPrefix(r.URL.Path, d.cfg.Redirect.PathPrefix+"/")
	encoded := r.URL.Query().Get("data")
	sig := r.URL.Query().Get("signature")
	if origin == "" || strings.Contains(origin, "/") || encoded == "" || sig == "" {
		d.reject(w, origin, "missing_parameters", "missing data or signature")
		return
	}
	if d.cfg.Redirect.Secret == "" {
		logger.Error("Redirect secret not configured")
		d.reject(w, origin, "not_configured", "redirect secret not configured")
		return
	}
	if !NewSigner(d.cfg.Redirect.Secret).Verify(encoded, sig) {
		d.reject(w, origin, "invalid_signature", "invalid signature")
		return
	}

	payload, err := Decode(encoded)
	if err != nil {
		d.reject(w, origin, "invalid_payload", "invalid payload")
		return
	}
	if payload.Origin != origin {
		d.fail(w, r, origin, payload, apperrors.ReasonOriginMismatch)
		return
	}
	if payload.Expired(d.now()) {
		d.fail(w, r, origin, payload, apperrors.ReasonLinkExpired)
		return
	}
	if payload.TargetURL == "" {
		d.fail(w, r, origin, payload, apperrors.ReasonInvalidTarget)
		return
	}

	if h, ok := d.registry.lookup(origin); ok {
		if err := runHandler(r.Context(), d.cfg, origin, payload.Data, h); err != nil {
			logger.Error("Redirect handler failed", "origin", origin, "error", err)
		}
	} else {
		logger.Debug("No redirect handler for origin", "origin", origin)
	}

	metrics.RecordRedirect(origin, "success")
	http.Redirect(w, r, payload.TargetURL, http.StatusFound)
}

func runHandler(ctx context.Context, cfg config.Configuration, origin string, data json.RawMessage, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.HandlerError{Handler: origin, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return h(ctx, cfg, origin, data)
}

func (d *Dispatcher) reject(w http.ResponseWriter, origin, outcome, msg string) {
	metrics.RecordRedirect(origin, outcome)
	http.Error(w, msg, http.StatusBadRequest)
}

// fail sends the browser to the failure URL with the reason, or answers 400 when the
// link carries none.
func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, origin string, p Payload, reason string) {
	logger.Warn("Redirect rejected", "origin", origin, "error", apperrors.RedirectError{Reason: reason})
	if p.FailureURL == "" {
		d.reject(w, origin, reason, reason)
		return
	}
	target, err := withReason(p.FailureURL, reason)
	if err != nil {
		d.reject(w, origin, reason, reason)
		return
	}
	metrics.RecordRedirect(origin, reason)
	http.Redirect(w, r, target, http.StatusFound)
}

func withReason(raw, reason string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("reason", reason)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
