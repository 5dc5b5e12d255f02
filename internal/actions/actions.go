// Package actions implements the authenticated operations that send a user to a
// provider-hosted page and bring them back through a signed return link.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rajasatyajit/stripemirror/config"
	"github.com/rajasatyajit/stripemirror/internal/auth"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/identity"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/redirect"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
	stripe "github.com/stripe/stripe-go/v76"
)

// Operation names passed to the authorizer.
const (
	OpPay               = "pay"
	OpSubscribe         = "subscribe"
	OpPortal            = "portal"
	OpCreateCustomer    = "createCustomer"
	OpCreateAccount     = "createAccount"
	OpCreateAccountLink = "createAccountLink"
)

type Service struct {
	cfg      config.Configuration
	auth     auth.Authorizer
	identity *identity.Resolver
	registry *syncer.Registry
	store    *store.Dispatcher
	provider stripeclient.Provider
	newID    func() string
}

func New(cfg config.Configuration, a auth.Authorizer, res *identity.Resolver, reg *syncer.Registry, d *store.Dispatcher, p stripeclient.Provider) *Service {
	return &Service{
		cfg:      cfg,
		auth:     a,
		identity: res,
		registry: reg,
		store:    d,
		provider: p,
		newID:    uuid.NewString,
	}
}

// authorize runs the authorizer and returns the entity id to act on.
func (s *Service) authorize(ctx context.Context, op, entityID string) (string, error) {
	ok, resolved, err := s.auth.AuthenticateAndAuthorize(ctx, op, entityID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", op, apperrors.ErrUnauthorized)
	}
	if resolved == "" {
		resolved = entityID
	}
	if resolved == "" {
		return "", apperrors.ValidationError{Field: store.FieldEntityID, Message: "entity id is required"}
	}
	return resolved, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func checkURLs(successURL, cancelURL string) error {
	if successURL == "" {
		return apperrors.ValidationError{Field: "successUrl", Message: "success url is required"}
	}
	if cancelURL == "" {
		return apperrors.ValidationError{Field: "cancelUrl", Message: "cancel url is required"}
	}
	return nil
}

// signedPair builds the success and cancel return links for one attempt. Expired or
// tampered links fall back to failureURL, or to cancelURL when none is given.
func (s *Service) signedPair(successOrigin, cancelOrigin, successURL, cancelURL, failureURL string, data redirect.ReturnData) (string, string, error) {
	if failureURL == "" {
		failureURL = cancelURL
	}
	success, err := redirect.BuildSignedReturnURL(s.cfg, redirect.Params{
		Origin: successOrigin, Data: data, TargetURL: successURL, FailureURL: failureURL,
	})
	if err != nil {
		return "", "", err
	}
	cancel, err := redirect.BuildSignedReturnURL(s.cfg, redirect.Params{
		Origin: cancelOrigin, Data: data, TargetURL: cancelURL, FailureURL: failureURL,
	})
	if err != nil {
		return "", "", err
	}
	return success, cancel, nil
}

func (s *Service) metadata(entityID string, extra map[string]string) map[string]string {
	md := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		md[k] = v
	}
	md[s.identity.MetadataKey()] = entityID
	return md
}

// mirrorSession records a freshly created session. A failure is logged: the session
// exists remotely and the next webhook or full sync will record it.
func (s *Service) mirrorSession(ctx context.Context, cs *stripe.CheckoutSession) {
	if _, err := s.registry.MirrorCheckoutSession(ctx, s.cfg, cs); err != nil {
		logger.WithContext(ctx).Warn("Failed to mirror checkout session", "session_id", cs.ID, "error", err)
	}
}
