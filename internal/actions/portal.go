package actions

import (
	"context"
	"fmt"

	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/identity"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/redirect"
	"github.com/rajasatyajit/stripemirror/internal/store"
	stripe "github.com/stripe/stripe-go/v76"
)

// PortalParams open the billing portal. CreateIfMissing defaults to true; set it to
// false to fail for an entity without a customer.
type PortalParams struct {
	EntityID        string `json:"entityId,omitempty"`
	ReturnURL       string `json:"returnUrl"`
	FailureURL      string `json:"failureUrl,omitempty"`
	CreateIfMissing *bool  `json:"createIfMissing,omitempty"`
}

type PortalResult struct {
	URL        string `json:"url"`
	SessionID  string `json:"sessionId"`
	CustomerID string `json:"customerId"`
}

func (s *Service) Portal(ctx context.Context, p PortalParams) (*PortalResult, error) {
	entityID, err := s.authorize(ctx, OpPortal, p.EntityID)
	if err != nil {
		return nil, err
	}
	if p.ReturnURL == "" {
		return nil, apperrors.ValidationError{Field: "returnUrl", Message: "return url is required"}
	}
	customerID, err := s.identity.CustomerForEntity(ctx, entityID, identity.Options{CreateIfMissing: boolOr(p.CreateIfMissing, true)})
	if err != nil {
		return nil, err
	}

	failure := p.FailureURL
	if failure == "" {
		failure = p.ReturnURL
	}
	returnURL, err := redirect.BuildSignedReturnURL(s.cfg, redirect.Params{
		Origin:     redirect.OriginPortalReturn,
		Data:       redirect.ReturnData{EntityID: entityID, CustomerID: customerID},
		TargetURL:  p.ReturnURL,
		FailureURL: failure,
	})
	if err != nil {
		return nil, err
	}

	ps, err := s.provider.CreatePortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	if _, err := s.store.Upsert(ctx, store.TableBillingPortalSessions, "billingPortalSessionId", store.Document{
		"billingPortalSessionId": ps.ID,
		store.FieldCustomerID:    customerID,
		store.FieldEntityID:      entityID,
		"url":                    ps.URL,
		"returnUrl":              p.ReturnURL,
		"createdAt":              now(),
		store.FieldPayload:       store.Snapshot(ps),
	}); err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Portal session created", "entity_id", entityID, "session_id", ps.ID)
	return &PortalResult{URL: ps.URL, SessionID: ps.ID, CustomerID: customerID}, nil
}
