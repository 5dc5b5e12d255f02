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

type LineItem struct {
	PriceID  string `json:"priceId"`
	Quantity int64  `json:"quantity,omitempty"`
}

// PayParams start a one-off checkout. Mode must be payment when set and
// CreateIfMissing defaults to true.
type PayParams struct {
	EntityID        string            `json:"entityId,omitempty"`
	ReferenceID     string            `json:"referenceId,omitempty"`
	LineItems       []LineItem        `json:"lineItems"`
	SuccessURL      string            `json:"successUrl"`
	CancelURL       string            `json:"cancelUrl"`
	FailureURL      string            `json:"failureUrl,omitempty"`
	Mode            string            `json:"mode,omitempty"`
	CreateIfMissing *bool             `json:"createIfMissing,omitempty"`
	Email           string            `json:"email,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type SubscribeParams struct {
	EntityID        string            `json:"entityId,omitempty"`
	PriceID         string            `json:"priceId"`
	Quantity        int64             `json:"quantity,omitempty"`
	SuccessURL      string            `json:"successUrl"`
	CancelURL       string            `json:"cancelUrl"`
	FailureURL      string            `json:"failureUrl,omitempty"`
	CreateIfMissing *bool             `json:"createIfMissing,omitempty"`
	TrialDays       int64             `json:"trialDays,omitempty"`
	Email           string            `json:"email,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CheckoutResult is returned by Pay and Subscribe.
type CheckoutResult struct {
	URL        string `json:"url"`
	SessionID  string `json:"sessionId"`
	CustomerID string `json:"customerId"`
	AttemptID  string `json:"attemptId"`
}

// Pay creates a checkout session for the entity's customer and records a pending
// payment keyed by the session id.
func (s *Service) Pay(ctx context.Context, p PayParams) (*CheckoutResult, error) {
	entityID, err := s.authorize(ctx, OpPay, p.EntityID)
	if err != nil {
		return nil, err
	}
	mode := p.Mode
	if mode == "" {
		mode = string(stripe.CheckoutSessionModePayment)
	}
	if mode != string(stripe.CheckoutSessionModePayment) {
		return nil, apperrors.ValidationError{Field: "mode", Message: fmt.Sprintf("unsupported mode %q, use subscribe for subscriptions", mode)}
	}
	if len(p.LineItems) == 0 {
		return nil, apperrors.ValidationError{Field: "lineItems", Message: "at least one line item is required"}
	}
	var (
		items    []*stripe.CheckoutSessionLineItemParams
		priceIDs []string
	)
	for i, li := range p.LineItems {
		if li.PriceID == "" {
			return nil, apperrors.ValidationError{Field: fmt.Sprintf("lineItems[%d].priceId", i), Message: "price id is required"}
		}
		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{Price: stripe.String(li.PriceID), Quantity: stripe.Int64(qty)})
		priceIDs = append(priceIDs, li.PriceID)
	}
	if err := checkURLs(p.SuccessURL, p.CancelURL); err != nil {
		return nil, err
	}

	customerID, err := s.identity.CustomerForEntity(ctx, entityID, identity.Options{
		CreateIfMissing: boolOr(p.CreateIfMissing, true),
		Email:           p.Email,
	})
	if err != nil {
		return nil, err
	}

	attemptID := s.newID()
	success, cancel, err := s.signedPair(redirect.OriginPaySuccess, redirect.OriginPayCancel, p.SuccessURL, p.CancelURL, p.FailureURL,
		redirect.ReturnData{EntityID: entityID, CustomerID: customerID, ReferenceID: p.ReferenceID, AttemptID: attemptID})
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(mode),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(success),
		CancelURL:  stripe.String(cancel),
		LineItems:  items,
	}
	if p.ReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ReferenceID)
	}
	for k, v := range s.metadata(entityID, p.Metadata) {
		params.AddMetadata(k, v)
	}
	cs, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	s.mirrorSession(ctx, cs)

	if _, err := s.store.Upsert(ctx, store.TablePayments, "checkoutSessionId", store.Document{
		"checkoutSessionId":   cs.ID,
		store.FieldEntityID:   entityID,
		store.FieldCustomerID: customerID,
		"referenceId":         store.Nullable(p.ReferenceID),
		"priceIds":            priceIDs,
		"mode":                mode,
		store.FieldAttemptID:  attemptID,
		"status":              store.PaymentPending,
		"createdAt":           now(),
	}); err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Checkout session created", "op", OpPay, "entity_id", entityID, "session_id", cs.ID, "attempt_id", attemptID)
	return &CheckoutResult{URL: cs.URL, SessionID: cs.ID, CustomerID: customerID, AttemptID: attemptID}, nil
}

// Subscribe creates a subscription-mode checkout session. The entity id is copied into
// the subscription's metadata so the resulting subscription is linked.
func (s *Service) Subscribe(ctx context.Context, p SubscribeParams) (*CheckoutResult, error) {
	entityID, err := s.authorize(ctx, OpSubscribe, p.EntityID)
	if err != nil {
		return nil, err
	}
	if p.PriceID == "" {
		return nil, apperrors.ValidationError{Field: "priceId", Message: "price id is required"}
	}
	if p.TrialDays < 0 {
		return nil, apperrors.ValidationError{Field: "trialDays", Message: "trial days must not be negative"}
	}
	if err := checkURLs(p.SuccessURL, p.CancelURL); err != nil {
		return nil, err
	}
	qty := p.Quantity
	if qty <= 0 {
		qty = 1
	}

	customerID, err := s.identity.CustomerForEntity(ctx, entityID, identity.Options{
		CreateIfMissing: boolOr(p.CreateIfMissing, true),
		Email:           p.Email,
	})
	if err != nil {
		return nil, err
	}

	attemptID := s.newID()
	success, cancel, err := s.signedPair(redirect.OriginSubscribeSuccess, redirect.OriginSubscribeCancel, p.SuccessURL, p.CancelURL, p.FailureURL,
		redirect.ReturnData{EntityID: entityID, CustomerID: customerID, AttemptID: attemptID})
	if err != nil {
		return nil, err
	}

	md := s.metadata(entityID, p.Metadata)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(success),
		CancelURL:  stripe.String(cancel),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(qty)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: md},
	}
	if p.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(p.TrialDays)
	}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	cs, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create subscription checkout: %w", err)
	}
	s.mirrorSession(ctx, cs)

	if _, err := s.store.Upsert(ctx, store.TableSubscriptionCheckouts, "checkoutSessionId", store.Document{
		"checkoutSessionId":   cs.ID,
		store.FieldEntityID:   entityID,
		store.FieldCustomerID: customerID,
		"priceId":             p.PriceID,
		"quantity":            qty,
		"trialDays":           p.TrialDays,
		store.FieldAttemptID:  attemptID,
		"status":              store.PaymentPending,
		"createdAt":           now(),
	}); err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Checkout session created", "op", OpSubscribe, "entity_id", entityID, "session_id", cs.ID, "attempt_id", attemptID)
	return &CheckoutResult{URL: cs.URL, SessionID: cs.ID, CustomerID: customerID, AttemptID: attemptID}, nil
}
