package actions

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/identity"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/redirect"
	"github.com/rajasatyajit/stripemirror/internal/store"
	stripe "github.com/stripe/stripe-go/v76"
)

type CustomerParams struct {
	EntityID string `json:"entityId,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

type CustomerResult struct {
	EntityID   string `json:"entityId"`
	CustomerID string `json:"customerId"`
}

// CreateCustomer links a customer to the entity. An existing link is returned as is.
func (s *Service) CreateCustomer(ctx context.Context, p CustomerParams) (*CustomerResult, error) {
	entityID, err := s.authorize(ctx, OpCreateCustomer, p.EntityID)
	if err != nil {
		return nil, err
	}
	id, err := s.identity.CustomerForEntity(ctx, entityID, identity.Options{CreateIfMissing: true, Email: p.Email, Name: p.Name})
	if err != nil {
		return nil, err
	}
	return &CustomerResult{EntityID: entityID, CustomerID: id}, nil
}

type AccountParams struct {
	EntityID string `json:"entityId,omitempty"`
	Email    string `json:"email,omitempty"`
	Country  string `json:"country,omitempty"`
	Type     string `json:"type,omitempty"`
}

type AccountResult struct {
	EntityID  string `json:"entityId"`
	AccountID string `json:"accountId"`
}

// CreateAccount links a connected account to the entity. An existing link is returned
// as is.
func (s *Service) CreateAccount(ctx context.Context, p AccountParams) (*AccountResult, error) {
	entityID, err := s.authorize(ctx, OpCreateAccount, p.EntityID)
	if err != nil {
		return nil, err
	}
	switch stripe.AccountType(p.Type) {
	case "", stripe.AccountTypeExpress, stripe.AccountTypeStandard, stripe.AccountTypeCustom:
	default:
		return nil, apperrors.ValidationError{Field: "type", Message: fmt.Sprintf("unsupported account type %q", p.Type)}
	}
	id, err := s.identity.AccountForEntity(ctx, entityID, identity.Options{
		CreateIfMissing: true,
		Email:           p.Email,
		Country:         p.Country,
		AccountType:     p.Type,
	})
	if err != nil {
		return nil, err
	}
	return &AccountResult{EntityID: entityID, AccountID: id}, nil
}

// AccountLinkParams request an onboarding link. CreateIfMissing defaults to true.
type AccountLinkParams struct {
	EntityID        string `json:"entityId,omitempty"`
	RefreshURL      string `json:"refreshUrl"`
	ReturnURL       string `json:"returnUrl"`
	FailureURL      string `json:"failureUrl,omitempty"`
	CreateIfMissing *bool  `json:"createIfMissing,omitempty"`
}

type AccountLinkResult struct {
	URL       string `json:"url"`
	AccountID string `json:"accountId"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *Service) CreateAccountLink(ctx context.Context, p AccountLinkParams) (*AccountLinkResult, error) {
	entityID, err := s.authorize(ctx, OpCreateAccountLink, p.EntityID)
	if err != nil {
		return nil, err
	}
	if p.RefreshURL == "" || p.ReturnURL == "" {
		return nil, apperrors.ValidationError{Field: "returnUrl", Message: "refresh and return urls are required"}
	}
	accountID, err := s.identity.AccountForEntity(ctx, entityID, identity.Options{CreateIfMissing: boolOr(p.CreateIfMissing, true)})
	if err != nil {
		return nil, err
	}

	data := redirect.ReturnData{EntityID: entityID, AccountID: accountID}
	ret, refresh, err := s.signedPair(redirect.OriginAccountLinkReturn, redirect.OriginAccountLinkRefresh,
		p.ReturnURL, p.RefreshURL, p.FailureURL, data)
	if err != nil {
		return nil, err
	}

	link, err := s.provider.CreateAccountLink(ctx, &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refresh),
		ReturnURL:  stripe.String(ret),
		Type:       stripe.String("account_onboarding"),
	})
	if err != nil {
		return nil, fmt.Errorf("create account link: %w", err)
	}
	if _, err := s.store.Upsert(ctx, store.TableAccountLinks, "accountLinkId", store.Document{
		"accountLinkId":      s.newID(),
		store.FieldAccountID: accountID,
		store.FieldEntityID:  entityID,
		"url":                link.URL,
		"expiresAt":          time.Unix(link.ExpiresAt, 0).UTC().Format(time.RFC3339),
		"createdAt":          now(),
	}); err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Account link created", "entity_id", entityID, "account_id", accountID)
	return &AccountLinkResult{URL: link.URL, AccountID: accountID, ExpiresAt: link.ExpiresAt}, nil
}
