package redirect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rajasatyajit/stripemirror/config"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
)

// Built-in origins.
const (
	OriginPaySuccess         = "pay-success"
	OriginPayCancel          = "pay-cancel"
	OriginSubscribeSuccess   = "subscribe-success"
	OriginSubscribeCancel    = "subscribe-cancel"
	OriginPortalReturn       = "portal-return"
	OriginAccountLinkReturn  = "account-link-return"
	OriginAccountLinkRefresh = "account-link-refresh"
)

// ReturnData is what the built-in actions put in their return links.
type ReturnData struct {
	EntityID    string `json:"entityId,omitempty"`
	CustomerID  string `json:"customerId,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
	AttemptID   string `json:"attemptId,omitempty"`
}

// Builtins returns the handlers for the origins the actions emit.
func Builtins(reg *syncer.Registry, d *store.Dispatcher) []Descriptor {
	return []Descriptor{
		{Origins: []string{OriginPaySuccess, OriginSubscribeSuccess, OriginPortalReturn}, Handle: resyncSubscriptions(reg)},
		{Origins: []string{OriginPayCancel}, Handle: cancelAttempt(reg, d, store.TablePayments)},
		{Origins: []string{OriginSubscribeCancel}, Handle: cancelAttempt(reg, d, store.TableSubscriptionCheckouts)},
		{Origins: []string{OriginAccountLinkReturn, OriginAccountLinkRefresh}, Handle: resyncAccount(reg)},
	}
}

func decodeReturn(data json.RawMessage) (ReturnData, error) {
	var rd ReturnData
	if len(data) == 0 {
		return rd, nil
	}
	if err := json.Unmarshal(data, &rd); err != nil {
		return rd, fmt.Errorf("decode return data: %w", err)
	}
	return rd, nil
}

func resyncSubscriptions(reg *syncer.Registry) Handler {
	return func(ctx context.Context, cfg config.Configuration, origin string, data json.RawMessage) error {
		rd, err := decodeReturn(data)
		if err != nil || rd.CustomerID == "" {
			return err
		}
		_, err = reg.SyncCustomerSubscriptions(ctx, cfg, rd.CustomerID)
		return err
	}
}

// cancelAttempt marks a still-pending checkout attempt canceled. Later states written
// by webhooks are left alone.
func cancelAttempt(reg *syncer.Registry, d *store.Dispatcher, table string) Handler {
	return func(ctx context.Context, cfg config.Configuration, origin string, data json.RawMessage) error {
		rd, err := decodeReturn(data)
		if err != nil {
			return err
		}
		if rd.AttemptID != "" {
			rec, err := d.SelectOne(ctx, table, store.FieldAttemptID, rd.AttemptID)
			if err != nil {
				return err
			}
			if rec != nil && rec.String("status") == store.PaymentPending {
				if _, err := d.Upsert(ctx, table, "checkoutSessionId", store.Document{
					"checkoutSessionId": rec.String("checkoutSessionId"),
					"status":            store.PaymentCanceled,
				}); err != nil {
					return err
				}
			}
		}
		if rd.CustomerID == "" {
			return nil
		}
		_, err = reg.SyncCustomerSubscriptions(ctx, cfg, rd.CustomerID)
		return err
	}
}

func resyncAccount(reg *syncer.Registry) Handler {
	return func(ctx context.Context, cfg config.Configuration, origin string, data json.RawMessage) error {
		rd, err := decodeReturn(data)
		if err != nil || rd.AccountID == "" {
			return err
		}
		_, err = reg.SyncAccount(ctx, cfg, rd.AccountID)
		return err
	}
}
