// Package syncer reconciles the local mirror with the provider, either per entity type
// from full listings or one object at a time from webhook and redirect callbacks.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rajasatyajit/stripemirror/config"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/stripeclient"
)

// Result summarizes one reconciliation.
type Result struct {
	Table     string `json:"table"`
	Upserted  int    `json:"upserted"`
	Deleted   int    `json:"deleted"`
	Skipped   int    `json:"skipped"`
	Truncated bool   `json:"truncated"`
}

// Entity is the type-erased view of a Synchronizer used by the registry, webhooks and
// redirect handlers.
type Entity interface {
	Name() string
	Table() string
	Sync(ctx context.Context, cfg config.Configuration) (Result, error)
	SyncCustomer(ctx context.Context, cfg config.Configuration, customerID string) (Result, error)
	UpsertRaw(ctx context.Context, cfg config.Configuration, raw json.RawMessage) (Result, error)
	DeleteOne(ctx context.Context, cfg config.Configuration, id string) (Result, error)
}

// Synchronizer mirrors one provider type T into one table.
type Synchronizer[T any] struct {
	name     string
	table    string
	key      string
	resource stripeclient.Resource
	idOf     func(T) string
	convert  func(T, string) store.Document
	linked   bool

	store    *store.Dispatcher
	provider stripeclient.Provider
}

func newSynchronizer[T any](d *store.Dispatcher, p stripeclient.Provider, table string, resource stripeclient.Resource,
	idOf func(T) string, convert func(T, string) store.Document) *Synchronizer[T] {
	t, ok := store.Lookup(table)
	if !ok {
		panic("syncer: unknown table " + table)
	}
	return &Synchronizer[T]{
		name:     string(resource),
		table:    table,
		key:      t.Key,
		resource: resource,
		idOf:     idOf,
		convert:  convert,
		store:    d,
		provider: p,
	}
}

// requireLink marks a table whose rows only make sense with an entity link.
func (s *Synchronizer[T]) requireLink() *Synchronizer[T] {
	s.linked = true
	return s
}

func (s *Synchronizer[T]) Name() string  { return s.name }
func (s *Synchronizer[T]) Table() string { return s.table }

// Sync performs a full reconciliation: every listed object is upserted and every local
// row the listing no longer contains is deleted. A disabled table is left untouched.
func (s *Synchronizer[T]) Sync(ctx context.Context, cfg config.Configuration) (Result, error) {
	return s.reconcile(ctx, cfg, "")
}

// SyncCustomer reconciles only the rows of one customer.
func (s *Synchronizer[T]) SyncCustomer(ctx context.Context, cfg config.Configuration, customerID string) (Result, error) {
	if customerID == "" {
		return Result{Table: s.table}, apperrors.ValidationError{Field: store.FieldCustomerID, Message: "customer id is required"}
	}
	return s.reconcile(ctx, cfg, customerID)
}

func (s *Synchronizer[T]) reconcile(ctx context.Context, cfg config.Configuration, customerID string) (Result, error) {
	res := Result{Table: s.table}
	if !cfg.Sync.Enabled(s.table) {
		return res, nil
	}
	log := logger.With("syncer", s.name, "table", s.table)

	rows, err := s.store.SelectAll(ctx, s.table)
	if err != nil {
		return res, err
	}
	known := make(map[string]bool, len(rows))
	for i := range rows {
		if customerID != "" && rows[i].String(store.FieldCustomerID) != customerID {
			continue
		}
		if id := rows[i].String(s.key); id != "" {
			known[id] = true
		}
	}

	seen := make(map[string]bool)
	count := 0
	it := s.provider.List(ctx, stripeclient.ListRequest{Resource: s.resource, Customer: customerID})
	for it.Next() {
		if count >= cfg.Sync.PageCap {
			res.Truncated = true
			log.Warn("Listing cap reached, skipping deletion pass", "cap", cfg.Sync.PageCap)
			break
		}
		count++

		obj, ok := it.Current().(T)
		if !ok {
			res.Skipped++
			log.Warn("Skipping listed object of unexpected type", "type", fmt.Sprintf("%T", it.Current()))
			continue
		}
		id := s.idOf(obj)
		if id == "" {
			res.Skipped++
			log.Warn("Skipping listed object without id")
			continue
		}
		seen[id] = true

		upserted, err := s.persist(ctx, cfg, obj)
		if err != nil {
			return res, fmt.Errorf("upsert %s %s: %w", s.table, id, err)
		}
		if upserted {
			res.Upserted++
		} else {
			res.Skipped++
		}
	}
	if err := it.Err(); err != nil {
		return res, fmt.Errorf("list %s: %w", s.resource, err)
	}

	if res.Truncated {
		return res, nil
	}
	for id := range known {
		if seen[id] {
			continue
		}
		deleted, err := s.store.DeleteByID(ctx, s.table, s.key, id)
		if err != nil {
			return res, fmt.Errorf("delete %s %s: %w", s.table, id, err)
		}
		if deleted {
			res.Deleted++
		}
	}

	log.Debug("Reconciled", "upserted", res.Upserted, "deleted", res.Deleted, "skipped", res.Skipped)
	return res, nil
}

// UpsertOne mirrors a single object.
func (s *Synchronizer[T]) UpsertOne(ctx context.Context, cfg config.Configuration, obj T) (Result, error) {
	res := Result{Table: s.table}
	if !cfg.Sync.Enabled(s.table) {
		return res, nil
	}
	if s.idOf(obj) == "" {
		return res, apperrors.ValidationError{Field: s.key, Message: "object has no id"}
	}
	upserted, err := s.persist(ctx, cfg, obj)
	if err != nil {
		return res, err
	}
	if upserted {
		res.Upserted = 1
	} else {
		res.Skipped = 1
	}
	return res, nil
}

// UpsertRaw decodes a provider JSON object, such as a webhook's data.object, and
// mirrors it.
func (s *Synchronizer[T]) UpsertRaw(ctx context.Context, cfg config.Configuration, raw json.RawMessage) (Result, error) {
	var obj T
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Result{Table: s.table}, fmt.Errorf("decode %s: %w", s.resource, err)
	}
	return s.UpsertOne(ctx, cfg, obj)
}

// DeleteOne removes the row keyed by id.
func (s *Synchronizer[T]) DeleteOne(ctx context.Context, cfg config.Configuration, id string) (Result, error) {
	res := Result{Table: s.table}
	if !cfg.Sync.Enabled(s.table) {
		return res, nil
	}
	deleted, err := s.store.DeleteByID(ctx, s.table, s.key, id)
	if err != nil {
		return res, err
	}
	if deleted {
		res.Deleted = 1
	}
	return res, nil
}

// persist upserts obj, applying the entity-link rule for linked tables.
func (s *Synchronizer[T]) persist(ctx context.Context, cfg config.Configuration, obj T) (bool, error) {
	doc := s.convert(obj, cfg.Sync.EntityMetadataKey)
	if s.linked {
		if doc[store.FieldEntityID] == nil {
			logger.Warn("Object has no entity link", "table", s.table, "id", s.idOf(obj), "detached", cfg.Sync.Detached)
			if !cfg.Sync.Detached {
				return false, nil
			}
		}
	}
	if _, err := s.store.Upsert(ctx, s.table, s.key, doc); err != nil {
		return false, err
	}
	return true, nil
}
