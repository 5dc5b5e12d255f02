package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v5"
)

// Document is the opaque per-table payload. Values must be JSON encodable; backends
// return them in their decoded JSON form.
type Document map[string]any

// Record is one mirrored row.
type Record struct {
	ID           string    `json:"id"`
	Table        string    `json:"table"`
	Fields       Document  `json:"fields"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// String returns the string value of field, or "" when absent or not a string.
func (r *Record) String(field string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Fields[field].(string)
	return s
}

// Decode unmarshals the stored payload snapshot into v.
func (r *Record) Decode(v any) error {
	raw, err := json.Marshal(r.Fields[FieldPayload])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Backend is the narrow persistence contract behind the dispatcher. Upsert must be
// atomic per (table, field, value) and must never move LastSyncedAt backwards.
type Backend interface {
	Find(ctx context.Context, table, field, value string) ([]Record, error)
	Get(ctx context.Context, table, id string) (*Record, error)
	All(ctx context.Context, table string) ([]Record, error)
	Upsert(ctx context.Context, table, field, value string, doc Document, at time.Time) (id string, inserted bool, err error)
	Delete(ctx context.Context, table, field, value string) (bool, error)
	Health(ctx context.Context) error
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Health(ctx context.Context) error
	IsConfigured() bool
}

// New picks the Postgres backend when a database is configured and memory otherwise.
func New(db Database) Backend {
	if db != nil && db.IsConfigured() {
		return NewPostgresBackend(db)
	}
	return NewMemoryBackend()
}

// normalize round-trips doc through JSON so both backends hand back identical shapes.
func normalize(doc Document) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Snapshot encodes v for the payload field. It returns nil when v cannot be encoded.
func Snapshot(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// Nullable maps the empty string to nil so absent optional fields stay absent.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
