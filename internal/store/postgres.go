package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
)

// Migration creates the single document table every mirrored table lives in.
const Migration = `
CREATE TABLE IF NOT EXISTS mirror_documents (
	id             UUID PRIMARY KEY,
	table_name     TEXT NOT NULL,
	upsert_key     TEXT NOT NULL,
	fields         JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_synced_at TIMESTAMPTZ NOT NULL,
	UNIQUE (table_name, upsert_key)
);
CREATE INDEX IF NOT EXISTS mirror_documents_fields_idx ON mirror_documents USING GIN (fields jsonb_path_ops);
`

// PostgresBackend stores documents as JSONB rows in PostgreSQL.
type PostgresBackend struct {
	db Database
}

// NewPostgresBackend creates a new PostgreSQL backend
func NewPostgresBackend(db Database) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate applies Migration. It is idempotent.
func (s *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Migration); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id::text, table_name, fields, last_synced_at FROM mirror_documents`

func (s *PostgresBackend) Find(ctx context.Context, table, field, value string) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		selectColumns+` WHERE table_name = $1 AND fields @> jsonb_build_object($2::text, $3::text) ORDER BY id`,
		table, field, value)
	if err != nil {
		return nil, fmt.Errorf("find %s.%s: %w", table, field, err)
	}
	return scanRecords(rows)
}

func (s *PostgresBackend) Get(ctx context.Context, table, id string) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	rec, err := scanRecord(s.db.QueryRow(ctx, selectColumns+` WHERE table_name = $1 AND id = $2::uuid`, table, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return &rec, nil
}

func (s *PostgresBackend) All(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.db.Query(ctx, selectColumns+` WHERE table_name = $1 ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("select all %s: %w", table, err)
	}
	return scanRecords(rows)
}

// Upsert patches the row holding field=value, or inserts one. The insert path is guarded
// by UNIQUE(table_name, upsert_key), so two racing inserts converge on one row.
func (s *PostgresBackend) Upsert(ctx context.Context, table, field, value string, doc Document, at time.Time) (string, bool, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", false, fmt.Errorf("encode document: %w", err)
	}

	var id string
	err = s.db.QueryRow(ctx, `
		UPDATE mirror_documents
		SET fields = fields || $4::jsonb,
		    last_synced_at = GREATEST(last_synced_at, $5)
		WHERE id = (
			SELECT id FROM mirror_documents
			WHERE table_name = $1 AND fields @> jsonb_build_object($2::text, $3::text)
			ORDER BY id LIMIT 1
		)
		RETURNING id::text
	`, table, field, value, string(raw), at).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("update %s: %w", table, err)
	}

	var inserted bool
	err = s.db.QueryRow(ctx, `
		INSERT INTO mirror_documents (id, table_name, upsert_key, fields, last_synced_at)
		VALUES ($1::uuid, $2, $3, $4::jsonb, $5)
		ON CONFLICT (table_name, upsert_key) DO UPDATE SET
			fields = mirror_documents.fields || EXCLUDED.fields,
			last_synced_at = GREATEST(mirror_documents.last_synced_at, EXCLUDED.last_synced_at)
		RETURNING id::text, (xmax = 0)
	`, uuid.NewString(), table, field+"="+value, string(raw), at).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, inserted, nil
}

func (s *PostgresBackend) Delete(ctx context.Context, table, field, value string) (bool, error) {
	n, err := s.db.Exec(ctx,
		`DELETE FROM mirror_documents WHERE table_name = $1 AND fields @> jsonb_build_object($2::text, $3::text)`,
		table, field, value)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", table, err)
	}
	return n > 0, nil
}

// Health checks the database connection
func (s *PostgresBackend) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec Record
		raw []byte
	)
	if err := row.Scan(&rec.ID, &rec.Table, &raw, &rec.LastSyncedAt); err != nil {
		return Record{}, err
	}
	rec.Fields = Document{}
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("decode fields: %w", err)
	}
	return rec, nil
}
