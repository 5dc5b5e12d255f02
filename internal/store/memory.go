package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend keeps documents in process. Lookups scan the table; the mirror is
// expected to be small enough for that in tests and single-node setups.
type MemoryBackend struct {
	mu     sync.RWMutex
	tables map[string]map[string]*Record
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string]map[string]*Record)}
}

func (m *MemoryBackend) Find(ctx context.Context, table, field, value string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(table, field, value), nil
}

func (m *MemoryBackend) find(table, field, value string) []Record {
	var out []Record
	for _, r := range m.tables[table] {
		if v, ok := r.Fields[field].(string); ok && v == value {
			out = append(out, clone(r))
		}
	}
	sortRecords(out)
	return out
}

func (m *MemoryBackend) Get(ctx context.Context, table, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tables[table][id]
	if !ok {
		return nil, nil
	}
	c := clone(r)
	return &c, nil
}

func (m *MemoryBackend) All(ctx context.Context, table string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, clone(r))
	}
	sortRecords(out)
	return out, nil
}

// Upsert looks up and writes under one lock, so concurrent upserts of the same key
// cannot both insert.
func (m *MemoryBackend) Upsert(ctx context.Context, table, field, value string, doc Document, at time.Time) (string, bool, error) {
	doc, err := normalize(doc)
	if err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	if rows == nil {
		rows = make(map[string]*Record)
		m.tables[table] = rows
	}
	for _, r := range rows {
		if v, ok := r.Fields[field].(string); ok && v == value {
			for k, v := range doc {
				r.Fields[k] = v
			}
			r.LastSyncedAt = laterOf(r.LastSyncedAt, at)
			return r.ID, false, nil
		}
	}

	id := uuid.NewString()
	rows[id] = &Record{ID: id, Table: table, Fields: doc, LastSyncedAt: at}
	return id, true, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, table, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := false
	for id, r := range m.tables[table] {
		if v, ok := r.Fields[field].(string); ok && v == value {
			delete(m.tables[table], id)
			deleted = true
		}
	}
	return deleted, nil
}

// Health always returns nil for the in-memory backend
func (m *MemoryBackend) Health(ctx context.Context) error {
	return nil
}

func clone(r *Record) Record {
	fields := make(Document, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = deepCopy(v)
	}
	return Record{ID: r.ID, Table: r.Table, Fields: fields, LastSyncedAt: r.LastSyncedAt}
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return x
	}
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
