package store

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/lock"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/metrics"
)

// Op is one of UpsertOp, SelectOneOp, SelectByIDOp, SelectAllOp or DeleteByIDOp.
type Op interface {
	opName() string
	table() string
}

type UpsertOp struct {
	Table   string
	IDField string
	Doc     Document
}

type SelectOneOp struct {
	Table string
	Field string
	Value string
}

type SelectByIDOp struct {
	Table string
	ID    string
}

type SelectAllOp struct {
	Table string
}

type DeleteByIDOp struct {
	Table   string
	IDField string
	Value   string
}

func (UpsertOp) opName() string     { return "upsert" }
func (SelectOneOp) opName() string  { return "selectOne" }
func (SelectByIDOp) opName() string { return "selectById" }
func (SelectAllOp) opName() string  { return "selectAll" }
func (DeleteByIDOp) opName() string { return "deleteById" }

func (o UpsertOp) table() string     { return o.Table }
func (o SelectOneOp) table() string  { return o.Table }
func (o SelectByIDOp) table() string { return o.Table }
func (o SelectAllOp) table() string  { return o.Table }
func (o DeleteByIDOp) table() string { return o.Table }

// Result carries whichever output the op produces.
type Result struct {
	RowID   string
	Record  *Record
	Records []Record
	Deleted bool
}

// Change describes a successful write, passed to the after-change hook.
type Change struct {
	Op       string
	Table    string
	Field    string
	Value    string
	RowID    string
	Inserted bool
	Deleted  bool
}

// ChangeHook observes successful writes. Errors and panics are logged and dropped.
type ChangeHook func(ctx context.Context, c Change) error

// Dispatcher is the uniform CRUD entry point over the mirror tables.
type Dispatcher struct {
	backend     Backend
	locker      lock.Locker
	afterChange ChangeHook
	now         func() time.Time
}

type Option func(*Dispatcher)

// WithLocker replaces the in-process upsert locker, e.g. with a Redis locker.
func WithLocker(l lock.Locker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

// WithAfterChange replaces the default metrics hook.
func WithAfterChange(h ChangeHook) Option {
	return func(d *Dispatcher) { d.afterChange = h }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(b Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: b,
		locker:  lock.NewLocalLocker(),
		afterChange: func(ctx context.Context, c Change) error {
			metrics.RecordStoreOp(c.Op, c.Table, "ok")
			return nil
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Backend exposes the underlying backend for health checks.
func (d *Dispatcher) Backend() Backend { return d.backend }

// Dispatch validates op against the schema and executes it.
func (d *Dispatcher) Dispatch(ctx context.Context, op Op) (Result, error) {
	t, ok := Lookup(op.table())
	if !ok {
		return Result{}, apperrors.ValidationError{Field: "table", Message: fmt.Sprintf("unknown table %q", op.table())}
	}

	switch o := op.(type) {
	case UpsertOp:
		return d.upsert(ctx, t, o)
	case SelectOneOp:
		return d.selectOne(ctx, t, o)
	case SelectByIDOp:
		if o.ID == "" {
			return Result{}, apperrors.ValidationError{Field: "id", Message: "row id is required"}
		}
		rec, err := d.backend.Get(ctx, t.Name, o.ID)
		if err != nil {
			return Result{}, apperrors.StoreError{Operation: o.opName(), Table: t.Name, Err: err}
		}
		return Result{Record: rec}, nil
	case SelectAllOp:
		recs, err := d.backend.All(ctx, t.Name)
		if err != nil {
			return Result{}, apperrors.StoreError{Operation: o.opName(), Table: t.Name, Err: err}
		}
		return Result{Records: recs}, nil
	case DeleteByIDOp:
		return d.deleteByID(ctx, t, o)
	default:
		return Result{}, apperrors.ValidationError{Field: "op", Message: fmt.Sprintf("unsupported op %T", op)}
	}
}

func (d *Dispatcher) upsert(ctx context.Context, t Table, o UpsertOp) (Result, error) {
	if err := checkField(t, o.IDField); err != nil {
		return Result{}, err
	}
	value, ok := o.Doc[o.IDField].(string)
	if !ok || value == "" {
		return Result{}, apperrors.ValidationError{Field: o.IDField, Message: "document has no value for the id field"}
	}

	release, err := d.locker.Lock(ctx, t.Name+"/"+o.IDField+"="+value)
	if err != nil {
		return Result{}, err
	}
	defer release()

	doc := make(Document, len(o.Doc)+1)
	for k, v := range o.Doc {
		doc[k] = v
	}
	delete(doc, FieldLastSyncedAt)

	id, inserted, err := d.backend.Upsert(ctx, t.Name, o.IDField, value, doc, d.now().UTC())
	if err != nil {
		return Result{}, apperrors.StoreError{Operation: o.opName(), Table: t.Name, Err: err}
	}
	d.notify(ctx, Change{Op: o.opName(), Table: t.Name, Field: o.IDField, Value: value, RowID: id, Inserted: inserted})
	return Result{RowID: id}, nil
}

func (d *Dispatcher) selectOne(ctx context.Context, t Table, o SelectOneOp) (Result, error) {
	if err := checkField(t, o.Field); err != nil {
		return Result{}, err
	}
	if o.Value == "" {
		return Result{}, apperrors.ValidationError{Field: o.Field, Message: "lookup value is required"}
	}
	recs, err := d.backend.Find(ctx, t.Name, o.Field, o.Value)
	if err != nil {
		return Result{}, apperrors.StoreError{Operation: o.opName(), Table: t.Name, Err: err}
	}
	switch {
	case len(recs) == 0:
		return Result{}, nil
	case len(recs) > 1 && t.IsUnique(o.Field):
		return Result{}, apperrors.IntegrityError{Table: t.Name, Field: o.Field, Value: o.Value, Count: len(recs)}
	}
	return Result{Record: &recs[0]}, nil
}

func (d *Dispatcher) deleteByID(ctx context.Context, t Table, o DeleteByIDOp) (Result, error) {
	if err := checkField(t, o.IDField); err != nil {
		return Result{}, err
	}
	if o.Value == "" {
		return Result{}, apperrors.ValidationError{Field: o.IDField, Message: "id value is required"}
	}
	deleted, err := d.backend.Delete(ctx, t.Name, o.IDField, o.Value)
	if err != nil {
		return Result{}, apperrors.StoreError{Operation: o.opName(), Table: t.Name, Err: err}
	}
	if deleted {
		d.notify(ctx, Change{Op: o.opName(), Table: t.Name, Field: o.IDField, Value: o.Value, Deleted: true})
	}
	return Result{Deleted: deleted}, nil
}

func (d *Dispatcher) notify(ctx context.Context, c Change) {
	if d.afterChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("after-change hook panicked", "table", c.Table, "op", c.Op, "panic", r)
		}
	}()
	if err := d.afterChange(ctx, c); err != nil {
		logger.Warn("after-change hook failed", "table", c.Table, "op", c.Op, "error", err)
	}
}

func checkField(t Table, field string) error {
	if field == "" {
		return apperrors.ValidationError{Field: "field", Message: "field name is required"}
	}
	if !t.Indexed(field) {
		return apperrors.ValidationError{Field: field, Message: "not indexed on " + t.Name}
	}
	return nil
}

// Upsert merges doc into the row whose idField matches, inserting it when absent.
func (d *Dispatcher) Upsert(ctx context.Context, table, idField string, doc Document) (string, error) {
	res, err := d.Dispatch(ctx, UpsertOp{Table: table, IDField: idField, Doc: doc})
	return res.RowID, err
}

// SelectOne returns the row where field equals value, or nil.
func (d *Dispatcher) SelectOne(ctx context.Context, table, field, value string) (*Record, error) {
	res, err := d.Dispatch(ctx, SelectOneOp{Table: table, Field: field, Value: value})
	return res.Record, err
}

// SelectByID returns the row with the given internal id, or nil.
func (d *Dispatcher) SelectByID(ctx context.Context, table, id string) (*Record, error) {
	res, err := d.Dispatch(ctx, SelectByIDOp{Table: table, ID: id})
	return res.Record, err
}

func (d *Dispatcher) SelectAll(ctx context.Context, table string) ([]Record, error) {
	res, err := d.Dispatch(ctx, SelectAllOp{Table: table})
	return res.Records, err
}

// DeleteByID removes the row whose idField equals value. A missing row is not an error.
func (d *Dispatcher) DeleteByID(ctx context.Context, table, idField, value string) (bool, error) {
	res, err := d.Dispatch(ctx, DeleteByIDOp{Table: table, IDField: idField, Value: value})
	return res.Deleted, err
}
