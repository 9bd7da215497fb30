// Package memory provides an in-process polystore driver with document
// semantics: schemaless tables, minted string keys, structural filters.
// It backs tests and tooling that need the full driver contract without a
// running backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/where"
)

// Package errors.
var (
	// ErrRawUnsupported is returned by Query: the memory backend has no
	// native query language.
	ErrRawUnsupported = errors.New("memory: raw queries not supported")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// primary key.
	ErrDuplicateKey = errors.New("memory: duplicate key")

	// ErrTxDone is returned when a finished transaction is reused.
	ErrTxDone = errors.New("memory: transaction already finished")
)

type tables map[string]map[string]polystore.Record

// Register adds the memory driver to a registry.
func Register(r *polystore.Registry) {
	r.Add(polystore.DriverMemory, func(_ *polystore.Config) (polystore.Driver, error) {
		return New(nil), nil
	})
}

// Driver implements polystore.Driver entirely in process memory.
type Driver struct {
	mu        sync.RWMutex
	connected bool
	data      store
	ensured   map[string]bool
	log       *zap.Logger
}

// New creates a memory driver. A nil logger disables logging.
func New(log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}

	return &Driver{
		data: store{
			tables:  make(tables),
			schemas: make(map[string]*polystore.Schema),
		},
		ensured: make(map[string]bool),
		log:     log.Named("memory"),
	}
}

// Name returns the driver identifier.
func (d *Driver) Name() string { return polystore.DriverMemory }

// Connect marks the driver connected. Idempotent.
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		d.connected = true
		d.log.Debug("connected")
	}

	return nil
}

// Disconnect marks the driver disconnected. Data is retained so a
// reconnect resumes where it left off.
func (d *Driver) Disconnect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.connected = false
		d.log.Debug("disconnected")
	}

	return nil
}

// Connected reports the connection state.
func (d *Driver) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.connected
}

func (d *Driver) guard(op string) error {
	if !d.connected {
		return fmt.Errorf("memory: %s: %w", op, polystore.ErrNotConnected)
	}

	return nil
}

// EnsureIndexes records the schema for table. Index bookkeeping is
// per-table per process lifetime; repeat calls are no-ops.
func (d *Driver) EnsureIndexes(_ context.Context, table string, schema *polystore.Schema) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("ensureIndexes"); err != nil {
		return err
	}

	if d.ensured[table] {
		return nil
	}

	if err := schema.Check(); err != nil {
		return err
	}

	d.data.schemas[table] = schema
	d.ensured[table] = true
	d.log.Debug("indexes ensured", zap.String("table", table), zap.Int("count", len(schema.Indexes())))

	return nil
}

// Session operations: lock, guard, delegate to the unlocked store.

func (d *Driver) FindByID(_ context.Context, table string, id any) (polystore.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("findById"); err != nil {
		return nil, err
	}

	return d.data.findByID(table, id)
}

func (d *Driver) FindMany(_ context.Context, table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("findMany"); err != nil {
		return nil, err
	}

	return d.data.findMany(table, filter, opts)
}

func (d *Driver) InsertOne(_ context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("insertOne"); err != nil {
		return nil, err
	}

	return d.data.insertOne(table, rec, opts)
}

func (d *Driver) InsertMany(_ context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("insertMany"); err != nil {
		return nil, err
	}

	return d.data.insertMany(table, recs, opts)
}

func (d *Driver) UpdateOne(_ context.Context, table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("updateOne"); err != nil {
		return nil, err
	}

	return d.data.updateOne(table, id, changes, opts)
}

func (d *Driver) UpdateMany(_ context.Context, table string, filter any, changes polystore.Record) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("updateMany"); err != nil {
		return 0, err
	}

	return d.data.updateMany(table, filter, changes)
}

func (d *Driver) Upsert(_ context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("upsert"); err != nil {
		return nil, err
	}

	return d.data.upsert(table, rec, opts)
}

func (d *Driver) UpsertMany(_ context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("upsertMany"); err != nil {
		return nil, err
	}

	return d.data.upsertMany(table, recs, opts)
}

func (d *Driver) DeleteOne(_ context.Context, table string, id any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("deleteOne"); err != nil {
		return err
	}

	return d.data.deleteOne(table, id)
}

func (d *Driver) DeleteMany(_ context.Context, table string, filter any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard("deleteMany"); err != nil {
		return 0, err
	}

	return d.data.deleteMany(table, filter)
}

func (d *Driver) Count(_ context.Context, table string, filter any) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("count"); err != nil {
		return 0, err
	}

	return d.data.count(table, filter)
}

func (d *Driver) Exists(_ context.Context, table string, filter any) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("exists"); err != nil {
		return false, err
	}

	n, err := d.data.count(table, filter)

	return n > 0, err
}

func (d *Driver) Aggregate(_ context.Context, table string, pipeline any) ([]polystore.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("aggregate"); err != nil {
		return nil, err
	}

	return d.data.aggregate(table, pipeline)
}

func (d *Driver) Query(_ context.Context, _ string, _ ...any) ([]polystore.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("query"); err != nil {
		return nil, err
	}

	return nil, ErrRawUnsupported
}

// Begin starts a snapshot transaction: writes land in a deep copy of the
// data and replace it atomically on Commit.
func (d *Driver) Begin(_ context.Context) (polystore.Tx, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.guard("begin"); err != nil {
		return nil, err
	}

	return &Tx{d: d, staging: d.data.clone()}, nil
}

// Transaction runs fn in a transaction, committing on nil return and
// rolling back otherwise (including on panic).
func (d *Driver) Transaction(ctx context.Context, fn func(ctx context.Context, tx polystore.Session) error) error {
	tx, err := d.Begin(ctx)
	if err != nil {
		return err
	}

	done := false

	defer func() {
		if !done {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		done = true
		_ = tx.Rollback(ctx)

		return err
	}

	done = true

	return tx.Commit(ctx)
}

// Tx is a snapshot transaction over the memory driver.
type Tx struct {
	d       *Driver
	staging store
	done    bool
}

func (t *Tx) guard(op string) error {
	if t.done {
		return fmt.Errorf("%s: %w", op, ErrTxDone)
	}

	return nil
}

// Commit atomically replaces the driver's data with the staged copy.
func (t *Tx) Commit(_ context.Context) error {
	if err := t.guard("commit"); err != nil {
		return err
	}

	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	t.d.data.tables = t.staging.tables
	t.done = true

	return nil
}

// Rollback discards the staged copy.
func (t *Tx) Rollback(_ context.Context) error {
	if err := t.guard("rollback"); err != nil {
		return err
	}

	t.done = true

	return nil
}

func (t *Tx) FindByID(_ context.Context, table string, id any) (polystore.Record, error) {
	if err := t.guard("findById"); err != nil {
		return nil, err
	}

	return t.staging.findByID(table, id)
}

func (t *Tx) FindMany(_ context.Context, table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	if err := t.guard("findMany"); err != nil {
		return nil, err
	}

	return t.staging.findMany(table, filter, opts)
}

func (t *Tx) InsertOne(_ context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	if err := t.guard("insertOne"); err != nil {
		return nil, err
	}

	return t.staging.insertOne(table, rec, opts)
}

func (t *Tx) InsertMany(_ context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	if err := t.guard("insertMany"); err != nil {
		return nil, err
	}

	return t.staging.insertMany(table, recs, opts)
}

func (t *Tx) UpdateOne(_ context.Context, table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	if err := t.guard("updateOne"); err != nil {
		return nil, err
	}

	return t.staging.updateOne(table, id, changes, opts)
}

func (t *Tx) UpdateMany(_ context.Context, table string, filter any, changes polystore.Record) (int64, error) {
	if err := t.guard("updateMany"); err != nil {
		return 0, err
	}

	return t.staging.updateMany(table, filter, changes)
}

func (t *Tx) Upsert(_ context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	if err := t.guard("upsert"); err != nil {
		return nil, err
	}

	return t.staging.upsert(table, rec, opts)
}

func (t *Tx) UpsertMany(_ context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	if err := t.guard("upsertMany"); err != nil {
		return nil, err
	}

	return t.staging.upsertMany(table, recs, opts)
}

func (t *Tx) DeleteOne(_ context.Context, table string, id any) error {
	if err := t.guard("deleteOne"); err != nil {
		return err
	}

	return t.staging.deleteOne(table, id)
}

func (t *Tx) DeleteMany(_ context.Context, table string, filter any) (int64, error) {
	if err := t.guard("deleteMany"); err != nil {
		return 0, err
	}

	return t.staging.deleteMany(table, filter)
}

func (t *Tx) Count(_ context.Context, table string, filter any) (int64, error) {
	if err := t.guard("count"); err != nil {
		return 0, err
	}

	return t.staging.count(table, filter)
}

func (t *Tx) Exists(_ context.Context, table string, filter any) (bool, error) {
	if err := t.guard("exists"); err != nil {
		return false, err
	}

	n, err := t.staging.count(table, filter)

	return n > 0, err
}

func (t *Tx) Aggregate(_ context.Context, table string, pipeline any) ([]polystore.Record, error) {
	if err := t.guard("aggregate"); err != nil {
		return nil, err
	}

	return t.staging.aggregate(table, pipeline)
}

func (t *Tx) Query(_ context.Context, _ string, _ ...any) ([]polystore.Record, error) {
	if err := t.guard("query"); err != nil {
		return nil, err
	}

	return nil, ErrRawUnsupported
}

// store is the unlocked data plane shared by the driver and transactions.
type store struct {
	tables  tables
	schemas map[string]*polystore.Schema
}

func (s store) clone() store {
	copied := make(tables, len(s.tables))

	for table, recs := range s.tables {
		rows := make(map[string]polystore.Record, len(recs))
		for id, rec := range recs {
			rows[id] = copyRecord(rec)
		}

		copied[table] = rows
	}

	return store{tables: copied, schemas: s.schemas}
}

func (s store) primaryKey(table string) string {
	if schema, ok := s.schemas[table]; ok {
		return schema.PrimaryKey()
	}

	return polystore.DefaultPrimaryKey
}

// rows returns the live row map for table, or nil when the table has never
// been written. Lookups, ranges, and deletes on a nil map are all safe, so
// read paths running under the read lock never mutate the table map.
func (s store) rows(table string) map[string]polystore.Record {
	return s.tables[table]
}

// rowsForWrite returns the row map for table, creating it on first use.
// Only insert paths call this; they hold the full driver lock.
func (s store) rowsForWrite(table string) map[string]polystore.Record {
	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]polystore.Record)
		s.tables[table] = rows
	}

	return rows
}

func (s store) project(table string, rec polystore.Record, opts *polystore.WriteOptions) polystore.Record {
	if opts != nil && opts.Strict {
		if schema, ok := s.schemas[table]; ok {
			return schema.Project(rec)
		}
	}

	return rec
}

func (s store) resolveFilter(filter any) (bson.M, error) {
	switch f := filter.(type) {
	case nil:
		return bson.M{}, nil
	case string:
		return where.ToFilter(f)
	case bson.M:
		return f, nil
	case map[string]any:
		return bson.M(f), nil
	default:
		return nil, fmt.Errorf("memory: unsupported filter type %T", filter)
	}
}

func (s store) findByID(table string, id any) (polystore.Record, error) {
	rec, ok := s.rows(table)[sortKey(id)]
	if !ok {
		return nil, fmt.Errorf("memory: %s[%v]: %w", table, id, polystore.ErrNotFound)
	}

	return copyRecord(rec), nil
}

func (s store) findMany(table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	matched, err := s.matching(table, filter)
	if err != nil {
		return nil, err
	}

	pk := s.primaryKey(table)
	sortRecords(matched, opts, pk)

	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= int64(len(matched)) {
				matched = nil
			} else {
				matched = matched[opts.Offset:]
			}
		}

		if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
			matched = matched[:opts.Limit]
		}
	}

	out := make([]polystore.Record, len(matched))
	for i, rec := range matched {
		out[i] = copyRecord(rec)
	}

	return out, nil
}

func (s store) matching(table string, filter any) ([]polystore.Record, error) {
	f, err := s.resolveFilter(filter)
	if err != nil {
		return nil, err
	}

	var matched []polystore.Record

	for _, rec := range s.rows(table) {
		if match(rec, f) {
			matched = append(matched, rec)
		}
	}

	return matched, nil
}

func (s store) insertOne(table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	rec = copyRecord(s.project(table, rec, opts))
	pk := s.primaryKey(table)

	if rec[pk] == nil {
		rec[pk] = uuid.NewString()
	}

	key := sortKey(rec[pk])

	rows := s.rowsForWrite(table)
	if _, exists := rows[key]; exists {
		return nil, fmt.Errorf("%w: %s[%s]", ErrDuplicateKey, table, key)
	}

	rows[key] = rec

	return writeResult(rec, pk, opts), nil
}

func (s store) insertMany(table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	out := make([]polystore.Record, len(recs))

	for i, rec := range recs {
		inserted, err := s.insertOne(table, rec, opts)
		if err != nil {
			return nil, err
		}

		out[i] = inserted
	}

	return out, nil
}

func (s store) updateOne(table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	pk := s.primaryKey(table)
	key := sortKey(id)

	rows := s.rows(table)

	rec, ok := rows[key]
	if !ok {
		return nil, fmt.Errorf("memory: %s[%v]: %w", table, id, polystore.ErrNotFound)
	}

	applyChanges(rec, s.project(table, changes, opts), pk)

	return writeResult(rec, pk, opts), nil
}

func (s store) updateMany(table string, filter any, changes polystore.Record) (int64, error) {
	matched, err := s.matching(table, filter)
	if err != nil {
		return 0, err
	}

	pk := s.primaryKey(table)
	for _, rec := range matched {
		applyChanges(rec, changes, pk)
	}

	return int64(len(matched)), nil
}

func (s store) upsert(table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	pk := s.primaryKey(table)

	if id := rec[pk]; id != nil {
		if _, exists := s.rows(table)[sortKey(id)]; exists {
			changes := copyRecord(rec)
			delete(changes, pk)

			return s.updateOne(table, id, changes, opts)
		}
	}

	return s.insertOne(table, rec, opts)
}

func (s store) upsertMany(table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	out := make([]polystore.Record, len(recs))

	for i, rec := range recs {
		upserted, err := s.upsert(table, rec, opts)
		if err != nil {
			return nil, err
		}

		out[i] = upserted
	}

	return out, nil
}

func (s store) deleteOne(table string, id any) error {
	key := sortKey(id)

	rows := s.rows(table)
	if _, ok := rows[key]; !ok {
		return fmt.Errorf("memory: %s[%v]: %w", table, id, polystore.ErrNotFound)
	}

	delete(rows, key)

	return nil
}

func (s store) deleteMany(table string, filter any) (int64, error) {
	f, err := s.resolveFilter(filter)
	if err != nil {
		return 0, err
	}

	rows := s.rows(table)

	var removed int64

	for key, rec := range rows {
		if match(rec, f) {
			delete(rows, key)
			removed++
		}
	}

	return removed, nil
}

func (s store) count(table string, filter any) (int64, error) {
	matched, err := s.matching(table, filter)
	if err != nil {
		return 0, err
	}

	return int64(len(matched)), nil
}

func copyRecord(rec polystore.Record) polystore.Record {
	out := make(polystore.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	return out
}

func applyChanges(rec, changes polystore.Record, pk string) {
	for k, v := range changes {
		if k == pk {
			continue
		}

		rec[k] = v
	}
}

func writeResult(rec polystore.Record, pk string, opts *polystore.WriteOptions) polystore.Record {
	if opts != nil && opts.ReturnFull {
		return copyRecord(rec)
	}

	return polystore.Record{pk: rec[pk]}
}

func sortRecords(recs []polystore.Record, opts *polystore.FindOptions, pk string) {
	if opts == nil || len(opts.Sort) == 0 {
		// Deterministic default order: by primary key.
		sort.Slice(recs, func(i, j int) bool {
			return sortKey(recs[i][pk]) < sortKey(recs[j][pk])
		})

		return
	}

	sort.SliceStable(recs, func(i, j int) bool {
		for _, sf := range opts.Sort {
			c, ok := compare(recs[i][sf.Field], recs[j][sf.Field])
			if !ok {
				c = strings.Compare(sortKey(recs[i][sf.Field]), sortKey(recs[j][sf.Field]))
			}

			if c == 0 {
				continue
			}

			if sf.Desc {
				return c > 0
			}

			return c < 0
		}

		return false
	})
}

// Compile-time interface checks.
var (
	_ polystore.Driver = (*Driver)(nil)
	_ polystore.Tx     = (*Tx)(nil)
)
