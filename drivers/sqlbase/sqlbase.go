// Package sqlbase is the shared relational implementation of the polystore
// driver contract: parameterized SQL generation, pooled execution through
// database/sql, and transactions pinned to one dedicated connection.
// Backend packages supply a Dialect and the database/sql driver name.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/miketerry-org/polystore"
)

// DB implements polystore.Driver over database/sql for one dialect.
type DB struct {
	name       string
	driverName string
	dsn        string
	dialect    Dialect
	log        *zap.Logger

	mu      sync.Mutex
	db      *sql.DB
	ensured map[string]bool
	schemas map[string]*polystore.Schema
}

// New creates a relational driver. name is the polystore driver name,
// driverName the database/sql driver to open, dsn the connection string.
func New(name, driverName, dsn string, dialect Dialect, log *zap.Logger) *DB {
	if log == nil {
		log = zap.NewNop()
	}

	return &DB{
		name:       name,
		driverName: driverName,
		dsn:        dsn,
		dialect:    dialect,
		log:        log.Named(name),
		ensured:    make(map[string]bool),
		schemas:    make(map[string]*polystore.Schema),
	}
}

// Name returns the driver identifier.
func (d *DB) Name() string { return d.name }

// Connect opens the connection pool and verifies connectivity. Calling
// Connect while connected is a no-op.
func (d *DB) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return nil
	}

	db, err := sql.Open(d.driverName, d.dsn)
	if err != nil {
		return fmt.Errorf("%s: open: %w", d.name, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return fmt.Errorf("%s: ping: %w", d.name, err)
	}

	d.db = db
	d.log.Debug("connected")

	return nil
}

// Disconnect closes the pool. Further operations fail with ErrNotConnected.
func (d *DB) Disconnect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}

	err := d.db.Close()
	d.db = nil
	d.log.Debug("disconnected")

	if err != nil {
		return fmt.Errorf("%s: close: %w", d.name, err)
	}

	return nil
}

// Connected reports the connection state.
func (d *DB) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db != nil
}

func (d *DB) session(op string) (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil, fmt.Errorf("%s: %s: %w", d.name, op, polystore.ErrNotConnected)
	}

	return &session{d: d, q: d.db}, nil
}

func (d *DB) primaryKey(table string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if schema, ok := d.schemas[table]; ok {
		return schema.PrimaryKey()
	}

	return polystore.DefaultPrimaryKey
}

func (d *DB) schemaFor(table string) *polystore.Schema {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.schemas[table]
}

// EnsureIndexes creates the schema's secondary indexes for table. A table
// is only processed once per process lifetime; concurrent first use is
// serialized by the driver mutex. "Already exists" races are swallowed,
// every other backend error surfaces.
func (d *DB) EnsureIndexes(ctx context.Context, table string, schema *polystore.Schema) error {
	if err := schema.Check(); err != nil {
		return err
	}

	d.mu.Lock()

	if d.db == nil {
		d.mu.Unlock()

		return fmt.Errorf("%s: ensureIndexes: %w", d.name, polystore.ErrNotConnected)
	}

	if d.ensured[table] {
		d.mu.Unlock()

		return nil
	}

	db := d.db
	d.schemas[table] = schema
	d.mu.Unlock()

	b := builder{dialect: d.dialect}

	for _, idx := range schema.Indexes() {
		if idx.Primary {
			continue
		}

		stmt := b.createIndex(table, idx)

		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if indexExists(err) {
				continue
			}

			return fmt.Errorf("%s: ensureIndexes %s: %w (stmt: %s)", d.name, table, err, stmt)
		}
	}

	d.mu.Lock()
	d.ensured[table] = true
	d.mu.Unlock()

	d.log.Debug("indexes ensured", zap.String("table", table))

	return nil
}

func indexExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// Begin starts a transaction. Every statement issued through the returned
// Tx runs on the one connection database/sql dedicates to it; Commit and
// Rollback both release that connection back to the pool.
func (d *DB) Begin(ctx context.Context) (polystore.Tx, error) {
	d.mu.Lock()
	db := d.db
	d.mu.Unlock()

	if db == nil {
		return nil, fmt.Errorf("%s: begin: %w", d.name, polystore.ErrNotConnected)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", d.name, err)
	}

	return &Tx{session: session{d: d, q: tx}, tx: tx}, nil
}

// Transaction runs fn in a transaction: commit on nil return, rollback and
// re-raise the original error otherwise. Rollback also runs on panic so
// the dedicated connection is always released.
func (d *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx polystore.Session) error) error {
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

// Driver-level Session methods run on the shared pool.

func (d *DB) FindByID(ctx context.Context, table string, id any) (polystore.Record, error) {
	s, err := d.session("findById")
	if err != nil {
		return nil, err
	}

	return s.FindByID(ctx, table, id)
}

func (d *DB) FindMany(ctx context.Context, table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	s, err := d.session("findMany")
	if err != nil {
		return nil, err
	}

	return s.FindMany(ctx, table, filter, opts)
}

func (d *DB) InsertOne(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	s, err := d.session("insertOne")
	if err != nil {
		return nil, err
	}

	return s.InsertOne(ctx, table, rec, opts)
}

func (d *DB) InsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	s, err := d.session("insertMany")
	if err != nil {
		return nil, err
	}

	return s.InsertMany(ctx, table, recs, opts)
}

func (d *DB) UpdateOne(ctx context.Context, table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	s, err := d.session("updateOne")
	if err != nil {
		return nil, err
	}

	return s.UpdateOne(ctx, table, id, changes, opts)
}

func (d *DB) UpdateMany(ctx context.Context, table string, filter any, changes polystore.Record) (int64, error) {
	s, err := d.session("updateMany")
	if err != nil {
		return 0, err
	}

	return s.UpdateMany(ctx, table, filter, changes)
}

func (d *DB) Upsert(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	s, err := d.session("upsert")
	if err != nil {
		return nil, err
	}

	return s.Upsert(ctx, table, rec, opts)
}

func (d *DB) UpsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	s, err := d.session("upsertMany")
	if err != nil {
		return nil, err
	}

	return s.UpsertMany(ctx, table, recs, opts)
}

func (d *DB) DeleteOne(ctx context.Context, table string, id any) error {
	s, err := d.session("deleteOne")
	if err != nil {
		return err
	}

	return s.DeleteOne(ctx, table, id)
}

func (d *DB) DeleteMany(ctx context.Context, table string, filter any) (int64, error) {
	s, err := d.session("deleteMany")
	if err != nil {
		return 0, err
	}

	return s.DeleteMany(ctx, table, filter)
}

func (d *DB) Count(ctx context.Context, table string, filter any) (int64, error) {
	s, err := d.session("count")
	if err != nil {
		return 0, err
	}

	return s.Count(ctx, table, filter)
}

func (d *DB) Exists(ctx context.Context, table string, filter any) (bool, error) {
	s, err := d.session("exists")
	if err != nil {
		return false, err
	}

	return s.Exists(ctx, table, filter)
}

func (d *DB) Aggregate(ctx context.Context, table string, pipeline any) ([]polystore.Record, error) {
	s, err := d.session("aggregate")
	if err != nil {
		return nil, err
	}

	return s.Aggregate(ctx, table, pipeline)
}

func (d *DB) Query(ctx context.Context, raw string, args ...any) ([]polystore.Record, error) {
	s, err := d.session("query")
	if err != nil {
		return nil, err
	}

	return s.Query(ctx, raw, args...)
}

// Tx is a relational transaction: a session pinned to one *sql.Tx.
type Tx struct {
	session
	tx *sql.Tx
}

// Commit finalizes the transaction and releases its connection.
func (t *Tx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", t.d.name, err)
	}

	return nil
}

// Rollback aborts the transaction and releases its connection.
func (t *Tx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("%s: rollback: %w", t.d.name, err)
	}

	return nil
}

// Compile-time interface checks.
var (
	_ polystore.Driver = (*DB)(nil)
	_ polystore.Tx     = (*Tx)(nil)
)
