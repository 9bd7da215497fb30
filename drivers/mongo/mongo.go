// Package mongo provides the document-store polystore driver on the
// official MongoDB driver. The logical primary key maps to the native
// "_id" at every boundary, and relational WHERE-clause strings are
// accepted anywhere a structural filter is.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/miketerry-org/polystore"
)

// Package errors.
var (
	// ErrNoConfig is returned when the configuration has no mongo section.
	ErrNoConfig = errors.New("mongo: missing mongo configuration")

	// ErrTxDone is returned when a finished transaction is reused.
	ErrTxDone = errors.New("mongo: transaction already finished")
)

// Register adds the mongo driver to a registry.
func Register(r *polystore.Registry) {
	r.Add(polystore.DriverMongo, func(cfg *polystore.Config) (polystore.Driver, error) {
		if cfg == nil || cfg.Mongo == nil {
			return nil, ErrNoConfig
		}

		return New(cfg.Mongo.URI, cfg.Mongo.Database, nil), nil
	})
}

// Driver implements polystore.Driver for MongoDB.
type Driver struct {
	uri      string
	database string
	log      *zap.Logger

	mu      sync.Mutex
	client  *mongo.Client
	db      *mongo.Database
	ensured map[string]bool
	schemas map[string]*polystore.Schema
}

// New creates a mongo driver. The client is not dialed until Connect.
func New(uri, database string, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}

	return &Driver{
		uri:      uri,
		database: database,
		log:      log.Named("mongo"),
		ensured:  make(map[string]bool),
		schemas:  make(map[string]*polystore.Schema),
	}
}

// Name returns the driver identifier.
func (d *Driver) Name() string { return polystore.DriverMongo }

// Connect dials the backend and verifies connectivity. Calling Connect
// while connected is a no-op.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.uri))
	if err != nil {
		return fmt.Errorf("mongo: connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return fmt.Errorf("mongo: ping: %w", err)
	}

	d.client = client
	d.db = client.Database(d.database)
	d.log.Debug("connected", zap.String("database", d.database))

	return nil
}

// Disconnect releases the client. Further operations fail with
// ErrNotConnected.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}

	err := d.client.Disconnect(ctx)
	d.client = nil
	d.db = nil
	d.log.Debug("disconnected")

	if err != nil {
		return fmt.Errorf("mongo: disconnect: %w", err)
	}

	return nil
}

// Connected reports the connection state.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.client != nil
}

func (d *Driver) collection(op, table string) (*mongo.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil, fmt.Errorf("mongo: %s: %w", op, polystore.ErrNotConnected)
	}

	return d.db.Collection(table), nil
}

func (d *Driver) primaryKey(table string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if schema, ok := d.schemas[table]; ok {
		return schema.PrimaryKey()
	}

	return polystore.DefaultPrimaryKey
}

func (d *Driver) schemaFor(table string) *polystore.Schema {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.schemas[table]
}

// EnsureIndexes creates the schema's secondary indexes for the collection.
// Safe to call repeatedly: a table is processed once per process lifetime,
// and index-exists conflicts from concurrent creators are swallowed.
func (d *Driver) EnsureIndexes(ctx context.Context, table string, schema *polystore.Schema) error {
	if err := schema.Check(); err != nil {
		return err
	}

	d.mu.Lock()

	if d.db == nil {
		d.mu.Unlock()

		return fmt.Errorf("mongo: ensureIndexes: %w", polystore.ErrNotConnected)
	}

	if d.ensured[table] {
		d.mu.Unlock()

		return nil
	}

	coll := d.db.Collection(table)
	d.schemas[table] = schema
	d.mu.Unlock()

	for _, idx := range schema.Indexes() {
		// The native _id index covers the primary key.
		if idx.Primary {
			continue
		}

		model := indexModel(idx)

		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
			if indexExists(err) {
				continue
			}

			return fmt.Errorf("mongo: ensureIndexes %s: %w", table, err)
		}
	}

	d.mu.Lock()
	d.ensured[table] = true
	d.mu.Unlock()

	d.log.Debug("indexes ensured", zap.String("table", table))

	return nil
}

func indexExists(err error) bool {
	var cmdErr mongo.CommandError

	if errors.As(err, &cmdErr) {
		// 85 IndexOptionsConflict, 86 IndexKeySpecsConflict.
		return cmdErr.Code == 85 || cmdErr.Code == 86
	}

	return false
}

// Begin starts an explicit session transaction.
func (d *Driver) Begin(ctx context.Context) (polystore.Tx, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("mongo: begin: %w", polystore.ErrNotConnected)
	}

	sess, err := client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("mongo: begin: %w", err)
	}

	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)

		return nil, fmt.Errorf("mongo: begin: %w", err)
	}

	return &Tx{d: d, sess: sess}, nil
}

// Transaction runs fn through the session's native transactional-retry
// helper: commit on nil return, abort and re-raise otherwise.
func (d *Driver) Transaction(ctx context.Context, fn func(ctx context.Context, tx polystore.Session) error) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return fmt.Errorf("mongo: transaction: %w", polystore.ErrNotConnected)
	}

	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: transaction: %w", err)
	}

	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		// The callback context is already session-bound; the Tx simply
		// forwards it.
		return nil, fn(sc, &Tx{d: d})
	})

	return err
}

// Tx is a mongo transaction. With an explicit session (Begin) operations
// bind the caller's context to it; under Transaction the context is
// already session-bound and sess is nil.
type Tx struct {
	d    *Driver
	sess mongo.Session
	done bool
}

func (t *Tx) bind(ctx context.Context) (context.Context, error) {
	if t.done {
		return nil, ErrTxDone
	}

	if t.sess != nil {
		return mongo.NewSessionContext(ctx, t.sess), nil
	}

	return ctx, nil
}

// Commit commits the transaction and ends the session.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}

	t.done = true

	if t.sess == nil {
		return nil
	}

	defer t.sess.EndSession(ctx)

	if err := t.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("mongo: commit: %w", err)
	}

	return nil
}

// Rollback aborts the transaction and ends the session.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}

	t.done = true

	if t.sess == nil {
		return nil
	}

	defer t.sess.EndSession(ctx)

	if err := t.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("mongo: rollback: %w", err)
	}

	return nil
}

// Compile-time interface checks.
var (
	_ polystore.Driver = (*Driver)(nil)
	_ polystore.Tx     = (*Tx)(nil)
)
