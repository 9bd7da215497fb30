// Package polystore provides a uniform persistence contract over relational
// and document backends: one driver interface, one schema/validation layer,
// and a relational-predicate translator shared by every backend.
package polystore

import "context"

// Record is the logical representation of an entity: schema field names
// mapped to values. Backends translate between this and their physical
// representation (e.g. a generated object identifier) at every boundary.
type Record = map[string]any

// SortField is one ordering rule applied to a find.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions narrows and orders a FindMany call.
type FindOptions struct {
	Sort   []SortField
	Limit  int64
	Offset int64
}

// WriteOptions applies to every mutating call.
type WriteOptions struct {
	// ReturnFull returns the complete persisted record instead of just its key.
	ReturnFull bool

	// Strict drops fields not declared in the table's schema before writing.
	// The schema consulted is the one last passed to EnsureIndexes for the
	// table; without one the flag is a no-op.
	Strict bool
}

// Session is the operation set shared by a Driver (pooled execution) and a
// Tx (execution pinned to one dedicated connection).
//
// Filter arguments accept either a structural document filter (bson.M-style
// mapping) or a relational WHERE-clause string; drivers route strings through
// the predicate translator.
type Session interface {
	// FindByID returns the record with the given primary key, or ErrNotFound.
	FindByID(ctx context.Context, table string, id any) (Record, error)

	// FindMany returns all records matching filter. A nil filter matches all.
	FindMany(ctx context.Context, table string, filter any, opts *FindOptions) ([]Record, error)

	// InsertOne persists one record and returns at least its generated key.
	InsertOne(ctx context.Context, table string, rec Record, opts *WriteOptions) (Record, error)

	// InsertMany persists records in order.
	InsertMany(ctx context.Context, table string, recs []Record, opts *WriteOptions) ([]Record, error)

	// UpdateOne applies changes to the record with the given primary key.
	UpdateOne(ctx context.Context, table string, id any, changes Record, opts *WriteOptions) (Record, error)

	// UpdateMany applies changes to every record matching filter and returns
	// the number of records affected.
	UpdateMany(ctx context.Context, table string, filter any, changes Record) (int64, error)

	// Upsert updates the record identified by the primary key in rec, or
	// inserts when the key is absent or matches nothing.
	Upsert(ctx context.Context, table string, rec Record, opts *WriteOptions) (Record, error)

	// UpsertMany upserts records in order.
	UpsertMany(ctx context.Context, table string, recs []Record, opts *WriteOptions) ([]Record, error)

	// DeleteOne removes the record with the given primary key.
	DeleteOne(ctx context.Context, table string, id any) error

	// DeleteMany removes every record matching filter and returns the count.
	DeleteMany(ctx context.Context, table string, filter any) (int64, error)

	// Count returns the number of records matching filter.
	Count(ctx context.Context, table string, filter any) (int64, error)

	// Exists reports whether at least one record matches filter.
	Exists(ctx context.Context, table string, filter any) (bool, error)

	// Aggregate runs a backend-native aggregation pipeline.
	Aggregate(ctx context.Context, table string, pipeline any) ([]Record, error)

	// Query is the escape hatch for backend-native operations.
	Query(ctx context.Context, raw string, args ...any) ([]Record, error)
}

// Driver is the uniform persistence contract every backend implements.
// The interface is the capability check: a type that does not satisfy it
// cannot be handed to a model in the first place.
type Driver interface {
	Session

	// Name returns the driver identifier (e.g. "mongo", "postgres").
	Name() string

	// Connect establishes the backend connection. Calling Connect while
	// already connected is a no-op, never a duplicate connection.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Operations after Disconnect fail
	// with ErrNotConnected; drivers never silently reconnect.
	Disconnect(ctx context.Context) error

	// Connected reports the connection state.
	Connected() bool

	// EnsureIndexes creates the schema's indexes for table. Idempotent per
	// table per process lifetime; "index already exists" is swallowed,
	// every other backend error surfaces.
	EnsureIndexes(ctx context.Context, table string, schema *Schema) error

	// Begin starts a transaction pinned to one dedicated connection.
	Begin(ctx context.Context) (Tx, error)

	// Transaction runs fn inside a transaction: commit on nil return,
	// rollback and return the original error otherwise.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Session) error) error
}

// Tx is an active transaction. Statements issued through it share one
// dedicated connection; the connection is released on Commit or Rollback.
type Tx interface {
	Session

	// Commit finalizes the transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction.
	Rollback(ctx context.Context) error
}
