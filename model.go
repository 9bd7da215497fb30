package polystore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ModelConfig holds per-model settings.
type ModelConfig struct {
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Strict drops undeclared fields in the driver before writing, on top
	// of the schema's own projection.
	Strict bool

	// ReturnFull makes mutating verbs return the complete persisted record
	// instead of just its key.
	ReturnFull bool
}

// Model binds one driver, one logical table/collection name, and one schema
// in the table-gateway style. Every mutating verb validates first and never
// reaches the backend on failure; read verbs pass straight through.
type Model struct {
	driver  Driver
	session Session
	table   string
	schema  *Schema
	cfg     ModelConfig
	log     *zap.Logger
}

// NewModel constructs a model. It fails fast on a missing driver, table, or
// schema, and on schema build errors; the Driver interface itself is the
// capability check, so no runtime method scan is needed.
func NewModel(driver Driver, table string, schema *Schema, cfg ModelConfig) (*Model, error) {
	switch {
	case driver == nil:
		return nil, ErrMissingDriver
	case table == "":
		return nil, ErrMissingTable
	case schema == nil:
		return nil, ErrMissingSchema
	}

	if err := schema.Check(); err != nil {
		return nil, fmt.Errorf("polystore: model %s: %w", table, err)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Model{
		driver:  driver,
		session: driver,
		table:   table,
		schema:  schema,
		cfg:     cfg,
		log:     log.With(zap.String("model", table)),
	}, nil
}

// Table returns the bound table/collection name.
func (m *Model) Table() string { return m.table }

// Schema returns the bound schema.
func (m *Model) Schema() *Schema { return m.schema }

// WithSession returns a copy of the model whose operations run through s,
// typically a Tx. The original model is unchanged.
func (m *Model) WithSession(s Session) *Model {
	clone := *m
	clone.session = s

	return &clone
}

// EnsureIndexes creates the schema's indexes for the bound table.
func (m *Model) EnsureIndexes(ctx context.Context) error {
	return m.driver.EnsureIndexes(ctx, m.table, m.schema)
}

// Transaction runs fn with a model bound to a single transaction, committing
// on nil return and rolling back otherwise.
func (m *Model) Transaction(ctx context.Context, fn func(ctx context.Context, tm *Model) error) error {
	return m.driver.Transaction(ctx, func(ctx context.Context, tx Session) error {
		return fn(ctx, m.WithSession(tx))
	})
}

// validate runs full-record validation for method, logging and wrapping
// failures in a ValidationError.
func (m *Model) validate(method string, data Record) (Record, error) {
	return m.check(method, m.schema.Validate(data))
}

func (m *Model) validatePartial(method string, data Record) (Record, error) {
	return m.check(method, m.schema.ValidatePartial(data))
}

func (m *Model) check(method string, res *Result) (Record, error) {
	if res.Valid {
		return res.Value, nil
	}

	err := &ValidationError{Model: m.table, Method: method, Errors: res.Errors}
	m.log.Debug("validation failed", zap.String("method", method), zap.Error(err))

	return nil, err
}

func (m *Model) writeOptions() *WriteOptions {
	return &WriteOptions{ReturnFull: m.cfg.ReturnFull, Strict: m.cfg.Strict}
}

// Insert validates data and persists it as a new record.
func (m *Model) Insert(ctx context.Context, data Record) (Record, error) {
	value, err := m.validate("insert", data)
	if err != nil {
		return nil, err
	}

	return m.session.InsertOne(ctx, m.table, value, m.writeOptions())
}

// InsertMany validates every record up front; one invalid record fails the
// whole call before anything is written.
func (m *Model) InsertMany(ctx context.Context, recs []Record) ([]Record, error) {
	values, err := m.validateAll("insertMany", recs, m.schema.Validate)
	if err != nil {
		return nil, err
	}

	return m.session.InsertMany(ctx, m.table, values, m.writeOptions())
}

// Update validates the change set and applies it to the record with the
// given primary key.
func (m *Model) Update(ctx context.Context, id any, changes Record) (Record, error) {
	value, err := m.validatePartial("update", changes)
	if err != nil {
		return nil, err
	}

	return m.session.UpdateOne(ctx, m.table, id, value, m.writeOptions())
}

// UpdateMany applies a validated change set to every record matching filter.
func (m *Model) UpdateMany(ctx context.Context, filter any, changes Record) (int64, error) {
	value, err := m.validatePartial("updateMany", changes)
	if err != nil {
		return 0, err
	}

	return m.session.UpdateMany(ctx, m.table, filter, value)
}

// Upsert validates data and updates or inserts it by primary key.
func (m *Model) Upsert(ctx context.Context, data Record) (Record, error) {
	value, err := m.validate("upsert", data)
	if err != nil {
		return nil, err
	}

	return m.session.Upsert(ctx, m.table, value, m.writeOptions())
}

// UpsertMany validates and upserts records in order.
func (m *Model) UpsertMany(ctx context.Context, recs []Record) ([]Record, error) {
	values, err := m.validateAll("upsertMany", recs, m.schema.Validate)
	if err != nil {
		return nil, err
	}

	return m.session.UpsertMany(ctx, m.table, values, m.writeOptions())
}

// DeleteOne removes the record with the given primary key.
func (m *Model) DeleteOne(ctx context.Context, id any) error {
	return m.session.DeleteOne(ctx, m.table, id)
}

// DeleteMany removes every record matching filter.
func (m *Model) DeleteMany(ctx context.Context, filter any) (int64, error) {
	return m.session.DeleteMany(ctx, m.table, filter)
}

// FindByID returns the record with the given primary key.
func (m *Model) FindByID(ctx context.Context, id any) (Record, error) {
	return m.session.FindByID(ctx, m.table, id)
}

// FindMany returns all records matching filter, which may be a structural
// filter mapping or a WHERE-clause string.
func (m *Model) FindMany(ctx context.Context, filter any, opts *FindOptions) ([]Record, error) {
	return m.session.FindMany(ctx, m.table, filter, opts)
}

// Count returns the number of records matching filter.
func (m *Model) Count(ctx context.Context, filter any) (int64, error) {
	return m.session.Count(ctx, m.table, filter)
}

// Exists reports whether at least one record matches filter.
func (m *Model) Exists(ctx context.Context, filter any) (bool, error) {
	return m.session.Exists(ctx, m.table, filter)
}

// Aggregate runs a backend-native aggregation pipeline.
func (m *Model) Aggregate(ctx context.Context, pipeline any) ([]Record, error) {
	return m.session.Aggregate(ctx, m.table, pipeline)
}

// Query is the raw escape hatch, forwarded untouched to the driver.
func (m *Model) Query(ctx context.Context, raw string, args ...any) ([]Record, error) {
	return m.session.Query(ctx, raw, args...)
}

func (m *Model) validateAll(method string, recs []Record, validate func(Record) *Result) ([]Record, error) {
	values := make([]Record, len(recs))

	for i, rec := range recs {
		res := validate(rec)
		if !res.Valid {
			errs := make([]FieldError, len(res.Errors))
			for j, fe := range res.Errors {
				errs[j] = FieldError{
					Field:   fmt.Sprintf("[%d].%s", i, fe.Field),
					Message: fe.Message,
				}
			}

			err := &ValidationError{Model: m.table, Method: method, Errors: errs}
			m.log.Debug("validation failed", zap.String("method", method), zap.Error(err))

			return nil, err
		}

		values[i] = res.Value
	}

	return values, nil
}

// Entity is the active-record companion to Model: one in-memory record
// bound to its persisted counterpart.
type Entity struct {
	model *Model
	data  Record
}

// New returns an entity holding a copy of data, not yet persisted.
func (m *Model) New(data Record) *Entity {
	copied := make(Record, len(data))
	for k, v := range data {
		copied[k] = v
	}

	return &Entity{model: m, data: copied}
}

// Get returns the current in-memory value of field.
func (e *Entity) Get(field string) any { return e.data[field] }

// Set updates the in-memory value of field. Nothing is persisted until Save.
func (e *Entity) Set(field string, value any) *Entity {
	e.data[field] = value

	return e
}

// Data returns a copy of the in-memory record.
func (e *Entity) Data() Record {
	out := make(Record, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}

	return out
}

// Save dispatches to insert or update based on the presence of the
// primary-key value, then refreshes the in-memory record with whatever the
// backend returned.
func (e *Entity) Save(ctx context.Context) error {
	pk := e.model.schema.PrimaryKey()

	var (
		saved Record
		err   error
	)

	if id, ok := e.data[pk]; ok && id != nil {
		changes := e.Data()
		delete(changes, pk)

		saved, err = e.model.Update(ctx, id, changes)
	} else {
		saved, err = e.model.Insert(ctx, e.data)
	}

	if err != nil {
		return err
	}

	for k, v := range saved {
		e.data[k] = v
	}

	return nil
}

// Delete removes the persisted counterpart. The entity must carry its
// primary key.
func (e *Entity) Delete(ctx context.Context) error {
	pk := e.model.schema.PrimaryKey()

	id, ok := e.data[pk]
	if !ok || id == nil {
		return fmt.Errorf("polystore: %s: delete without %s: %w", e.model.table, pk, ErrNotFound)
	}

	return e.model.DeleteOne(ctx, id)
}
