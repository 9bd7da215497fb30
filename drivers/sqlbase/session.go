package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miketerry-org/polystore"
)

// ErrNoInsertID is returned by InsertOne when the record carries no
// primary-key value and the dialect cannot return the minted one. Several
// database/sql drivers, lib/pq included, do not implement
// sql.Result.LastInsertId, so the key has to come from RETURNING or from
// the caller.
var ErrNoInsertID = errors.New("sqlbase: insert without a primary-key value needs a returning dialect")

// querier is the execution surface shared by *sql.DB (pooled) and *sql.Tx
// (pinned to one dedicated connection).
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// session implements the polystore.Session operations over one querier.
type session struct {
	d *DB
	q querier
}

func (s session) builder() builder {
	return builder{dialect: s.d.dialect}
}

func (s session) project(table string, rec polystore.Record, opts *polystore.WriteOptions) polystore.Record {
	if opts != nil && opts.Strict {
		if schema := s.d.schemaFor(table); schema != nil {
			return schema.Project(rec)
		}
	}

	return rec
}

func (s session) fail(op, stmt string, err error) error {
	return fmt.Errorf("%s: %s: %w (stmt: %s)", s.d.name, op, err, stmt)
}

func (s session) queryRecords(ctx context.Context, op, stmt string, args ...any) ([]polystore.Record, error) {
	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.fail(op, stmt, err)
	}

	defer rows.Close()

	recs, err := scanRows(rows)
	if err != nil {
		return nil, s.fail(op, stmt, err)
	}

	return recs, nil
}

func (s session) FindByID(ctx context.Context, table string, id any) (polystore.Record, error) {
	pk := s.d.primaryKey(table)

	recs, err := s.FindMany(ctx, table, map[string]any{pk: id}, &polystore.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %s[%v]: %w", s.d.name, table, id, polystore.ErrNotFound)
	}

	return recs[0], nil
}

func (s session) FindMany(ctx context.Context, table string, filter any, opts *polystore.FindOptions) ([]polystore.Record, error) {
	stmt, args, err := s.builder().sel(table, filter, opts)
	if err != nil {
		return nil, err
	}

	return s.queryRecords(ctx, "findMany", stmt, args...)
}

func (s session) InsertOne(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	rec = s.project(table, rec, opts)
	pk := s.d.primaryKey(table)

	returning := s.d.dialect.SupportsReturning()

	if !returning {
		if id, ok := rec[pk]; !ok || id == nil {
			return nil, fmt.Errorf("%s: insertOne on %s: %w", s.d.name, table, ErrNoInsertID)
		}
	}

	stmt, args := s.builder().insert(table, rec, returning)

	if returning {
		saved, err := s.queryRecords(ctx, "insertOne", stmt, args...)
		if err != nil {
			return nil, err
		}

		if len(saved) == 0 {
			return nil, s.fail("insertOne", stmt, errors.New("no row returned"))
		}

		return writeResult(saved[0], pk, opts), nil
	}

	if _, err := s.q.ExecContext(ctx, stmt, args...); err != nil {
		return nil, s.fail("insertOne", stmt, err)
	}

	return writeResult(rec, pk, opts), nil
}

func (s session) InsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	out := make([]polystore.Record, len(recs))

	for i, rec := range recs {
		saved, err := s.InsertOne(ctx, table, rec, opts)
		if err != nil {
			return nil, err
		}

		out[i] = saved
	}

	return out, nil
}

func (s session) UpdateOne(ctx context.Context, table string, id any, changes polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	pk := s.d.primaryKey(table)
	changes = copyWithout(s.project(table, changes, opts), pk)

	if len(changes) == 0 {
		return s.FindByID(ctx, table, id)
	}

	returning := s.d.dialect.SupportsReturning() && opts != nil && opts.ReturnFull

	stmt, args, err := s.builder().update(table, changes, map[string]any{pk: id}, returning)
	if err != nil {
		return nil, err
	}

	if returning {
		saved, err := s.queryRecords(ctx, "updateOne", stmt, args...)
		if err != nil {
			return nil, err
		}

		if len(saved) == 0 {
			return nil, fmt.Errorf("%s: %s[%v]: %w", s.d.name, table, id, polystore.ErrNotFound)
		}

		return saved[0], nil
	}

	res, err := s.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.fail("updateOne", stmt, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, s.fail("updateOne", stmt, err)
	}

	if affected == 0 {
		return nil, fmt.Errorf("%s: %s[%v]: %w", s.d.name, table, id, polystore.ErrNotFound)
	}

	if opts != nil && opts.ReturnFull {
		return s.FindByID(ctx, table, id)
	}

	return polystore.Record{pk: id}, nil
}

func (s session) UpdateMany(ctx context.Context, table string, filter any, changes polystore.Record) (int64, error) {
	pk := s.d.primaryKey(table)

	changes = copyWithout(changes, pk)
	if len(changes) == 0 {
		return 0, nil
	}

	stmt, args, err := s.builder().update(table, changes, filter, false)
	if err != nil {
		return 0, err
	}

	res, err := s.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, s.fail("updateMany", stmt, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("updateMany", stmt, err)
	}

	return affected, nil
}

// Upsert is "update, and if zero rows affected, insert": there is no
// native upsert at this layer. A record without a primary-key value is a
// plain insert, leaving key generation to the backend.
func (s session) Upsert(ctx context.Context, table string, rec polystore.Record, opts *polystore.WriteOptions) (polystore.Record, error) {
	pk := s.d.primaryKey(table)

	if id, ok := rec[pk]; ok && id != nil {
		saved, err := s.UpdateOne(ctx, table, id, copyWithout(rec, pk), opts)
		if err == nil {
			return saved, nil
		}

		if !errors.Is(err, polystore.ErrNotFound) {
			return nil, err
		}
	}

	return s.InsertOne(ctx, table, rec, opts)
}

func (s session) UpsertMany(ctx context.Context, table string, recs []polystore.Record, opts *polystore.WriteOptions) ([]polystore.Record, error) {
	out := make([]polystore.Record, len(recs))

	for i, rec := range recs {
		saved, err := s.Upsert(ctx, table, rec, opts)
		if err != nil {
			return nil, err
		}

		out[i] = saved
	}

	return out, nil
}

func (s session) DeleteOne(ctx context.Context, table string, id any) error {
	pk := s.d.primaryKey(table)

	stmt, args, err := s.builder().del(table, map[string]any{pk: id})
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return s.fail("deleteOne", stmt, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return s.fail("deleteOne", stmt, err)
	}

	if affected == 0 {
		return fmt.Errorf("%s: %s[%v]: %w", s.d.name, table, id, polystore.ErrNotFound)
	}

	return nil
}

func (s session) DeleteMany(ctx context.Context, table string, filter any) (int64, error) {
	stmt, args, err := s.builder().del(table, filter)
	if err != nil {
		return 0, err
	}

	res, err := s.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, s.fail("deleteMany", stmt, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("deleteMany", stmt, err)
	}

	return affected, nil
}

func (s session) Count(ctx context.Context, table string, filter any) (int64, error) {
	stmt, args, err := s.builder().count(table, filter)
	if err != nil {
		return 0, err
	}

	recs, err := s.queryRecords(ctx, "count", stmt, args...)
	if err != nil {
		return 0, err
	}

	if len(recs) == 0 {
		return 0, s.fail("count", stmt, errors.New("no row returned"))
	}

	for _, v := range recs[0] {
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	}

	return 0, s.fail("count", stmt, errors.New("unreadable count"))
}

func (s session) Exists(ctx context.Context, table string, filter any) (bool, error) {
	recs, err := s.FindMany(ctx, table, filter, &polystore.FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}

	return len(recs) > 0, nil
}

// Aggregate accepts raw SQL pipelines only: the relational backends have
// no structural pipeline language.
func (s session) Aggregate(ctx context.Context, table string, pipeline any) ([]polystore.Record, error) {
	stmt, ok := pipeline.(string)
	if !ok {
		return nil, fmt.Errorf("%s: aggregate on %s: pipeline must be a SQL string, got %T",
			s.d.name, table, pipeline)
	}

	return s.queryRecords(ctx, "aggregate", stmt)
}

func (s session) Query(ctx context.Context, raw string, args ...any) ([]polystore.Record, error) {
	return s.queryRecords(ctx, "query", raw, args...)
}

func scanRows(rows *sql.Rows) ([]polystore.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []polystore.Record

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(polystore.Record, len(cols))

		for i, col := range cols {
			if raw, ok := values[i].([]byte); ok {
				rec[col] = string(raw)

				continue
			}

			rec[col] = values[i]
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

func writeResult(rec polystore.Record, pk string, opts *polystore.WriteOptions) polystore.Record {
	if opts != nil && opts.ReturnFull {
		return rec
	}

	return polystore.Record{pk: rec[pk]}
}

func copyWithout(rec polystore.Record, skip string) polystore.Record {
	out := make(polystore.Record, len(rec))

	for k, v := range rec {
		if k == skip {
			continue
		}

		out[k] = v
	}

	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
