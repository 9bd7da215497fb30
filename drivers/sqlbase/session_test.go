package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketerry-org/polystore"
)

// noReturnDialect quotes like testDialect but cannot RETURNING.
type noReturnDialect struct{ testDialect }

func (noReturnDialect) SupportsReturning() bool { return false }

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, errors.New("not supported") }

func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

// execRecorder satisfies querier and records ExecContext calls.
type execRecorder struct {
	stmt  string
	args  []any
	execs int
}

func (r *execRecorder) ExecContext(_ context.Context, stmt string, args ...any) (sql.Result, error) {
	r.execs++
	r.stmt = stmt
	r.args = args

	return fakeResult{}, nil
}

func (r *execRecorder) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("unexpected query")
}

func TestInsertOneWithoutReturning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := New("lite", "fake", "dsn", noReturnDialect{}, nil)
	rec := &execRecorder{}
	s := session{d: d, q: rec}

	// Without RETURNING the backend cannot report a minted key, so a
	// keyless insert fails before any statement runs.
	_, err := s.InsertOne(ctx, "users", polystore.Record{"name": "Ada"}, nil)
	require.ErrorIs(t, err, ErrNoInsertID)
	assert.Zero(t, rec.execs)

	saved, err := s.InsertOne(ctx, "users", polystore.Record{"id": "u1", "name": "Ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, polystore.Record{"id": "u1"}, saved)
	assert.Equal(t, 1, rec.execs)
	assert.Contains(t, rec.stmt, `INSERT INTO "users"`)
	assert.Len(t, rec.args, 2)
}
