package where_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketerry-org/polystore/where"
)

func dollarPlaceholders(i int) string { return fmt.Sprintf("$%d", i) }

func questionPlaceholders(int) string { return "?" }

func TestToSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "equality",
			input:    "status = 'active'",
			wantSQL:  "status = $1",
			wantArgs: []any{"active"},
		},
		{
			name:     "and chain",
			input:    "status = 'active' AND age >= 18",
			wantSQL:  "(status = $1) AND (age >= $2)",
			wantArgs: []any{"active", int64(18)},
		},
		{
			name:     "or with precedence",
			input:    "a = 1 OR b = 2 AND c = 3",
			wantSQL:  "(a = $1) OR ((b = $2) AND (c = $3))",
			wantArgs: []any{int64(1), int64(2), int64(3)},
		},
		{
			name:     "grouping",
			input:    "(a = 1 OR b = 2) AND c = 3",
			wantSQL:  "(((a = $1) OR (b = $2))) AND (c = $3)",
			wantArgs: []any{int64(1), int64(2), int64(3)},
		},
		{
			name:     "not",
			input:    "NOT a = 1",
			wantSQL:  "NOT (a = $1)",
			wantArgs: []any{int64(1)},
		},
		{
			name:     "between",
			input:    "age BETWEEN 18 AND 30",
			wantSQL:  "age BETWEEN $1 AND $2",
			wantArgs: []any{int64(18), int64(30)},
		},
		{
			name:     "not between",
			input:    "age NOT BETWEEN 18 AND 30",
			wantSQL:  "age NOT BETWEEN $1 AND $2",
			wantArgs: []any{int64(18), int64(30)},
		},
		{
			name:     "in",
			input:    "role IN ('admin', 'editor')",
			wantSQL:  "role IN ($1, $2)",
			wantArgs: []any{"admin", "editor"},
		},
		{
			name:     "not in",
			input:    "role NOT IN ('guest')",
			wantSQL:  "role NOT IN ($1)",
			wantArgs: []any{"guest"},
		},
		{
			name:     "like keeps raw pattern",
			input:    "name LIKE 'A%'",
			wantSQL:  "name LIKE $1",
			wantArgs: []any{"A%"},
		},
		{
			name:    "is null",
			input:   "deleted_at IS NULL",
			wantSQL: "deleted_at IS NULL",
		},
		{
			name:    "is not null",
			input:   "deleted_at IS NOT NULL",
			wantSQL: "deleted_at IS NOT NULL",
		},
		{
			name:    "equals null normalizes",
			input:   "deleted_at = NULL",
			wantSQL: "deleted_at IS NULL",
		},
		{
			name:    "not equals null normalizes",
			input:   "deleted_at != NULL",
			wantSQL: "deleted_at IS NOT NULL",
		},
		{
			name:     "angle inequality normalizes",
			input:    "a <> 1",
			wantSQL:  "a != $1",
			wantArgs: []any{int64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			expr, err := where.Parse(tt.input)
			require.NoError(t, err)

			sql, args, err := where.ToSQL(expr, dollarPlaceholders)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestToSQLQuestionPlaceholders(t *testing.T) {
	t.Parallel()

	expr, err := where.Parse("a = 1 AND b = 2")
	require.NoError(t, err)

	sql, args, err := where.ToSQL(expr, questionPlaceholders)
	require.NoError(t, err)

	assert.Equal(t, "(a = ?) AND (b = ?)", sql)
	assert.Len(t, args, 2)
}
