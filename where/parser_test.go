package where_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketerry-org/polystore/where"
)

func TestParseComparison(t *testing.T) {
	t.Parallel()

	expr, err := where.Parse("status = 'active'")
	require.NoError(t, err)

	cmp := expr.Left.Left.Primary.Cmp
	require.NotNil(t, cmp)
	assert.Equal(t, "status", cmp.Field)
	require.NotNil(t, cmp.Rhs.Bin)
	assert.Equal(t, "=", cmp.Rhs.Bin.Op)
	assert.Equal(t, "active", cmp.Rhs.Bin.Value.Interface())
}

func TestParseValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"single quoted string", "a = 'hello'", "hello"},
		{"double quoted string", `a = "hello"`, "hello"},
		{"escaped quote", `a = 'it\'s'`, "it's"},
		{"integer", "a = 42", int64(42)},
		{"negative integer", "a = -7", int64(-7)},
		{"float", "a = 3.14", 3.14},
		{"exponent", "a = 1e3", float64(1000)},
		{"true", "a = TRUE", true},
		{"false", "a = false", false},
		{"null", "a = NULL", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			expr, err := where.Parse(tt.input)
			require.NoError(t, err)

			bin := expr.Left.Left.Primary.Cmp.Rhs.Bin
			require.NotNil(t, bin)
			assert.Equal(t, tt.want, bin.Value.Interface())
		})
	}
}

func TestParseKeywordsCaseInsensitive(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"a = 1 AND b = 2 OR NOT c = 3",
		"a = 1 and b = 2 or not c = 3",
		"a = 1 And b = 2 Or Not c = 3",
	}

	for _, input := range inputs {
		_, err := where.Parse(input)
		assert.NoError(t, err, input)
	}
}

func TestParsePrecedence(t *testing.T) {
	t.Parallel()

	// AND binds tighter than OR.
	expr, err := where.Parse("a = 1 OR b = 2 AND c = 3")
	require.NoError(t, err)

	require.Len(t, expr.Rest, 1)
	assert.Len(t, expr.Rest[0].Rest, 1, "AND should group b and c under one OR branch")
}

func TestParseGrouping(t *testing.T) {
	t.Parallel()

	expr, err := where.Parse("(a = 1 OR b = 2) AND c = 3")
	require.NoError(t, err)

	assert.Empty(t, expr.Rest, "top level should be a single AND chain")
	require.Len(t, expr.Left.Rest, 1)
	assert.NotNil(t, expr.Left.Left.Primary.Group)
}

func TestParseOperators(t *testing.T) {
	t.Parallel()

	ops := []string{"=", "!=", "<>", "<", "<=", ">", ">="}

	for _, op := range ops {
		expr, err := where.Parse("age " + op + " 21")
		require.NoError(t, err, op)
		assert.Equal(t, op, expr.Left.Left.Primary.Cmp.Rhs.Bin.Op)
	}
}

func TestParseClauses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"between", "age BETWEEN 18 AND 30"},
		{"not between", "age NOT BETWEEN 18 AND 30"},
		{"in", "role IN ('admin', 'editor')"},
		{"not in", "role NOT IN ('guest')"},
		{"like", "name LIKE 'A%'"},
		{"is null", "deleted_at IS NULL"},
		{"is not null", "deleted_at IS NOT NULL"},
		{"dotted field", "profile.age > 10"},
		{"double negation", "NOT NOT a = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := where.Parse(tt.input)
			assert.NoError(t, err)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"dangling operator", "a ="},
		{"missing rhs keyword", "a BETWEEN"},
		{"unterminated string", "a = 'oops"},
		{"unbalanced paren", "(a = 1"},
		{"value only", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := where.Parse(tt.input)
			assert.Error(t, err)
		})
	}
}
