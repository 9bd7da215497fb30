package where_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miketerry-org/polystore/where"
)

func TestToFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bson.M
	}{
		{
			name:  "equality",
			input: "status = 'active'",
			want:  bson.M{"status": "active"},
		},
		{
			name:  "inequality",
			input: "status != 'active'",
			want:  bson.M{"status": bson.M{"$ne": "active"}},
		},
		{
			name:  "angle inequality",
			input: "status <> 'active'",
			want:  bson.M{"status": bson.M{"$ne": "active"}},
		},
		{
			name:  "range operators",
			input: "age >= 18 AND age < 65",
			want: bson.M{"$and": bson.A{
				bson.M{"age": bson.M{"$gte": int64(18)}},
				bson.M{"age": bson.M{"$lt": int64(65)}},
			}},
		},
		{
			name:  "or",
			input: "role = 'admin' OR role = 'editor'",
			want: bson.M{"$or": bson.A{
				bson.M{"role": "admin"},
				bson.M{"role": "editor"},
			}},
		},
		{
			name:  "not",
			input: "NOT status = 'active'",
			want:  bson.M{"$nor": bson.A{bson.M{"status": "active"}}},
		},
		{
			name:  "between",
			input: "age BETWEEN 18 AND 30",
			want:  bson.M{"age": bson.M{"$gte": int64(18), "$lte": int64(30)}},
		},
		{
			name:  "not between",
			input: "age NOT BETWEEN 18 AND 30",
			want: bson.M{"$or": bson.A{
				bson.M{"age": bson.M{"$lt": int64(18)}},
				bson.M{"age": bson.M{"$gt": int64(30)}},
			}},
		},
		{
			name:  "in",
			input: "role IN ('admin', 'editor')",
			want:  bson.M{"role": bson.M{"$in": bson.A{"admin", "editor"}}},
		},
		{
			name:  "not in",
			input: "role NOT IN ('guest')",
			want:  bson.M{"role": bson.M{"$nin": bson.A{"guest"}}},
		},
		{
			name:  "like",
			input: "name LIKE 'A%'",
			want:  bson.M{"name": primitive.Regex{Pattern: "^A.*$", Options: "i"}},
		},
		{
			name:  "like single char and literal dot",
			input: "file LIKE 'doc_.pdf'",
			want:  bson.M{"file": primitive.Regex{Pattern: `^doc.\.pdf$`, Options: "i"}},
		},
		{
			name:  "is null",
			input: "deleted_at IS NULL",
			want:  bson.M{"deleted_at": nil},
		},
		{
			name:  "is not null",
			input: "deleted_at IS NOT NULL",
			want:  bson.M{"deleted_at": bson.M{"$ne": nil}},
		},
		{
			name:  "grouping",
			input: "(role = 'admin' OR role = 'editor') AND active = TRUE",
			want: bson.M{"$and": bson.A{
				bson.M{"$or": bson.A{
					bson.M{"role": "admin"},
					bson.M{"role": "editor"},
				}},
				bson.M{"active": true},
			}},
		},
		{
			name:  "not over group",
			input: "NOT (a = 1 AND b = 2)",
			want: bson.M{"$nor": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"a": int64(1)},
					bson.M{"b": int64(2)},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := where.ToFilter(tt.input)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToFilterDeterministic(t *testing.T) {
	t.Parallel()

	const input = "(a = 1 OR b = 2) AND c NOT IN (3, 4) AND d LIKE 'x%'"

	first, err := where.ToFilter(input)
	require.NoError(t, err)

	for range 10 {
		again, err := where.ToFilter(input)
		require.NoError(t, err)

		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("translation is not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestTranslateIsPure(t *testing.T) {
	t.Parallel()

	expr, err := where.Parse("a = 1 AND b = 2")
	require.NoError(t, err)

	first, err := where.Translate(expr)
	require.NoError(t, err)

	second, err := where.Translate(expr)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same AST produced different filters (-first +second):\n%s", diff)
	}
}

func TestToFilterErrors(t *testing.T) {
	t.Parallel()

	_, err := where.ToFilter("role IN ()")
	assert.Error(t, err, "empty IN list must be rejected")

	_, err = where.Translate(nil)
	assert.Error(t, err)
}
