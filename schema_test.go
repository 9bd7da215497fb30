package polystore_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketerry-org/polystore"
)

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func userSchema() *polystore.Schema {
	return polystore.NewSchema().
		String("name", polystore.FieldOptions{Required: true, MinLength: intPtr(2)}).
		Email("email", polystore.FieldOptions{Required: true}).
		Integer("age", polystore.FieldOptions{Min: floatPtr(0), Max: floatPtr(150)}).
		Enum("role", []any{"admin", "editor", "viewer"}, polystore.FieldOptions{Default: "viewer"}).
		Boolean("active", polystore.FieldOptions{Default: true})
}

func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	schema := userSchema()
	require.NoError(t, schema.Check())

	res := schema.Validate(polystore.Record{
		"name":  "Ada",
		"email": "ada@example.com",
		"age":   36,
	})

	require.True(t, res.Valid, "errors: %v", res.Errors)

	want := polystore.Record{
		"name":   "Ada",
		"email":  "ada@example.com",
		"age":    int64(36),
		"role":   "viewer",
		"active": true,
	}

	if diff := cmp.Diff(want, res.Value); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaValidateDropsUndeclaredKeys(t *testing.T) {
	t.Parallel()

	schema := userSchema()

	res := schema.Validate(polystore.Record{
		"name":    "Ada",
		"email":   "ada@example.com",
		"unknown": "dropped",
		"extra":   42,
	})

	require.True(t, res.Valid)
	assert.NotContains(t, res.Value, "unknown")
	assert.NotContains(t, res.Value, "extra")
}

func TestSchemaValidatePrimaryKeyPassthrough(t *testing.T) {
	t.Parallel()

	// The primary key is not declared as a field but must survive
	// validation so the backend can address the record.
	schema := userSchema()

	res := schema.Validate(polystore.Record{
		"id":    "abc123",
		"name":  "Ada",
		"email": "ada@example.com",
	})

	require.True(t, res.Valid)
	assert.Equal(t, "abc123", res.Value["id"])
}

func TestSchemaValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      polystore.Record
		wantField string
	}{
		{"missing required", polystore.Record{"email": "a@b.co"}, "name"},
		{"wrong type", polystore.Record{"name": 42, "email": "a@b.co"}, "name"},
		{"too short", polystore.Record{"name": "A", "email": "a@b.co"}, "name"},
		{"bad email", polystore.Record{"name": "Ada", "email": "nope"}, "email"},
		{"below min", polystore.Record{"name": "Ada", "email": "a@b.co", "age": -1}, "age"},
		{"above max", polystore.Record{"name": "Ada", "email": "a@b.co", "age": 200}, "age"},
		{"not in enum", polystore.Record{"name": "Ada", "email": "a@b.co", "role": "root"}, "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := userSchema().Validate(tt.data)
			require.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Equal(t, tt.wantField, res.Errors[0].Field)
		})
	}
}

func TestSchemaValidateCollectsAllFieldErrors(t *testing.T) {
	t.Parallel()

	res := userSchema().Validate(polystore.Record{
		"email": "nope",
		"age":   "not a number",
	})

	require.False(t, res.Valid)
	assert.Len(t, res.Errors, 3, "name missing, email invalid, age invalid")
}

func TestSchemaValidatePartial(t *testing.T) {
	t.Parallel()

	schema := userSchema()

	// Absent required fields are fine, defaults are not applied.
	res := schema.ValidatePartial(polystore.Record{"age": 40})
	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, int64(40), res.Value["age"])
	assert.NotContains(t, res.Value, "role")
	assert.NotContains(t, res.Value, "active")

	// Present fields are still checked.
	res = schema.ValidatePartial(polystore.Record{"email": "nope"})
	require.False(t, res.Valid)
	assert.Equal(t, "email", res.Errors[0].Field)
}

func TestSchemaNormalization(t *testing.T) {
	t.Parallel()

	schema := polystore.NewSchema().
		String("name", polystore.FieldOptions{}).
		Integer("count", polystore.FieldOptions{}).
		Number("score", polystore.FieldOptions{}).
		Boolean("flag", polystore.FieldOptions{}).
		Date("when", polystore.FieldOptions{})

	res := schema.Validate(polystore.Record{
		"name":  "  padded  ",
		"count": "17",
		"score": "2.5",
		"flag":  "true",
		"when":  "2024-06-01",
	})

	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, "padded", res.Value["name"])
	assert.Equal(t, int64(17), res.Value["count"])
	assert.Equal(t, 2.5, res.Value["score"])
	assert.Equal(t, true, res.Value["flag"])
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), res.Value["when"])
}

func TestSchemaIntegerRejectsFraction(t *testing.T) {
	t.Parallel()

	schema := polystore.NewSchema().Integer("n", polystore.FieldOptions{})

	res := schema.Validate(polystore.Record{"n": 2.5})
	assert.False(t, res.Valid)

	res = schema.Validate(polystore.Record{"n": 2.0})
	assert.True(t, res.Valid)
	assert.Equal(t, int64(2), res.Value["n"])
}

func TestSchemaPasswordDefaultMinLength(t *testing.T) {
	t.Parallel()

	schema := polystore.NewSchema().Password("secret", polystore.FieldOptions{})

	res := schema.Validate(polystore.Record{"secret": "short"})
	require.False(t, res.Valid)

	res = schema.Validate(polystore.Record{"secret": "long enough"})
	assert.True(t, res.Valid)
}

func TestSchemaCustomCheck(t *testing.T) {
	t.Parallel()

	schema := polystore.NewSchema().String("code", polystore.FieldOptions{
		Check: func(v any) error {
			if v == "forbidden" {
				return errors.New("code is reserved")
			}

			return nil
		},
	})

	res := schema.Validate(polystore.Record{"code": "forbidden"})
	require.False(t, res.Valid)
	assert.Equal(t, "code is reserved", res.Errors[0].Message)

	res = schema.Validate(polystore.Record{"code": "ok"})
	assert.True(t, res.Valid)
}

func TestSchemaRule(t *testing.T) {
	t.Parallel()

	schema := polystore.NewSchema().Integer("n", polystore.FieldOptions{
		Rule: "value >= 0 && value % 2 == 0",
	})
	require.NoError(t, schema.Check())

	res := schema.Validate(polystore.Record{"n": 4})
	assert.True(t, res.Valid, "errors: %v", res.Errors)

	res = schema.Validate(polystore.Record{"n": 3})
	assert.False(t, res.Valid)
}

func TestSchemaBuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema *polystore.Schema
	}{
		{
			name: "duplicate field",
			schema: polystore.NewSchema().
				String("a", polystore.FieldOptions{}).
				String("a", polystore.FieldOptions{}),
		},
		{
			name:   "enum without values",
			schema: polystore.NewSchema().Enum("e", nil, polystore.FieldOptions{}),
		},
		{
			name: "invalid rule",
			schema: polystore.NewSchema().
				String("a", polystore.FieldOptions{Rule: "value >="}),
		},
		{
			name: "index on undeclared field",
			schema: polystore.NewSchema().
				String("a", polystore.FieldOptions{}).
				AddIndex([]polystore.IndexField{{Name: "ghost"}}, polystore.IndexOptions{}),
		},
		{
			name: "two primaries",
			schema: polystore.NewSchema().
				String("a", polystore.FieldOptions{}).
				AddPrimary("a").
				AddPrimary("a"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.schema.Check()
			require.Error(t, err)

			var schemaErr *polystore.SchemaError
			assert.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestSchemaIndexes(t *testing.T) {
	t.Parallel()

	schema := polystore.NewSchema().
		String("email", polystore.FieldOptions{}).
		String("team", polystore.FieldOptions{}).
		AddPrimary("user_id").
		AddIndex([]polystore.IndexField{{Name: "email"}}, polystore.IndexOptions{Unique: true}).
		AddIndex([]polystore.IndexField{{Name: "team"}, {Name: "email", Desc: true}}, polystore.IndexOptions{})

	require.NoError(t, schema.Check())
	assert.Equal(t, "user_id", schema.PrimaryKey())

	idx := schema.Indexes()
	require.Len(t, idx, 3)
	assert.True(t, idx[0].Primary)
	assert.True(t, idx[0].Unique)
	assert.True(t, idx[1].Unique)
	assert.False(t, idx[2].Unique)
	assert.Equal(t, "email", idx[2].Fields[1].Name)
	assert.True(t, idx[2].Fields[1].Desc)
}

func TestSchemaProject(t *testing.T) {
	t.Parallel()

	schema := userSchema()

	got := schema.Project(polystore.Record{
		"id":      "k1",
		"name":    "Ada",
		"unknown": true,
	})

	want := polystore.Record{"id": "k1", "name": "Ada"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("projection mismatch (-want +got):\n%s", diff)
	}
}
