package polystore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/drivers/memory"
)

func newTestModel(t *testing.T, cfg polystore.ModelConfig) *polystore.Model {
	t.Helper()

	driver := memory.New(nil)
	require.NoError(t, driver.Connect(context.Background()))

	model, err := polystore.NewModel(driver, "users", userSchema(), cfg)
	require.NoError(t, err)
	require.NoError(t, model.EnsureIndexes(context.Background()))

	return model
}

func TestNewModelFailsFast(t *testing.T) {
	t.Parallel()

	driver := memory.New(nil)
	schema := userSchema()

	_, err := polystore.NewModel(nil, "users", schema, polystore.ModelConfig{})
	assert.ErrorIs(t, err, polystore.ErrMissingDriver)

	_, err = polystore.NewModel(driver, "", schema, polystore.ModelConfig{})
	assert.ErrorIs(t, err, polystore.ErrMissingTable)

	_, err = polystore.NewModel(driver, "users", nil, polystore.ModelConfig{})
	assert.ErrorIs(t, err, polystore.ErrMissingSchema)

	broken := polystore.NewSchema().
		String("a", polystore.FieldOptions{}).
		String("a", polystore.FieldOptions{})

	_, err = polystore.NewModel(driver, "users", broken, polystore.ModelConfig{})
	require.Error(t, err)

	var schemaErr *polystore.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestModelInsertAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	saved, err := model.Insert(ctx, polystore.Record{
		"name":  "Ada",
		"email": "ada@example.com",
		"age":   36,
	})
	require.NoError(t, err)

	id := saved["id"]
	require.NotNil(t, id, "backend should mint a primary key")

	got, err := model.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, "viewer", got["role"], "default applied before persisting")
}

func TestModelInsertInvalidSkipsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	_, err := model.Insert(ctx, polystore.Record{"email": "nope"})
	require.Error(t, err)

	var vErr *polystore.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "users", vErr.Model)
	assert.Equal(t, "insert", vErr.Method)

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing may reach the backend on validation failure")
}

func TestModelInsertManyIndexesErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	_, err := model.InsertMany(ctx, []polystore.Record{
		{"name": "Ada", "email": "ada@example.com"},
		{"name": "Bob", "email": "broken"},
	})
	require.Error(t, err)

	var vErr *polystore.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "[1].email", vErr.Errors[0].Field)

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "one bad record fails the whole batch up front")
}

func TestModelUpdatePartialValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{ReturnFull: true})

	saved, err := model.Insert(ctx, polystore.Record{
		"name":  "Ada",
		"email": "ada@example.com",
	})
	require.NoError(t, err)

	// A change set omitting required fields is valid for update.
	updated, err := model.Update(ctx, saved["id"], polystore.Record{"age": 37})
	require.NoError(t, err)
	assert.Equal(t, int64(37), updated["age"])
	assert.Equal(t, "Ada", updated["name"])

	// Present fields are still checked.
	_, err = model.Update(ctx, saved["id"], polystore.Record{"email": "broken"})
	var vErr *polystore.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestModelUpsertReturnedKeyAddresses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	// First upsert without a key inserts and mints one.
	saved, err := model.Upsert(ctx, polystore.Record{
		"name":  "Ada",
		"email": "ada@example.com",
	})
	require.NoError(t, err)

	id := saved["id"]
	require.NotNil(t, id)

	// Upserting again with the returned key updates in place.
	_, err = model.Upsert(ctx, polystore.Record{
		"id":    id,
		"name":  "Ada Lovelace",
		"email": "ada@example.com",
	})
	require.NoError(t, err)

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := model.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got["name"])
}

func TestModelFindManyWithClause(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	for _, rec := range []polystore.Record{
		{"name": "Ada", "email": "ada@example.com", "age": 36, "role": "admin"},
		{"name": "Bob", "email": "bob@example.com", "age": 20},
		{"name": "Cleo", "email": "cleo@example.com", "age": 64, "role": "editor"},
	} {
		_, err := model.Insert(ctx, rec)
		require.NoError(t, err)
	}

	recs, err := model.FindMany(ctx, "age > 30 AND role != 'admin'", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Cleo", recs[0]["name"])

	exists, err := model.Exists(ctx, "name LIKE 'b%'")
	require.NoError(t, err)
	assert.True(t, exists, "LIKE is case-insensitive")

	n, err := model.Count(ctx, "age BETWEEN 18 AND 40")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestModelTransactionRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	sentinel := errors.New("boom")

	err := model.Transaction(ctx, func(ctx context.Context, tm *polystore.Model) error {
		if _, err := tm.Insert(ctx, polystore.Record{
			"name":  "Ada",
			"email": "ada@example.com",
		}); err != nil {
			return err
		}

		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "failed transaction must leave no records behind")
}

func TestModelTransactionCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	err := model.Transaction(ctx, func(ctx context.Context, tm *polystore.Model) error {
		_, err := tm.Insert(ctx, polystore.Record{
			"name":  "Ada",
			"email": "ada@example.com",
		})

		return err
	})
	require.NoError(t, err)

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEntitySave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{ReturnFull: true})

	// No primary key: Save inserts and absorbs the minted key.
	e := model.New(polystore.Record{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, e.Save(ctx))
	require.NotNil(t, e.Get("id"))

	// With the key present: Save updates the same record.
	e.Set("name", "Ada Lovelace")
	require.NoError(t, e.Save(ctx))

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := model.FindByID(ctx, e.Get("id"))
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got["name"])
}

func TestEntityDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newTestModel(t, polystore.ModelConfig{})

	e := model.New(polystore.Record{"name": "Ada", "email": "ada@example.com"})
	require.ErrorIs(t, e.Delete(ctx), polystore.ErrNotFound)

	require.NoError(t, e.Save(ctx))
	require.NoError(t, e.Delete(ctx))

	n, err := model.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntityDataIsACopy(t *testing.T) {
	t.Parallel()

	model := newTestModel(t, polystore.ModelConfig{})

	e := model.New(polystore.Record{"name": "Ada"})
	data := e.Data()
	data["name"] = "mutated"

	assert.Equal(t, "Ada", e.Get("name"))
}
