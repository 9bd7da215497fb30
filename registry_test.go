package polystore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/drivers/memory"
)

func memoryFactory(_ *polystore.Config) (polystore.Driver, error) {
	return memory.New(nil), nil
}

func TestRegistryAddGetOpen(t *testing.T) {
	t.Parallel()

	r := polystore.NewRegistry()
	r.Add("memory", memoryFactory)

	factory, err := r.Get("memory")
	require.NoError(t, err)
	require.NotNil(t, factory)

	driver, err := r.Open("memory", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", driver.Name())
}

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()

	r := polystore.NewRegistry()

	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, polystore.ErrDriverNotRegistered)

	_, err = r.Open("ghost", nil)
	assert.ErrorIs(t, err, polystore.ErrDriverNotRegistered)
}

func TestRegistryLastWriteWins(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("override")

	r := polystore.NewRegistry()
	r.Add("memory", memoryFactory)
	r.Add("memory", func(_ *polystore.Config) (polystore.Driver, error) {
		return nil, sentinel
	})

	_, err := r.Open("memory", nil)
	assert.ErrorIs(t, err, sentinel)
}

func TestRegistryListSorted(t *testing.T) {
	t.Parallel()

	r := polystore.NewRegistry()
	r.Add("postgres", memoryFactory)
	r.Add("memory", memoryFactory)
	r.Add("mongo", memoryFactory)

	assert.Equal(t, []string{"memory", "mongo", "postgres"}, r.List())
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()

	r := polystore.NewRegistry()
	r.Add("memory", memoryFactory)
	r.Remove("memory")
	r.Remove("memory")

	_, err := r.Get("memory")
	assert.ErrorIs(t, err, polystore.ErrDriverNotRegistered)
	assert.Empty(t, r.List())
}
