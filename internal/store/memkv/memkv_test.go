package memkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/internal/store/memkv"
)

func TestStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, store.Set(ctx, "a", payload{Name: "x", Count: 3}))

	var got payload
	require.NoError(t, store.Get(ctx, "a", &got))
	assert.Equal(t, payload{Name: "x", Count: 3}, got)
}

func TestStore_GetMissingKey(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	var dest string
	err := store.Get(ctx, "missing", &dest)
	require.Error(t, err)
	assert.True(t, kv.IsNotFound(err))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	require.NoError(t, store.Set(ctx, "a", 1))
	require.NoError(t, store.Delete(ctx, "a"))

	ok, err := store.Has(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete(ctx, "a"))
}

func TestStore_ListKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	require.NoError(t, store.Set(ctx, "tree:v1:a", 1))
	require.NoError(t, store.Set(ctx, "tree:v1:b", 2))
	require.NoError(t, store.Set(ctx, "drafts:v1:a", 3))

	keys, err := store.ListKeys(ctx, "tree:v1:")
	require.NoError(t, err)
	assert.Equal(t, []string{"tree:v1:a", "tree:v1:b"}, keys)
}
