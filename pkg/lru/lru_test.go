package lru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New[string, int](10, nil)

	c.Set("a", 1)
	c.Set("b", 2)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](2, func(key string, _ int) {
		evicted = append(evicted, key)
	})

	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_SetExistingUpdatesWithoutEviction(t *testing.T) {
	var evictions int
	c := New[string, int](2, func(string, int) { evictions++ })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.Zero(t, evictions)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, got)
}

func TestCache_DeleteSkipsCallback(t *testing.T) {
	var evictions int
	c := New[string, int](2, func(string, int) { evictions++ })

	c.Set("a", 1)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Zero(t, evictions)
	assert.Zero(t, c.Len())
}

func TestCache_KeysOrderedByRecency(t *testing.T) {
	c := New[string, int](0, nil)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}
