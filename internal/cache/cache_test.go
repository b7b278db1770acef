package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfs/keyfs/internal/models"
)

func meta(id string) models.NodeMeta {
	return models.NodeMeta{ID: id, Kind: models.NodeKindFile}
}

func TestPutGet(t *testing.T) {
	c := New(8)

	c.Put("/a", meta("1"))

	got, ok := c.Get("/a")
	require.True(t, ok)
	assert.Equal(t, "1", got.ID)

	_, ok = c.Get("/b")
	assert.False(t, ok)
}

func TestDisabled(t *testing.T) {
	for _, size := range []int{0, -1} {
		c := New(size)
		assert.False(t, c.Enabled())

		c.Put("/a", meta("1"))
		_, ok := c.Get("/a")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())

		// Invalidation on a disabled cache is a no-op, not a panic.
		c.Invalidate("/a")
		c.InvalidateSubtree("/")
	}
}

func TestBoundedEviction(t *testing.T) {
	c := New(4)

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("/p%d", i), meta(fmt.Sprint(i)))
	}

	assert.Equal(t, 4, c.Len())

	// The most recent entries survive.
	_, ok := c.Get("/p9")
	assert.True(t, ok)
	_, ok = c.Get("/p0")
	assert.False(t, ok)
}

func TestInvalidateSubtree(t *testing.T) {
	c := New(16)

	c.Put("/a", meta("1"))
	c.Put("/a/b", meta("2"))
	c.Put("/a/b/c", meta("3"))
	c.Put("/ab", meta("4")) // sibling with a shared name prefix, must survive
	c.Put("/z", meta("5"))

	c.InvalidateSubtree("/a")

	for _, gone := range []string{"/a", "/a/b", "/a/b/c"} {
		_, ok := c.Get(gone)
		assert.False(t, ok, "expected %s to be invalidated", gone)
	}
	for _, kept := range []string{"/ab", "/z"} {
		_, ok := c.Get(kept)
		assert.True(t, ok, "expected %s to survive", kept)
	}
}

func TestInvalidateRootPurgesAll(t *testing.T) {
	c := New(16)

	c.Put("/a", meta("1"))
	c.Put("/b", meta("2"))

	c.InvalidateSubtree("/")
	assert.Equal(t, 0, c.Len())
}
