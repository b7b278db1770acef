// Package cache holds recently resolved node metadata keyed by clean
// absolute path. The cache is never a source of truth: every mutating
// engine operation invalidates the affected subtree before reporting
// success, so a stale entry can never route a resolution through a deleted
// or replaced node.
package cache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/keyfs/keyfs/internal/models"
)

type Metadata struct {
	entries *lru.Cache[string, models.NodeMeta]
}

// New creates a metadata cache bounded to maxEntries. A non-positive bound
// disables caching entirely; every lookup then misses, which is the right
// configuration for stores with external mutators.
func New(maxEntries int) *Metadata {
	if maxEntries <= 0 {
		return &Metadata{}
	}

	entries, err := lru.New[string, models.NodeMeta](maxEntries)
	if err != nil {
		// lru.New only fails for non-positive sizes, excluded above.
		panic("cache: " + err.Error())
	}
	return &Metadata{entries: entries}
}

func (c *Metadata) Enabled() bool {
	return c.entries != nil
}

func (c *Metadata) Get(path string) (models.NodeMeta, bool) {
	if c.entries == nil {
		return models.NodeMeta{}, false
	}
	return c.entries.Get(path)
}

func (c *Metadata) Put(path string, meta models.NodeMeta) {
	if c.entries == nil {
		return
	}
	c.entries.Add(path, meta)
}

// Invalidate removes the entry for exactly one path.
func (c *Metadata) Invalidate(path string) {
	if c.entries == nil {
		return
	}
	c.entries.Remove(path)
}

// InvalidateSubtree removes the entry for path and every entry below it.
func (c *Metadata) InvalidateSubtree(path string) {
	if c.entries == nil {
		return
	}
	if path == "/" {
		c.entries.Purge()
		return
	}

	prefix := path + "/"
	for _, key := range c.entries.Keys() {
		if key == path || strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
}

func (c *Metadata) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}
