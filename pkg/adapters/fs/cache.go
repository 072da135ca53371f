package fs

import (
	"sync"
	"time"

	"github.com/aretw0/trail/pkg/prov"
)

// cacheEntry is a parsed document and the modification time it was parsed at.
type cacheEntry struct {
	Doc          *prov.Document
	LastModified time.Time
	Size         int64
}

// cache keeps parsed documents so that reloading an unchanged file is free.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // Key is the cleaned path
}

func newCache() *cache {
	return &cache{entries: make(map[string]*cacheEntry)}
}

// Get retrieves an entry if it exists and is fresh.
func (c *cache) Get(path string, mtime time.Time, size int64) (*prov.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if !entry.LastModified.Equal(mtime) || entry.Size != size {
		return nil, false
	}
	return entry.Doc, true
}

// Set updates an entry in the cache.
func (c *cache) Set(path string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = entry
}

// Delete removes a single entry from the cache.
func (c *cache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Len returns the number of entries in the cache.
func (c *cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
