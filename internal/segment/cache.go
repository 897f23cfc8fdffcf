package segment

import lru "github.com/hashicorp/golang-lru/v2"

// DefaultCacheCapacity is the "small fixed number" of decoded compressed
// blocks spec's Data Model names as the default cache size.
const DefaultCacheCapacity = 4

// Cache holds decoded segment bytes, keyed by segment index, with
// least-recently-used eviction. It replaces the teacher's hand-rolled
// linear "lowest AccessMark" scan (internal/handlers/dmg/streams.go,
// InStream.loadBlock) with github.com/hashicorp/golang-lru/v2, already
// present in the retrieval pack's dependency closure.
type Cache struct {
	lru *lru.Cache[int, []byte]
}

// NewCache creates a Cache with the given capacity; capacity <= 0 uses
// DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := lru.New[int, []byte](capacity)
	if err != nil {
		// Only returned by golang-lru when capacity <= 0, which the
		// guard above already excludes.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the decoded bytes for segment index i, marking the entry
// most-recently-used.
func (c *Cache) Get(i int) ([]byte, bool) {
	return c.lru.Get(i)
}

// Put inserts or replaces the decoded bytes for segment index i.
func (c *Cache) Put(i int, decoded []byte) {
	c.lru.Add(i, decoded)
}

// Len reports how many entries the cache currently holds.
func (c *Cache) Len() int { return c.lru.Len() }
