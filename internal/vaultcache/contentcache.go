package vaultcache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Fingerprint is the cache/dedup key for a read: (inode, offset, length),
// with the offset exactly as the read requested it; it is not aligned to a
// chunk boundary, so reads at different offsets within one chunk do not
// share an entry.
type Fingerprint struct {
	Inode  uint64
	Offset int64
	Length int
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%d:%d:%d", f.Inode, f.Offset, f.Length)
}

// ContentCache is a byte-capacity bounded, LRU-evicted cache of plaintext
// read results. golang-lru evicts by entry count, not bytes, so this
// wraps it with its own byte accountant: an eviction callback decrements
// the running total, and Put proactively calls RemoveOldest until the new
// entry fits under budget.
type ContentCache struct {
	mu          sync.Mutex
	lru         *lru.Cache
	budgetBytes int64
	usedBytes   int64
	hits        int64
	misses      int64
}

// NewContentCache builds a ContentCache with the given byte budget. The
// backing LRU is sized generously (one entry per possible 32 KiB chunk
// within the budget, at minimum 64 entries) since eviction is actually
// driven by the byte accountant, not the entry-count limit.
func NewContentCache(budgetBytes int64) *ContentCache {
	entryLimit := int(budgetBytes/(32*1024)) + 1
	if entryLimit < 64 {
		entryLimit = 64
	}
	c := &ContentCache{budgetBytes: budgetBytes}
	l, _ := lru.NewWithEvict(entryLimit, c.onEvicted)
	c.lru = l
	return c
}

func (c *ContentCache) onEvicted(key, value interface{}) {
	c.usedBytes -= int64(len(value.([]byte)))
}

// Get returns the cached bytes for fp, if present.
func (c *ContentCache) Get(fp Fingerprint) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(fp.String())
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.([]byte), true
}

// Put caches data under fp, evicting the oldest entries until the result
// fits within the byte budget.
func (c *ContentCache) Put(fp Fingerprint, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := int64(len(data))
	if size > c.budgetBytes {
		return
	}
	for c.usedBytes+size > c.budgetBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	c.lru.Add(fp.String(), data)
	c.usedBytes += size
}

// InvalidateInode evicts every cached entry belonging to inode, called on
// write or truncate of that inode. golang-lru has no prefix-scan, so this
// walks the current key set once.
func (c *ContentCache) InvalidateInode(inode uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := fmt.Sprintf("%d:", inode)
	for _, k := range c.lru.Keys() {
		ks := k.(string)
		if len(ks) >= len(prefix) && ks[:len(prefix)] == prefix {
			c.lru.Remove(k)
		}
	}
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Bytes   int64
}

// Snapshot returns the cache's current hit/miss/occupancy counters.
func (c *ContentCache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: c.lru.Len(), Bytes: c.usedBytes}
}
