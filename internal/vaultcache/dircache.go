package vaultcache

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DirEntry is one ordered entry in a cached directory listing.
type DirEntry struct {
	Inode uint64
	Kind  int
	Name  string
}

// DirListingCache holds parent_inode -> ordered list of DirEntry, on its
// own TTL, invalidated wholesale on any mutation of that parent.
type DirListingCache struct {
	cache *gocache.Cache
}

// NewDirListingCache builds a DirListingCache whose entries expire after
// ttl.
func NewDirListingCache(ttl time.Duration) *DirListingCache {
	return &DirListingCache{cache: gocache.New(ttl, 2*ttl)}
}

func dirKey(inode uint64) string {
	return strconv.FormatUint(inode, 10)
}

// Get returns the cached listing for parent, if present and unexpired.
func (c *DirListingCache) Get(parent uint64) ([]DirEntry, bool) {
	v, ok := c.cache.Get(dirKey(parent))
	if !ok {
		return nil, false
	}
	return v.([]DirEntry), true
}

// Put caches entries as the listing of parent.
func (c *DirListingCache) Put(parent uint64, entries []DirEntry) {
	c.cache.SetDefault(dirKey(parent), entries)
}

// Invalidate evicts parent's cached listing, e.g. after a create, remove,
// or rename affecting one of its children.
func (c *DirListingCache) Invalidate(parent uint64) {
	c.cache.Delete(dirKey(parent))
}
