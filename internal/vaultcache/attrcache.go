// Package vaultcache implements the four cooperating caches a vault handle
// keeps in front of its vault operations: an attribute cache with a
// negative-lookup sub-cache, a directory-listing cache, a byte-budgeted
// content read cache, and the inode/handle tables a filesystem-shaped API
// is built against.
package vaultcache

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Attr is the cached metadata for one inode. Kind and Size are the only
// fields a filesystem-shaped caller needs beyond name resolution.
type Attr struct {
	Size    int64
	Kind    int // mirrors pathmodel.ObjectKind without importing it here
	ModTime time.Time
}

// AttrCache holds inode -> Attr positive entries and a separate
// (parent_inode, child_name) -> absent negative sub-cache, each on its own
// TTL, matching the plex state cache's cache.New(ttl, cleanupInterval)
// shape.
type AttrCache struct {
	positive *gocache.Cache
	negative *gocache.Cache
}

// NewAttrCache builds an AttrCache whose positive entries expire after
// positiveTTL and whose negative entries expire after negativeTTL. Both
// caches purge expired entries at twice their TTL.
func NewAttrCache(positiveTTL, negativeTTL time.Duration) *AttrCache {
	return &AttrCache{
		positive: gocache.New(positiveTTL, 2*positiveTTL),
		negative: gocache.New(negativeTTL, 2*negativeTTL),
	}
}

func attrKey(inode uint64) string {
	return strconv.FormatUint(inode, 10)
}

func negKey(parent uint64, name string) string {
	return strconv.FormatUint(parent, 10) + "\x00" + name
}

// Get returns the cached attributes for inode, if present and unexpired.
func (c *AttrCache) Get(inode uint64) (Attr, bool) {
	v, ok := c.positive.Get(attrKey(inode))
	if !ok {
		return Attr{}, false
	}
	return v.(Attr), true
}

// Put caches attrs for inode under the cache's default positive TTL.
func (c *AttrCache) Put(inode uint64, attrs Attr) {
	c.positive.SetDefault(attrKey(inode), attrs)
}

// InvalidateInode evicts inode's positive attribute entry.
func (c *AttrCache) InvalidateInode(inode uint64) {
	c.positive.Delete(attrKey(inode))
}

// PutNegative records that name does not exist under parent.
func (c *AttrCache) PutNegative(parent uint64, name string) {
	c.negative.SetDefault(negKey(parent, name), struct{}{})
}

// IsNegative reports whether (parent, name) is cached as absent.
func (c *AttrCache) IsNegative(parent uint64, name string) bool {
	_, ok := c.negative.Get(negKey(parent, name))
	return ok
}

// InvalidateParent clears every negative entry recorded under parent, plus
// parent's own positive entry, per the mutation-invalidation rule: "clears
// the affected inode and all negative entries under the affected parent."
func (c *AttrCache) InvalidateParent(parent uint64) {
	c.InvalidateInode(parent)
	prefix := strconv.FormatUint(parent, 10) + "\x00"
	for k := range c.negative.Items() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			c.negative.Delete(k)
		}
	}
}
