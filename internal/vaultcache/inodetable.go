package vaultcache

import (
	"sync"
	"sync/atomic"
)

// RootInode is the fixed inode number of the vault root. It is exempt
// from eviction regardless of its reference count.
const RootInode uint64 = 1

type inodeEntry struct {
	path string
	refs int64
}

// InodeTable maintains the bijection between a vault path and its inode
// number, plus a per-inode kernel-reference counter. Lookups and
// allocation are lock-free: both directions are sync.Map, and inode
// numbers come from an atomic counter.
type InodeTable struct {
	byPath  sync.Map // string -> uint64
	byInode sync.Map // uint64 -> *inodeEntry
	next    uint64
}

// NewInodeTable builds an InodeTable with the root path pre-registered as
// RootInode, holding one permanent reference.
func NewInodeTable(rootPath string) *InodeTable {
	t := &InodeTable{next: RootInode}
	root := &inodeEntry{path: rootPath, refs: 1}
	t.byPath.Store(rootPath, RootInode)
	t.byInode.Store(RootInode, root)
	return t
}

// Lookup returns the inode number for path, allocating a fresh one with
// one reference if path has not been seen before.
func (t *InodeTable) Lookup(path string) uint64 {
	if n, ok := t.byPath.Load(path); ok {
		inode := n.(uint64)
		if e, ok := t.byInode.Load(inode); ok {
			atomic.AddInt64(&e.(*inodeEntry).refs, 1)
			return inode
		}
	}

	inode := atomic.AddUint64(&t.next, 1)
	entry := &inodeEntry{path: path, refs: 1}
	actual, loaded := t.byPath.LoadOrStore(path, inode)
	if loaded {
		// Lost the race to a concurrent Lookup of the same path.
		winner := actual.(uint64)
		if e, ok := t.byInode.Load(winner); ok {
			atomic.AddInt64(&e.(*inodeEntry).refs, 1)
		}
		return winner
	}
	t.byInode.Store(inode, entry)
	return inode
}

// Path returns the vault path currently bound to inode.
func (t *InodeTable) Path(inode uint64) (string, bool) {
	e, ok := t.byInode.Load(inode)
	if !ok {
		return "", false
	}
	return e.(*inodeEntry).path, true
}

// Inode returns the inode number currently bound to path, if registered.
func (t *InodeTable) Inode(path string) (uint64, bool) {
	n, ok := t.byPath.Load(path)
	if !ok {
		return 0, false
	}
	return n.(uint64), true
}

// Rebind updates the path an already-allocated inode maps to, used when a
// rename moves an in-use inode to a new vault path without changing its
// identity.
func (t *InodeTable) Rebind(inode uint64, newPath string) {
	e, ok := t.byInode.Load(inode)
	if !ok {
		return
	}
	entry := e.(*inodeEntry)
	t.byPath.Delete(entry.path)
	entry.path = newPath
	t.byPath.Store(newPath, inode)
}

// Forget decrements inode's reference count by delta, evicting it once
// the count reaches zero. The root inode is exempt and never evicted.
func (t *InodeTable) Forget(inode uint64, delta int64) {
	if inode == RootInode {
		return
	}
	e, ok := t.byInode.Load(inode)
	if !ok {
		return
	}
	entry := e.(*inodeEntry)
	if atomic.AddInt64(&entry.refs, -delta) <= 0 {
		t.byInode.Delete(inode)
		t.byPath.Delete(entry.path)
	}
}
