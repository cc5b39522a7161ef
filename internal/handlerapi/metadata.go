package handlerapi

import (
	"context"
	"fmt"

	"github.com/cryptovault/vault/internal/pathmodel"
	"github.com/cryptovault/vault/internal/scheduler"
	"github.com/cryptovault/vault/internal/vaultcache"
	"github.com/cryptovault/vault/internal/vaulterr"
)

// Lookup resolves name inside the directory identified by parentInode,
// returning its inode number and attributes. A miss is served from (and,
// on failure, recorded into) the negative lookup cache.
func (h *Handle) Lookup(ctx context.Context, parentInode uint64, name string) (uint64, vaultcache.Attr, error) {
	if h.attrs.IsNegative(parentInode, name) {
		return 0, vaultcache.Attr{}, fmt.Errorf("%w: %q", vaulterr.NotFound, name)
	}

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane: scheduler.LaneMetadata,
		Run: func(ctx context.Context) (interface{}, error) {
			parentPath, ok := h.inodes.Path(parentInode)
			if !ok {
				return nil, fmt.Errorf("%w: unknown parent inode", vaulterr.NotFound)
			}
			childPath := childPath(parentPath, name)
			resolved, err := h.resolved(childPath)
			if err != nil {
				return nil, err
			}
			attr, err := h.attrOf(resolved)
			if err != nil {
				return nil, err
			}
			inode := h.inodes.Lookup(childPath)
			h.attrs.Put(inode, attr)
			return lookupResult{inode: inode, attr: attr}, nil
		},
	})
	if r.Err != nil {
		h.attrs.PutNegative(parentInode, name)
		return 0, vaultcache.Attr{}, r.Err
	}
	lr := r.Value.(lookupResult)
	return lr.inode, lr.attr, nil
}

type lookupResult struct {
	inode uint64
	attr  vaultcache.Attr
}

// GetAttr returns inode's cached attributes, refreshing from the vault on
// a cache miss.
func (h *Handle) GetAttr(ctx context.Context, inode uint64) (vaultcache.Attr, error) {
	if a, ok := h.attrs.Get(inode); ok {
		return a, nil
	}

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane: scheduler.LaneMetadata,
		Run: func(ctx context.Context) (interface{}, error) {
			vaultPath, ok := h.inodes.Path(inode)
			if !ok {
				return nil, fmt.Errorf("%w: unknown inode", vaulterr.NotFound)
			}
			resolved, err := h.resolved(vaultPath)
			if err != nil {
				return nil, err
			}
			attr, err := h.attrOf(resolved)
			if err != nil {
				return nil, err
			}
			h.attrs.Put(inode, attr)
			return attr, nil
		},
	})
	if r.Err != nil {
		return vaultcache.Attr{}, r.Err
	}
	return r.Value.(vaultcache.Attr), nil
}

func (h *Handle) attrOf(r pathmodel.Resolved) (vaultcache.Attr, error) {
	attr := vaultcache.Attr{Kind: int(r.Kind)}
	if r.Kind == pathmodel.KindFile {
		size, err := h.vault.FileSize(r.ParentDirID, r.Name)
		if err != nil {
			return vaultcache.Attr{}, err
		}
		attr.Size = size
	}
	return attr, nil
}

// ReadDir returns inode's directory entries, each resolved to its own
// inode number, applying offset as a simple slice-skip (callers iterate
// readdir to exhaustion by increasing offset).
func (h *Handle) ReadDir(ctx context.Context, inode uint64, offset int) ([]vaultcache.DirEntry, error) {
	if cached, ok := h.dirs.Get(inode); ok {
		return sliceFrom(cached, offset), nil
	}

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane: scheduler.LaneMetadata,
		Run: func(ctx context.Context) (interface{}, error) {
			vaultPath, ok := h.inodes.Path(inode)
			if !ok {
				return nil, fmt.Errorf("%w: unknown inode", vaulterr.NotFound)
			}
			resolved, err := h.resolved(vaultPath)
			if err != nil {
				return nil, err
			}
			if resolved.Kind != pathmodel.KindDirectory {
				return nil, fmt.Errorf("%w: %q", vaulterr.NotDirectory, vaultPath)
			}
			entries, err := h.vault.ListDecoded(resolved.DirID)
			if err != nil {
				return nil, err
			}
			out := make([]vaultcache.DirEntry, len(entries))
			for i, e := range entries {
				childInode := h.inodes.Lookup(childPath(vaultPath, e.Name))
				out[i] = vaultcache.DirEntry{Inode: childInode, Kind: int(e.Kind), Name: e.Name}
			}
			h.dirs.Put(inode, out)
			return out, nil
		},
	})
	if r.Err != nil {
		return nil, r.Err
	}
	return sliceFrom(r.Value.([]vaultcache.DirEntry), offset), nil
}

func sliceFrom(entries []vaultcache.DirEntry, offset int) []vaultcache.DirEntry {
	if offset >= len(entries) {
		return nil
	}
	return entries[offset:]
}

// invalidateOnMutation clears the caches affected by a mutation of name
// inside the directory bound to parentInode, per the rule that
// invalidation always precedes a mutation's result-publish.
func (h *Handle) invalidateOnMutation(parentInode uint64, name string) {
	h.attrs.InvalidateParent(parentInode)
	h.dirs.Invalidate(parentInode)
	if parentPath, ok := h.inodes.Path(parentInode); ok {
		childVaultPath := childPath(parentPath, name)
		if inode, ok := h.inodes.Inode(childVaultPath); ok {
			h.attrs.InvalidateInode(inode)
			h.content.InvalidateInode(inode)
		}
	}
}
