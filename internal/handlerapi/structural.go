package handlerapi

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cryptovault/vault/internal/pathmodel"
	"github.com/cryptovault/vault/internal/scheduler"
	"github.com/cryptovault/vault/internal/vaulterr"
)

// Create makes a new, empty file named name inside parentInode and opens
// a write handle on it. mode is accepted for POSIX-adapter compatibility
// but is not persisted: the vault format carries no permission bits.
func (h *Handle) Create(ctx context.Context, parentInode uint64, name string, mode uint32) (uint64, uint64, error) {
	r := h.structuralOp(ctx, parentInode, name, func(parentDirID string) (interface{}, error) {
		if err := h.vault.WriteFile(parentDirID, name, bytes.NewReader(nil)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if r.Err != nil {
		return 0, 0, r.Err
	}

	parentPath, _ := h.inodes.Path(parentInode)
	inode := h.inodes.Lookup(childPath(parentPath, name))
	handleID, err := h.Open(ctx, inode, true)
	return inode, handleID, err
}

// Mkdir creates a new child directory named name inside parentInode.
func (h *Handle) Mkdir(ctx context.Context, parentInode uint64, name string) (uint64, error) {
	r := h.structuralOp(ctx, parentInode, name, func(parentDirID string) (interface{}, error) {
		return h.vault.CreateDirectory(parentDirID, name)
	})
	if r.Err != nil {
		return 0, r.Err
	}
	parentPath, _ := h.inodes.Path(parentInode)
	return h.inodes.Lookup(childPath(parentPath, name)), nil
}

// Symlink creates a new symlink named name inside parentInode pointing at
// target.
func (h *Handle) Symlink(ctx context.Context, parentInode uint64, name, target string) error {
	r := h.structuralOp(ctx, parentInode, name, func(parentDirID string) (interface{}, error) {
		return nil, h.vault.CreateSymlink(parentDirID, name, target)
	})
	return r.Err
}

// Unlink removes the file or symlink named name inside parentInode.
func (h *Handle) Unlink(ctx context.Context, parentInode uint64, name string) error {
	r := h.structuralOp(ctx, parentInode, name, func(parentDirID string) (interface{}, error) {
		return nil, h.vault.RemoveFile(parentDirID, name)
	})
	return r.Err
}

// Rmdir removes the empty child directory named name inside parentInode.
func (h *Handle) Rmdir(ctx context.Context, parentInode uint64, name string) error {
	r := h.structuralOp(ctx, parentInode, name, func(parentDirID string) (interface{}, error) {
		return nil, h.vault.RemoveDirectory(parentDirID, name)
	})
	return r.Err
}

// Rename moves srcName from srcParentInode to dstName under
// dstParentInode, invalidating caches under both parents and rebinding
// any already-allocated inode to its new path so in-flight handles stay
// valid.
func (h *Handle) Rename(ctx context.Context, srcParentInode uint64, srcName string, dstParentInode uint64, dstName string) error {
	srcParentPath, ok := h.inodes.Path(srcParentInode)
	if !ok {
		return fmt.Errorf("%w: unknown source parent inode", vaulterr.NotFound)
	}
	dstParentPath, ok := h.inodes.Path(dstParentInode)
	if !ok {
		return fmt.Errorf("%w: unknown destination parent inode", vaulterr.NotFound)
	}
	srcPath := childPath(srcParentPath, srcName)
	dstPath := childPath(dstParentPath, dstName)

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane:   scheduler.LaneWriteStructural,
		Inode:  srcParentInode,
		Inode2: dstParentInode,
		Run: func(ctx context.Context) (interface{}, error) {
			srcResolved, err := h.resolved(srcPath)
			if err != nil {
				return nil, err
			}
			dstParentResolved, err := h.resolved(dstParentPath)
			if err != nil {
				return nil, err
			}
			if err := h.vault.Rename(srcResolved.ParentDirID, srcName, dstParentResolved.DirID, dstName); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
	if r.Err != nil {
		return r.Err
	}

	h.invalidateOnMutation(srcParentInode, srcName)
	h.invalidateOnMutation(dstParentInode, dstName)
	if inode, ok := h.inodes.Inode(srcPath); ok {
		h.inodes.Rebind(inode, dstPath)
	}
	return nil
}

// structuralOp resolves parentInode to a directory ID, runs fn against
// it through the write-structural lane, and invalidates the parent's
// caches before returning, per the cache-invalidation-precedes-publish
// rule.
func (h *Handle) structuralOp(ctx context.Context, parentInode uint64, name string, fn func(parentDirID string) (interface{}, error)) scheduler.Result {
	parentPath, ok := h.inodes.Path(parentInode)
	if !ok {
		return scheduler.Result{Err: fmt.Errorf("%w: unknown parent inode", vaulterr.NotFound)}
	}

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane:  scheduler.LaneWriteStructural,
		Inode: parentInode,
		Run: func(ctx context.Context) (interface{}, error) {
			resolved, err := h.resolved(parentPath)
			if err != nil {
				return nil, err
			}
			if resolved.Kind != pathmodel.KindDirectory {
				return nil, fmt.Errorf("%w: %q is not a directory", vaulterr.NotDirectory, parentPath)
			}
			return fn(resolved.DirID)
		},
	})
	if r.Err == nil {
		h.invalidateOnMutation(parentInode, name)
	}
	return r
}
