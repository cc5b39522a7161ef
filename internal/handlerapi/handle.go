// Package handlerapi wires the scheduler, vault operations and caches
// together behind the filesystem-shaped surface a mount adapter
// (FUSE/NFS/WebDAV/FSKit) drives: lookup/getattr/readdir/open/release/
// flush/read/write/create/mkdir/symlink/unlink/rmdir/rename/truncate,
// plus a statistics snapshot. No concrete mount adapter lives here; the
// surface is the concrete Handle type, with no separate interface declared.
package handlerapi

import (
	"context"
	"strings"
	"time"

	"github.com/cryptovault/vault/internal/pathmodel"
	"github.com/cryptovault/vault/internal/scheduler"
	"github.com/cryptovault/vault/internal/vaultcache"
	"github.com/cryptovault/vault/internal/vaultconfig"
	"github.com/cryptovault/vault/internal/vaultops"
)

// Handle owns everything one open vault needs: the vault operations
// layer, its scheduler, caches and inode/handle tables. A "vault handle"
// owns its master key (via vault), caches, scheduler, and executor pool;
// multiple Handles coexist in one process without interference.
type Handle struct {
	vault *vaultops.Vault

	sched   *scheduler.Scheduler
	inodes  *vaultcache.InodeTable
	handles *vaultcache.HandleTable
	attrs   *vaultcache.AttrCache
	dirs    *vaultcache.DirListingCache
	content *vaultcache.ContentCache

	cfg vaultconfig.RuntimeConfig
}

// New builds a Handle over an already-open vault, starting its scheduler
// and caches per cfg.
func New(ctx context.Context, vault *vaultops.Vault, cfg vaultconfig.RuntimeConfig) *Handle {
	return &Handle{
		vault: vault,
		sched: scheduler.New(ctx, scheduler.Config{
			LaneCapacities:        cfg.LaneCapacities,
			ExecutorMin:           cfg.ExecutorMin,
			ExecutorMax:           cfg.ExecutorMax,
			QuietThreshold:        cfg.QuietThreshold,
			ReservedMetadataSlots: cfg.ReservedMetadataSlots,
			ReservedWriteSlots:    cfg.ReservedWriteSlots,
			L2Weight:              cfg.L2Weight,
			L3Weight:              cfg.L3Weight,
		}),
		inodes:  vaultcache.NewInodeTable("/"),
		handles: vaultcache.NewHandleTable(),
		attrs: vaultcache.NewAttrCache(
			time.Duration(cfg.AttrCacheTTLSeconds)*time.Second,
			time.Duration(cfg.NegativeCacheTTLSeconds)*time.Second,
		),
		dirs:    vaultcache.NewDirListingCache(time.Duration(cfg.DirListingCacheTTLSeconds) * time.Second),
		content: vaultcache.NewContentCache(cfg.ContentCacheBytes),
		cfg:     cfg,
	}
}

// Close stops the handle's scheduler. Open handles and unflushed buffers
// are the caller's responsibility to drain first.
func (h *Handle) Close() {
	h.sched.Close()
}

func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// splitParent divides a vault path into its parent directory and final
// component, e.g. "/a/b" -> ("/a", "b"), "/a" -> ("/", "a").
func splitParent(vaultPath string) (parent, name string) {
	vaultPath = strings.TrimRight(vaultPath, "/")
	idx := strings.LastIndex(vaultPath, "/")
	if idx <= 0 {
		return "/", strings.TrimPrefix(vaultPath, "/")
	}
	return vaultPath[:idx], vaultPath[idx+1:]
}

// resolved looks up vaultPath from the root, returning its directory
// context. The vault operations layer has no path cache of its own; the
// inode/attribute caches above this method are what make repeated
// lookups cheap.
func (h *Handle) resolved(vaultPath string) (pathmodel.Resolved, error) {
	return h.vault.ResolvePath(vaultPath)
}
