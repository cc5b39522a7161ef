package handlerapi

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/cryptovault/vault/internal/scheduler"
	"github.com/cryptovault/vault/internal/vaultcache"
	"github.com/cryptovault/vault/internal/vaulterr"
)

// memReader is the minimal seek-and-decrypt surface vaultcache.Handle
// needs for a read-only handle: the object's full plaintext decrypted
// once on open and served by byte-slice thereafter.
type memReader struct {
	data []byte
}

func (r *memReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *memReader) Close() error { return nil }

// Open allocates a handle for inode: a read-only decrypting reader, or a
// write buffer seeded with the object's current plaintext, matching the
// write buffer's "materializes the current-on-flush view" contract.
func (h *Handle) Open(ctx context.Context, inode uint64, forWrite bool) (uint64, error) {
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

			data, err := h.readWhole(resolved.ParentDirID, resolved.Name)
			if err != nil {
				return nil, err
			}

			var handle *vaultcache.Handle
			if forWrite {
				handle = &vaultcache.Handle{Inode: inode, Kind: vaultcache.HandleWriter, Buffer: vaultcache.NewWriteBuffer(data)}
			} else {
				handle = &vaultcache.Handle{Inode: inode, Kind: vaultcache.HandleReader, Reader: &memReader{data: data}}
			}
			return h.handles.Open(handle), nil
		},
	})
	if r.Err != nil {
		return 0, r.Err
	}
	return r.Value.(uint64), nil
}

func (h *Handle) readWhole(dirID, name string) ([]byte, error) {
	rc, err := h.vault.ReadFile(dirID, name)
	if err != nil {
		if vaulterr.Is(err, vaulterr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Release closes handle id. A dirty write buffer must be Flush-ed first;
// Release on a dirty buffer discards unflushed writes, matching a POSIX
// close() without an intervening fsync.
func (h *Handle) Release(ctx context.Context, id uint64) error {
	if hdl, ok := h.handles.Get(id); ok && hdl.Reader != nil {
		_ = hdl.Reader.Close()
	}
	h.handles.Release(id)
	return nil
}

// Read returns up to size bytes from handle id starting at offset,
// consulting and populating the content read cache for read-only
// handles keyed by the exact (inode, offset, length) fingerprint.
func (h *Handle) Read(ctx context.Context, id uint64, offset int64, size int) ([]byte, error) {
	hdl, ok := h.handles.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown handle", vaulterr.InvalidArgument)
	}

	if hdl.Kind == vaultcache.HandleWriter {
		buf := make([]byte, size)
		n := hdl.Buffer.ReadAt(buf, offset)
		return buf[:n], nil
	}

	fp := vaultcache.Fingerprint{Inode: hdl.Inode, Offset: offset, Length: size}
	if cached, ok := h.content.Get(fp); ok {
		return cached, nil
	}

	dedupKey := fp.String()
	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane:     scheduler.LaneReadForeground,
		DedupKey: dedupKey,
		Run: func(ctx context.Context) (interface{}, error) {
			buf := make([]byte, size)
			n, err := hdl.Reader.ReadAt(buf, offset)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("%w: %v", vaulterr.IoError, err)
			}
			out := append([]byte{}, buf[:n]...)
			h.content.Put(fp, out)
			return out, nil
		},
	})
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Value.([]byte), nil
}

// Write applies bytes at offset to handle id's write buffer, zero-filling
// any gap, through the per-file ordering lane so concurrent writers to
// the same inode serialize in arrival order.
func (h *Handle) Write(ctx context.Context, id uint64, offset int64, data []byte) (int, error) {
	hdl, ok := h.handles.Get(id)
	if !ok || hdl.Kind != vaultcache.HandleWriter {
		return 0, fmt.Errorf("%w: handle not open for write", vaulterr.InvalidArgument)
	}

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane:  scheduler.LaneWriteStructural,
		Inode: hdl.Inode,
		Run: func(ctx context.Context) (interface{}, error) {
			return hdl.Buffer.WriteAt(data, offset), nil
		},
	})
	if r.Err != nil {
		return 0, r.Err
	}
	return r.Value.(int), nil
}

// Truncate resizes handle id's write buffer to size.
func (h *Handle) Truncate(ctx context.Context, id uint64, size int64) error {
	hdl, ok := h.handles.Get(id)
	if !ok || hdl.Kind != vaultcache.HandleWriter {
		return fmt.Errorf("%w: handle not open for write", vaulterr.InvalidArgument)
	}
	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane:  scheduler.LaneWriteStructural,
		Inode: hdl.Inode,
		Run: func(ctx context.Context) (interface{}, error) {
			hdl.Buffer.Truncate(size)
			return nil, nil
		},
	})
	h.content.InvalidateInode(hdl.Inode)
	return r.Err
}

// Flush re-seals handle id's write buffer and atomically replaces the
// on-disk object, as a barrier on the handle's inode: it waits for any
// other queued structural ops on that inode and inherits their error
// exactly once before running.
func (h *Handle) Flush(ctx context.Context, id uint64) error {
	hdl, ok := h.handles.Get(id)
	if !ok {
		return fmt.Errorf("%w: unknown handle", vaulterr.InvalidArgument)
	}
	if hdl.Kind != vaultcache.HandleWriter || !hdl.Buffer.Dirty() {
		return nil
	}

	vaultPath, ok := h.inodes.Path(hdl.Inode)
	if !ok {
		return fmt.Errorf("%w: unknown inode", vaulterr.NotFound)
	}
	parentPath, name := splitParent(vaultPath)

	r := h.sched.Submit(ctx, &scheduler.Job{
		Lane:    scheduler.LaneWriteStructural,
		Inode:   hdl.Inode,
		Barrier: true,
		Run: func(ctx context.Context) (interface{}, error) {
			parent, err := h.resolved(parentPath)
			if err != nil {
				return nil, err
			}
			snapshot := hdl.Buffer.Snapshot()
			if err := h.vault.WriteFile(parent.DirID, name, bytes.NewReader(snapshot)); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
	h.content.InvalidateInode(hdl.Inode)
	return r.Err
}
