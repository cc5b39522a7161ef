package vaultcache

import "sync"

// WriteBuffer is the contiguous plaintext byte buffer behind a writable
// open handle. It materializes the current-on-flush view: reads, random
// writes (zero-filling any gap), and truncation all operate on plaintext
// bytes, with the handler layer responsible for re-sealing and atomically
// replacing the on-disk object on flush.
type WriteBuffer struct {
	mu    sync.Mutex
	data  []byte
	dirty bool
}

// NewWriteBuffer builds a WriteBuffer seeded with the object's current
// plaintext contents (empty for a freshly created file).
func NewWriteBuffer(initial []byte) *WriteBuffer {
	b := &WriteBuffer{data: append([]byte{}, initial...)}
	return b
}

// ReadAt copies min(len(p), len(data)-off) bytes from offset off into p and
// returns the count. Unlike io.ReaderAt it returns no error: a short read,
// or an offset at or past the end (which copies 0 bytes), is signalled only
// by the count.
func (b *WriteBuffer) ReadAt(p []byte, off int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off < 0 || off >= int64(len(b.data)) {
		return 0
	}
	n := copy(p, b.data[off:])
	return n
}

// WriteAt writes p at offset off, zero-filling any gap between the
// buffer's current end and off, and marks the buffer dirty.
func (b *WriteBuffer) WriteAt(p []byte, off int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], p)
	b.dirty = true
	return len(p)
}

// Truncate resizes the buffer to size, zero-filling if growing, and marks
// it dirty.
func (b *WriteBuffer) Truncate(size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case size == int64(len(b.data)):
		return
	case size < int64(len(b.data)):
		b.data = b.data[:size]
	default:
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	}
	b.dirty = true
}

// Dirty reports whether the buffer has unflushed writes.
func (b *WriteBuffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Snapshot returns a copy of the buffer's current plaintext contents and
// clears the dirty flag, for use by a flush handler about to re-seal and
// replace the on-disk object.
func (b *WriteBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = false
	return append([]byte{}, b.data...)
}

// Len returns the buffer's current size.
func (b *WriteBuffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}
