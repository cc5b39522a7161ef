package vaultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAttrCachePositiveAndInvalidation(t *testing.T) {
	c := NewAttrCache(50*time.Millisecond, 50*time.Millisecond)

	_, ok := c.Get(42)
	require.False(t, ok)

	c.Put(42, Attr{Size: 10})
	attrs, ok := c.Get(42)
	require.True(t, ok)
	require.EqualValues(t, 10, attrs.Size)

	c.InvalidateInode(42)
	_, ok = c.Get(42)
	require.False(t, ok)
}

func TestAttrCacheNegativeClearedByParentInvalidation(t *testing.T) {
	c := NewAttrCache(time.Second, time.Second)

	require.False(t, c.IsNegative(1, "missing"))
	c.PutNegative(1, "missing")
	require.True(t, c.IsNegative(1, "missing"))

	c.PutNegative(1, "also-missing")
	c.PutNegative(2, "unrelated")

	c.InvalidateParent(1)
	require.False(t, c.IsNegative(1, "missing"))
	require.False(t, c.IsNegative(1, "also-missing"))
	require.True(t, c.IsNegative(2, "unrelated"))
}

func TestDirListingCacheRoundTrip(t *testing.T) {
	c := NewDirListingCache(time.Second)

	_, ok := c.Get(1)
	require.False(t, ok)

	want := []DirEntry{{Inode: 2, Name: "a.txt"}, {Inode: 3, Name: "b.txt"}}
	c.Put(1, want)

	got, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, want, got)

	c.Invalidate(1)
	_, ok = c.Get(1)
	require.False(t, ok)
}

func TestContentCacheByteBudgetEviction(t *testing.T) {
	c := NewContentCache(100)

	fpA := Fingerprint{Inode: 1, Offset: 0, Length: 60}
	fpB := Fingerprint{Inode: 1, Offset: 60, Length: 60}

	c.Put(fpA, make([]byte, 60))
	_, ok := c.Get(fpA)
	require.True(t, ok)

	// fpB's 60 bytes would push total usage to 120, over the 100 byte
	// budget, so fpA must be evicted to make room.
	c.Put(fpB, make([]byte, 60))
	_, ok = c.Get(fpA)
	require.False(t, ok)
	_, ok = c.Get(fpB)
	require.True(t, ok)

	snap := c.Snapshot()
	require.LessOrEqual(t, snap.Bytes, int64(100))
}

func TestContentCacheInvalidateInode(t *testing.T) {
	c := NewContentCache(1 << 20)
	fp1 := Fingerprint{Inode: 1, Offset: 0, Length: 10}
	fp2 := Fingerprint{Inode: 2, Offset: 0, Length: 10}

	c.Put(fp1, make([]byte, 10))
	c.Put(fp2, make([]byte, 10))

	c.InvalidateInode(1)
	_, ok := c.Get(fp1)
	require.False(t, ok)
	_, ok = c.Get(fp2)
	require.True(t, ok)
}

func TestInodeTableRootExemptFromForget(t *testing.T) {
	tbl := NewInodeTable("/")
	tbl.Forget(RootInode, 1000)
	p, ok := tbl.Path(RootInode)
	require.True(t, ok)
	require.Equal(t, "/", p)
}

func TestInodeTableLookupStableAndForgetEvicts(t *testing.T) {
	tbl := NewInodeTable("/")

	a1 := tbl.Lookup("/a")
	a2 := tbl.Lookup("/a")
	require.Equal(t, a1, a2)
	require.NotEqual(t, RootInode, a1)

	b := tbl.Lookup("/b")
	require.NotEqual(t, a1, b)

	// two lookups => refcount 2; a single forget(1) must not evict.
	tbl.Forget(a1, 1)
	_, ok := tbl.Path(a1)
	require.True(t, ok)

	tbl.Forget(a1, 1)
	_, ok = tbl.Path(a1)
	require.False(t, ok)
}

func TestInodeTableRebind(t *testing.T) {
	tbl := NewInodeTable("/")
	a := tbl.Lookup("/a")

	tbl.Rebind(a, "/b")
	p, ok := tbl.Path(a)
	require.True(t, ok)
	require.Equal(t, "/b", p)

	_, ok = tbl.Inode("/a")
	require.False(t, ok)
	gotA, ok := tbl.Inode("/b")
	require.True(t, ok)
	require.Equal(t, a, gotA)
}

func TestHandleTableOpenGetRelease(t *testing.T) {
	tbl := NewHandleTable()
	h := &Handle{Inode: 7, Kind: HandleWriter, Buffer: NewWriteBuffer(nil)}

	id := tbl.Open(h)
	require.NotZero(t, id)

	got, ok := tbl.Get(id)
	require.True(t, ok)
	require.Same(t, h, got)

	tbl.Release(id)
	_, ok = tbl.Get(id)
	require.False(t, ok)
}

func TestWriteBufferZeroFillsGapAndTruncates(t *testing.T) {
	b := NewWriteBuffer(nil)
	require.False(t, b.Dirty())

	b.WriteAt([]byte("hello"), 10)
	require.True(t, b.Dirty())
	require.EqualValues(t, 15, b.Len())

	buf := make([]byte, 15)
	n := b.ReadAt(buf, 0)
	require.Equal(t, 15, n)
	require.Equal(t, make([]byte, 10), buf[:10])
	require.Equal(t, []byte("hello"), buf[10:])

	b.Truncate(3)
	require.EqualValues(t, 3, b.Len())

	snap := b.Snapshot()
	require.Equal(t, []byte{0, 0, 0}, snap)
	require.False(t, b.Dirty())
}
