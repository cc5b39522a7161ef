package handlerapi

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryptovault/vault/internal/vaultcache"
	"github.com/cryptovault/vault/internal/vaultconfig"
	"github.com/cryptovault/vault/internal/vaultcrypto"
	"github.com/cryptovault/vault/internal/vaultops"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	key, err := vaultcrypto.NewMasterKey()
	require.NoError(t, err)
	keyRef := vaultcrypto.NewKeyRef(key)
	defer keyRef.Release()
	cryptor, err := vaultcrypto.NewCryptor(keyRef, vaultcrypto.CipherComboSivGcm)
	require.NoError(t, err)

	vault, err := vaultops.Create(t.TempDir(), cryptor, 220)
	require.NoError(t, err)

	cfg := vaultconfig.DefaultRuntimeConfig()
	h := New(context.Background(), vault, cfg)
	t.Cleanup(h.Close)
	return h
}

func TestCreateWriteFlushRead(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	_, handleID, err := h.Create(ctx, vaultcache.RootInode, "hello.txt", 0o644)
	require.NoError(t, err)

	n, err := h.Write(ctx, handleID, 0, []byte("hello, world"))
	require.NoError(t, err)
	require.Equal(t, len("hello, world"), n)

	require.NoError(t, h.Flush(ctx, handleID))
	require.NoError(t, h.Release(ctx, handleID))

	inode, attr, err := h.Lookup(ctx, vaultcache.RootInode, "hello.txt")
	require.NoError(t, err)
	require.EqualValues(t, len("hello, world"), attr.Size)

	readHandle, err := h.Open(ctx, inode, false)
	require.NoError(t, err)
	defer h.Release(ctx, readHandle)

	data, err := h.Read(ctx, readHandle, 0, 64)
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(data))
}

func TestLookupMissingIsCachedNegative(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	_, _, err := h.Lookup(ctx, vaultcache.RootInode, "nope.txt")
	require.Error(t, err)
	require.True(t, h.attrs.IsNegative(vaultcache.RootInode, "nope.txt"))

	_, _, err = h.Lookup(ctx, vaultcache.RootInode, "nope.txt")
	require.Error(t, err)
}

func TestMkdirRmdirNotEmpty(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	dirInode, err := h.Mkdir(ctx, vaultcache.RootInode, "sub")
	require.NoError(t, err)

	_, fh, err := h.Create(ctx, dirInode, "leaf.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx, fh))
	require.NoError(t, h.Release(ctx, fh))

	err = h.Rmdir(ctx, vaultcache.RootInode, "sub")
	require.Error(t, err)

	require.NoError(t, h.Unlink(ctx, dirInode, "leaf.txt"))
	require.NoError(t, h.Rmdir(ctx, vaultcache.RootInode, "sub"))
}

func TestRenameInvalidatesCachesAndRebindsInode(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	_, fh, err := h.Create(ctx, vaultcache.RootInode, "a.txt", 0o644)
	require.NoError(t, err)
	_, err = h.Write(ctx, fh, 0, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx, fh))
	require.NoError(t, h.Release(ctx, fh))

	inode, _, err := h.Lookup(ctx, vaultcache.RootInode, "a.txt")
	require.NoError(t, err)

	require.NoError(t, h.Rename(ctx, vaultcache.RootInode, "a.txt", vaultcache.RootInode, "b.txt"))

	_, _, err = h.Lookup(ctx, vaultcache.RootInode, "a.txt")
	require.Error(t, err)

	renamedInode, attr, err := h.Lookup(ctx, vaultcache.RootInode, "b.txt")
	require.NoError(t, err)
	require.Equal(t, inode, renamedInode)
	require.EqualValues(t, len("payload"), attr.Size)
}

func TestReadDirListsCreatedEntries(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	_, fh, err := h.Create(ctx, vaultcache.RootInode, "one.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx, fh))
	require.NoError(t, h.Release(ctx, fh))

	_, err = h.Mkdir(ctx, vaultcache.RootInode, "two")
	require.NoError(t, err)

	entries, err := h.ReadDir(ctx, vaultcache.RootInode, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["one.txt"])
	require.True(t, names["two"])
}

func TestConcurrentReadsDedupWithSingleFlight(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t)

	_, fh, err := h.Create(ctx, vaultcache.RootInode, "shared.bin", 0o644)
	require.NoError(t, err)
	payload := make([]byte, 40000)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = h.Write(ctx, fh, 0, payload)
	require.NoError(t, err)
	require.NoError(t, h.Flush(ctx, fh))
	require.NoError(t, h.Release(ctx, fh))

	inode, _, err := h.Lookup(ctx, vaultcache.RootInode, "shared.bin")
	require.NoError(t, err)

	readHandle, err := h.Open(ctx, inode, false)
	require.NoError(t, err)
	defer h.Release(ctx, readHandle)

	const n = 16
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := h.Read(ctx, readHandle, 0, len(payload))
			require.NoError(t, err)
			results[i] = data
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, payload, results[i])
	}
}
