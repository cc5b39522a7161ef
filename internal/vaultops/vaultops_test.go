package vaultops

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptovault/vault/internal/pathmodel"
	"github.com/cryptovault/vault/internal/vaultcrypto"
	"github.com/cryptovault/vault/internal/vaulterr"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	key, err := vaultcrypto.NewMasterKey()
	require.NoError(t, err)
	keyRef := vaultcrypto.NewKeyRef(key)
	defer keyRef.Release()
	cryptor, err := vaultcrypto.NewCryptor(keyRef, vaultcrypto.CipherComboSivGcm)
	require.NoError(t, err)

	v, err := Create(t.TempDir(), cryptor, 220)
	require.NoError(t, err)
	return v
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	v := newTestVault(t)

	content := []byte("hello, vault")
	require.NoError(t, v.WriteFile(pathmodel.RootDirID, "greeting.txt", bytes.NewReader(content)))

	rc, err := v.ReadFile(pathmodel.RootDirID, "greeting.txt")
	require.NoError(t, err)
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestFileSizeWithoutReadingContent(t *testing.T) {
	v := newTestVault(t)
	content := bytes.Repeat([]byte("a"), 70000)
	require.NoError(t, v.WriteFile(pathmodel.RootDirID, "big.bin", bytes.NewReader(content)))

	size, err := v.FileSize(pathmodel.RootDirID, "big.bin")
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)
}

func TestReadMissingFileReturnsNotFound(t *testing.T) {
	v := newTestVault(t)
	_, err := v.ReadFile(pathmodel.RootDirID, "missing.txt")
	assert.ErrorIs(t, err, vaulterr.NotFound)
}

func TestLongFilenameShortening(t *testing.T) {
	v := newTestVault(t)
	longName := "this-is-a-very-long-file-name-" + string(bytes.Repeat([]byte("x"), 250)) + ".txt"

	require.NoError(t, v.WriteFile(pathmodel.RootDirID, longName, bytes.NewReader([]byte("payload"))))

	entries, err := v.ListDecoded(pathmodel.RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, longName, entries[0].Name)
	assert.Equal(t, pathmodel.KindFile, entries[0].Kind)

	rc, err := v.ReadFile(pathmodel.RootDirID, longName)
	require.NoError(t, err)
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))
}

func TestCreateDirectoryThenNestedMkdirRmdir(t *testing.T) {
	v := newTestVault(t)

	childID, err := v.CreateDirectory(pathmodel.RootDirID, "sub")
	require.NoError(t, err)
	assert.NotEmpty(t, childID)

	grandchildID, err := v.CreateDirectory(childID, "nested")
	require.NoError(t, err)
	assert.NotEmpty(t, grandchildID)
	assert.NotEqual(t, childID, grandchildID)

	require.NoError(t, v.WriteFile(grandchildID, "leaf.txt", bytes.NewReader([]byte("x"))))

	err = v.RemoveDirectory(childID, "nested")
	assert.ErrorIs(t, err, vaulterr.NotEmpty)

	require.NoError(t, v.RemoveFile(grandchildID, "leaf.txt"))
	require.NoError(t, v.RemoveDirectory(childID, "nested"))
	require.NoError(t, v.RemoveDirectory(pathmodel.RootDirID, "sub"))
}

func TestCreateDirectoryDuplicateNameRejected(t *testing.T) {
	v := newTestVault(t)
	_, err := v.CreateDirectory(pathmodel.RootDirID, "dup")
	require.NoError(t, err)

	_, err = v.CreateDirectory(pathmodel.RootDirID, "dup")
	assert.ErrorIs(t, err, vaulterr.AlreadyExists)
}

func TestDirectoryIDStableAcrossListing(t *testing.T) {
	v := newTestVault(t)
	childID, err := v.CreateDirectory(pathmodel.RootDirID, "stable")
	require.NoError(t, err)

	entries, err := v.ListDecoded(pathmodel.RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, childID, entries[0].DirID)
}

func TestSymlinkRoundTrip(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.CreateSymlink(pathmodel.RootDirID, "link", "/target/path"))

	target, err := v.ReadSymlink(pathmodel.RootDirID, "link")
	require.NoError(t, err)
	assert.Equal(t, "/target/path", target)

	entries, err := v.ListDecoded(pathmodel.RootDirID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pathmodel.KindSymlink, entries[0].Kind)
}

func TestRenameWithinSameParent(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.WriteFile(pathmodel.RootDirID, "old.txt", bytes.NewReader([]byte("data"))))

	require.NoError(t, v.Rename(pathmodel.RootDirID, "old.txt", pathmodel.RootDirID, "new.txt"))

	_, err := v.ReadFile(pathmodel.RootDirID, "old.txt")
	assert.ErrorIs(t, err, vaulterr.NotFound)

	rc, err := v.ReadFile(pathmodel.RootDirID, "new.txt")
	require.NoError(t, err)
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "data", string(out))
}

func TestRenameAcrossParents(t *testing.T) {
	v := newTestVault(t)
	dstID, err := v.CreateDirectory(pathmodel.RootDirID, "dst")
	require.NoError(t, err)
	require.NoError(t, v.WriteFile(pathmodel.RootDirID, "moveme.txt", bytes.NewReader([]byte("payload"))))

	require.NoError(t, v.Rename(pathmodel.RootDirID, "moveme.txt", dstID, "moved.txt"))

	rc, err := v.ReadFile(dstID, "moved.txt")
	require.NoError(t, err)
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))
}

func TestRenameOverExistingNonFileRejected(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.WriteFile(pathmodel.RootDirID, "a.txt", bytes.NewReader([]byte("a"))))
	_, err := v.CreateDirectory(pathmodel.RootDirID, "b")
	require.NoError(t, err)

	err = v.Rename(pathmodel.RootDirID, "a.txt", pathmodel.RootDirID, "b")
	assert.ErrorIs(t, err, vaulterr.AlreadyExists)
}

func TestResolvePathNested(t *testing.T) {
	v := newTestVault(t)
	subID, err := v.CreateDirectory(pathmodel.RootDirID, "a")
	require.NoError(t, err)
	_, err = v.CreateDirectory(subID, "b")
	require.NoError(t, err)

	resolved, err := v.ResolvePath("/a/b")
	require.NoError(t, err)
	assert.Equal(t, pathmodel.KindDirectory, resolved.Kind)
	assert.NotEmpty(t, resolved.DirID)
	assert.Equal(t, subID, resolved.ParentDirID)
}
