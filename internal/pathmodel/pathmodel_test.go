package pathmodel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cryptovault/vault/internal/vaultcrypto"
)

func newTestCryptor(t *rapid.T) *vaultcrypto.Cryptor {
	key, err := vaultcrypto.NewMasterKey()
	assert.NoError(t, err)
	ref := vaultcrypto.NewKeyRef(key)
	defer ref.Release()
	c, err := vaultcrypto.NewCryptor(ref, vaultcrypto.CipherComboSivGcm)
	assert.NoError(t, err)
	return c
}

func TestEncodeDecodeNameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cryptor := newTestCryptor(t)
		codec := NewNameCodec(cryptor, 220)

		name := rapid.String().Draw(t, "name")
		parentDirID := rapid.String().Draw(t, "parentDirID")

		enc, err := codec.EncodeName(name, parentDirID)
		assert.NoError(t, err)

		readLong := func() (string, error) { return enc.FullEncryptedName, nil }
		decoded, err := codec.DecodeName(enc.DiskName, parentDirID, readLong)
		assert.NoError(t, err)
		assert.Equal(t, name, decoded)
	})
}

func TestEncodeNameShortensAboveThreshold(t *testing.T) {
	key, err := vaultcrypto.NewMasterKey()
	require.NoError(t, err)
	ref := vaultcrypto.NewKeyRef(key)
	defer ref.Release()
	cryptor, err := vaultcrypto.NewCryptor(ref, vaultcrypto.CipherComboSivGcm)
	require.NoError(t, err)

	codec := NewNameCodec(cryptor, 10)
	enc, err := codec.EncodeName("a-fairly-long-plaintext-file-name.txt", "")
	require.NoError(t, err)

	assert.True(t, enc.Shortened)
	assert.True(t, strings.HasSuffix(enc.DiskName, shortSuffix))
	assert.True(t, strings.HasSuffix(enc.FullEncryptedName, fileSuffix))
	// A shortened name is the padded base64url SHA-1 of the full encrypted
	// name (28 chars) plus ".c9s", whatever the threshold.
	assert.Len(t, enc.DiskName, 32)
}

func TestEncodeNameKeepsShortNameDirect(t *testing.T) {
	key, err := vaultcrypto.NewMasterKey()
	require.NoError(t, err)
	ref := vaultcrypto.NewKeyRef(key)
	defer ref.Release()
	cryptor, err := vaultcrypto.NewCryptor(ref, vaultcrypto.CipherComboSivGcm)
	require.NoError(t, err)

	codec := NewNameCodec(cryptor, 220)
	enc, err := codec.EncodeName("short.txt", "")
	require.NoError(t, err)

	assert.False(t, enc.Shortened)
	assert.Equal(t, enc.DiskName, enc.FullEncryptedName)
}

func TestDirStoragePathStableAndFannedOut(t *testing.T) {
	key, err := vaultcrypto.NewMasterKey()
	require.NoError(t, err)
	ref := vaultcrypto.NewKeyRef(key)
	defer ref.Release()
	cryptor, err := vaultcrypto.NewCryptor(ref, vaultcrypto.CipherComboSivGcm)
	require.NoError(t, err)

	p1, err := DirStoragePath(cryptor, "some-dir-id")
	require.NoError(t, err)
	p2, err := DirStoragePath(cryptor, "some-dir-id")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	parts := strings.Split(p1, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, "d", parts[0])
	assert.Len(t, parts[1], 2)
}

func TestDirStoragePathRootDiffersFromNamedDir(t *testing.T) {
	key, err := vaultcrypto.NewMasterKey()
	require.NoError(t, err)
	ref := vaultcrypto.NewKeyRef(key)
	defer ref.Release()
	cryptor, err := vaultcrypto.NewCryptor(ref, vaultcrypto.CipherComboSivGcm)
	require.NoError(t, err)

	root, err := DirStoragePath(cryptor, RootDirID)
	require.NoError(t, err)
	other, err := DirStoragePath(cryptor, "child-dir-id")
	require.NoError(t, err)
	assert.NotEqual(t, root, other)
}
