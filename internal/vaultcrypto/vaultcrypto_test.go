package vaultcrypto

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var cipherCombos = []string{CipherComboSivGcm, CipherComboSivCtrMac}

func fixedSizeByteArray(n int) *rapid.Generator[[]byte] {
	return rapid.SliceOfN(rapid.Byte(), n, n)
}

func drawCipherCombo(t *rapid.T) string {
	return rapid.SampledFrom(cipherCombos).Draw(t, "cipherCombo")
}

func drawMasterKey(t *rapid.T) MasterKey {
	return MasterKey{
		EncryptKey: fixedSizeByteArray(MasterEncryptKeySize).Draw(t, "encKey"),
		MacKey:     fixedSizeByteArray(MasterMacKeySize).Draw(t, "macKey"),
	}
}

func drawTestCryptor(t *rapid.T) *Cryptor {
	key := NewKeyRef(drawMasterKey(t))
	defer key.Release()
	c, err := NewCryptor(key, drawCipherCombo(t))
	assert.NoError(t, err, "creating cryptor")
	return c
}

func TestMasterKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		passphrase := rapid.String().Draw(t, "passphrase")

		k1, err := NewMasterKey()
		assert.NoError(t, err)

		buf := &bytes.Buffer{}
		err = MarshalMasterKeyFile(buf, k1, passphrase)
		assert.NoError(t, err)
		assert.NotEmpty(t, buf.Bytes())

		k2, err := UnmarshalMasterKeyFile(buf, passphrase)
		assert.NoError(t, err)

		assert.Equal(t, k1, k2)
	})
}

func TestMasterKeyWrongPassphraseFails(t *testing.T) {
	k1, err := NewMasterKey()
	assert.NoError(t, err)

	buf := &bytes.Buffer{}
	assert.NoError(t, MarshalMasterKeyFile(buf, k1, "correct horse"))

	_, err = UnmarshalMasterKeyFile(buf, "wrong passphrase")
	assert.Error(t, err)
}

func TestEncryptDecryptFilename(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.String().Draw(t, "name")
		dirID := rapid.String().Draw(t, "dirID")
		cryptor := drawTestCryptor(t)

		encName, err := cryptor.EncryptFilename(name, dirID)
		assert.NoError(t, err)

		decName, err := cryptor.DecryptFilename(encName, dirID)
		assert.NoError(t, err)

		assert.Equal(t, name, decName)
	})
}

func TestDecryptFilenameWrongParentFails(t *testing.T) {
	cryptor := newFixedTestCryptor(t, CipherComboSivGcm)

	encName, err := cryptor.EncryptFilename("secret.txt", "dir-a")
	assert.NoError(t, err)

	_, err = cryptor.DecryptFilename(encName, "dir-b")
	assert.Error(t, err)
}

func TestEncryptDirIDStable(t *testing.T) {
	cryptor := newFixedTestCryptor(t, CipherComboSivGcm)

	a1, err := cryptor.EncryptDirID("some-dir-id")
	assert.NoError(t, err)
	a2, err := cryptor.EncryptDirID("some-dir-id")
	assert.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := cryptor.EncryptDirID("other-dir-id")
	assert.NoError(t, err)
	assert.NotEqual(t, a1, b)
}

func TestHeaderRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cryptor := drawTestCryptor(t)

		h1, err := cryptor.NewHeader()
		assert.NoError(t, err)

		enc, err := cryptor.MarshalHeader(h1)
		assert.NoError(t, err)
		assert.Len(t, enc, cryptor.HeaderSize())

		h2, err := cryptor.UnmarshalHeader(enc)
		assert.NoError(t, err)
		assert.Equal(t, h1, h2)
	})
}

func TestHeaderTamperDetected(t *testing.T) {
	cryptor := newFixedTestCryptor(t, CipherComboSivGcm)

	h, err := cryptor.NewHeader()
	assert.NoError(t, err)
	enc, err := cryptor.MarshalHeader(h)
	assert.NoError(t, err)

	tampered := append([]byte{}, enc...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = cryptor.UnmarshalHeader(tampered)
	assert.Error(t, err)
}

func TestStreamRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stepSize := rapid.SampledFrom([]int{1, 512, 600, 1000, 31 * 1024, ChunkPayloadSize, ChunkPayloadSize + 1}).Draw(t, "stepSize")
		length := rapid.IntRange(0, 40000).Draw(t, "length")

		src := fixedSizeByteArray(length).Draw(t, "src")
		cryptor := drawTestCryptor(t)

		buf := &bytes.Buffer{}
		w, err := cryptor.NewWriter(buf)
		assert.NoError(t, err)

		n := 0
		for n < length {
			b := length - n
			if b > stepSize {
				b = stepSize
			}
			nn, err := w.Write(src[n : n+b])
			assert.NoError(t, err)
			assert.Equal(t, b, nn)
			n += nn
		}
		assert.NoError(t, w.Close())

		r, err := cryptor.NewReader(buf)
		assert.NoError(t, err)

		out, err := io.ReadAll(r)
		assert.NoError(t, err)
		assert.Equal(t, src, out)
	})
}

func TestStreamEmptyFileHasHeaderOnly(t *testing.T) {
	cryptor := newFixedTestCryptor(t, CipherComboSivGcm)

	buf := &bytes.Buffer{}
	w, err := cryptor.NewWriter(buf)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	assert.Equal(t, cryptor.HeaderSize(), buf.Len())

	r, err := cryptor.NewReader(buf)
	assert.NoError(t, err)
	out, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestStreamChunkTamperDetected(t *testing.T) {
	cryptor := newFixedTestCryptor(t, CipherComboSivGcm)

	buf := &bytes.Buffer{}
	w, err := cryptor.NewWriter(buf)
	assert.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("x"), 100))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	sealed := buf.Bytes()
	sealed[len(sealed)-1] ^= 0xFF

	r, err := cryptor.NewReader(bytes.NewReader(sealed))
	assert.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.Error(t, err)
}

func TestEncryptedFileSizeRoundTripsWithDecryptedFileSize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.Int64Range(0, 5*1024*1024).Draw(t, "size")
		cryptor := drawTestCryptor(t)

		enc := cryptor.EncryptedFileSize(size)
		dec := cryptor.DecryptedFileSize(enc)
		assert.Equal(t, size, dec)
	})
}

func TestEncryptedFileSizeKnownValues(t *testing.T) {
	cryptor := newFixedTestCryptor(t, CipherComboSivGcm)

	assert.EqualValues(t, cryptor.HeaderSize()+100+28, cryptor.EncryptedFileSize(100))
	assert.EqualValues(t, cryptor.HeaderSize(), cryptor.EncryptedFileSize(0))
}

func newFixedTestCryptor(t *testing.T, cipherCombo string) *Cryptor {
	t.Helper()
	key := NewKeyRef(MasterKey{
		EncryptKey: bytes.Repeat([]byte{0x11}, MasterEncryptKeySize),
		MacKey:     bytes.Repeat([]byte{0x22}, MasterMacKeySize),
	})
	defer key.Release()
	c, err := NewCryptor(key, cipherCombo)
	assert.NoError(t, err)
	return c
}
