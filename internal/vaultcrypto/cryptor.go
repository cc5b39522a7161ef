package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //nolint:gosec // format-mandated, see spec §9
	"encoding/base32"
	"encoding/base64"
	"fmt"

	"github.com/miscreant/miscreant.go"
)

// Cipher combo identifiers, as stored in the vault config's cipherCombo
// field. SIV_GCM is the current default; SIV_CTRMAC is the legacy combo a
// pre-1.7 vault may still use and which this runtime must still be able to
// open.
const (
	CipherComboSivGcm    = "SIV_GCM"
	CipherComboSivCtrMac = "SIV_CTRMAC"
)

// ChunkPayloadSize is the fixed plaintext size of every chunk but the last.
const ChunkPayloadSize = 32 * 1024

// contentCryptor seals/opens individual file chunks and file headers. The
// two concrete implementations (gcmCryptor, ctrMacCryptor) both live in
// their own files, matching the cipher combo they implement.
type contentCryptor interface {
	EncryptChunk(plaintext, nonce, aad []byte) []byte
	DecryptChunk(chunk, aad []byte) ([]byte, error)
	FileAssociatedData(headerNonce []byte, chunkNr uint64) []byte
	NonceSize() int
	TagSize() int

	MarshalHeader(header FileHeader) ([]byte, error)
	UnmarshalHeader(encHeader []byte) (FileHeader, error)
	HeaderSize() int
}

// Cryptor performs all per-vault cryptographic operations: filename
// encryption, directory-ID hashing, and (via contentCryptor) file sealing.
type Cryptor struct {
	key         *KeyRef
	siv         *miscreant.Cipher
	cipherCombo string
	content     contentCryptor
}

// NewCryptor builds a Cryptor for the given master key and cipher combo, as
// declared in the vault's signed config.
func NewCryptor(key *KeyRef, cipherCombo string) (*Cryptor, error) {
	c := &Cryptor{key: key.Clone(), cipherCombo: cipherCombo}

	var sivErr error
	key.WithSIVKey(func(sivKey []byte) {
		c.siv, sivErr = miscreant.NewAESCMACSIV(sivKey)
	})
	if sivErr != nil {
		return nil, fmt.Errorf("init AES-SIV: %w", sivErr)
	}

	var err error
	key.WithAESKey(func(aesKey []byte) {
		c.content, err = newContentCryptor(cipherCombo, aesKey, key)
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

func newContentCryptor(cipherCombo string, aesKey []byte, key *KeyRef) (contentCryptor, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}

	switch cipherCombo {
	case CipherComboSivGcm:
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &gcmCryptor{aead: aead}, nil
	case CipherComboSivCtrMac:
		var macKey []byte
		key.WithMACKey(func(k []byte) { macKey = append([]byte{}, k...) })
		return &ctrMacCryptor{block: block, macKey: macKey}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher combo %q", cipherCombo)
	}
}

// Close releases the Cryptor's reference to the master key.
func (c *Cryptor) Close() { c.key.Release() }

// EncryptDirID computes the on-disk hash of a directory ID: the first two
// path segment bytes plus the remaining thirty of
// base32(sha1(siv_encrypt(id))).
func (c *Cryptor) EncryptDirID(dirID string) (string, error) {
	ciphertext, err := c.siv.Seal(nil, []byte(dirID))
	if err != nil {
		return "", fmt.Errorf("seal directory id: %w", err)
	}
	sum := sha1.Sum(ciphertext) //nolint:gosec // format-mandated
	return base32.StdEncoding.EncodeToString(sum[:]), nil
}

// EncryptFilename encrypts a plaintext name for storage inside the directory
// identified by parentDirID.
func (c *Cryptor) EncryptFilename(name, parentDirID string) (string, error) {
	ciphertext, err := c.siv.Seal(nil, []byte(name), []byte(parentDirID))
	if err != nil {
		return "", fmt.Errorf("seal filename: %w", err)
	}
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// DecryptFilename recovers the plaintext name for an on-disk encrypted name
// inside the directory identified by parentDirID.
func (c *Cryptor) DecryptFilename(encodedName, parentDirID string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encodedName)
	if err != nil {
		return "", fmt.Errorf("decode filename: %w", err)
	}
	plaintext, err := c.siv.Open(nil, ciphertext, []byte(parentDirID))
	if err != nil {
		return "", fmt.Errorf("open filename: %w", err)
	}
	return string(plaintext), nil
}

// EncryptedChunkSize returns the on-disk size of a sealed chunk holding
// payloadSize plaintext bytes.
func (c *Cryptor) EncryptedChunkSize(payloadSize int) int {
	return c.content.NonceSize() + payloadSize + c.content.TagSize()
}

// EncryptedFileSize returns the total on-disk size (header + chunks) for a
// file whose plaintext is size bytes.
func (c *Cryptor) EncryptedFileSize(size int64) int64 {
	overhead := int64(c.content.NonceSize() + c.content.TagSize())
	fullChunks := size / ChunkPayloadSize
	rest := size % ChunkPayloadSize
	total := int64(c.content.HeaderSize()) + fullChunks*(ChunkPayloadSize+overhead)
	if rest > 0 {
		total += rest + overhead
	}
	return total
}

// DecryptedFileSize is the inverse of EncryptedFileSize: the plaintext size
// implied by an on-disk size. Invariant 5 of spec §3 requires this to be
// exact and well defined.
func (c *Cryptor) DecryptedFileSize(size int64) int64 {
	overhead := int64(c.content.NonceSize() + c.content.TagSize())
	size -= int64(c.content.HeaderSize())
	if size <= 0 {
		return 0
	}
	fullChunks := size / (ChunkPayloadSize + overhead)
	rest := size % (ChunkPayloadSize + overhead)
	total := fullChunks * ChunkPayloadSize
	if rest > 0 {
		total += rest - overhead
	}
	return total
}
