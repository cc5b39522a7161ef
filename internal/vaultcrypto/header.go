package vaultcrypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderContentKeySize is the size of the per-file content key carried
	// inside the sealed header.
	HeaderContentKeySize = 32
	// HeaderReservedSize is the size of the header's reserved field.
	HeaderReservedSize = 8
	// HeaderReservedValue is the expected value of the reserved field.
	HeaderReservedValue uint64 = 0xFFFFFFFFFFFFFFFF
)

// FileHeader is the per-file header sealed at the start of every encrypted
// file: a random nonce, a random per-file content key, and a reserved field.
// Every chunk of the file is sealed with ContentKey and binds Nonce into its
// associated data (spec §3 invariant 6).
type FileHeader struct {
	Nonce      []byte
	ContentKey []byte
	Reserved   []byte
}

// NewHeader generates a fresh randomly initialized FileHeader appropriate
// for this cryptor's content cipher.
func (c *Cryptor) NewHeader() (FileHeader, error) {
	h := FileHeader{
		Nonce:      make([]byte, c.content.NonceSize()),
		ContentKey: make([]byte, HeaderContentKeySize),
		Reserved:   make([]byte, HeaderReservedSize),
	}
	if _, err := rand.Read(h.Nonce); err != nil {
		return FileHeader{}, err
	}
	if _, err := rand.Read(h.ContentKey); err != nil {
		return FileHeader{}, err
	}
	binary.BigEndian.PutUint64(h.Reserved, HeaderReservedValue)
	return h, nil
}

// MarshalHeader seals h for on-disk storage.
func (c *Cryptor) MarshalHeader(h FileHeader) ([]byte, error) {
	out, err := c.content.MarshalHeader(h)
	if err != nil {
		return nil, fmt.Errorf("marshal file header: %w", err)
	}
	return out, nil
}

// UnmarshalHeader opens a sealed on-disk header.
func (c *Cryptor) UnmarshalHeader(encHeader []byte) (FileHeader, error) {
	h, err := c.content.UnmarshalHeader(encHeader)
	if err != nil {
		return FileHeader{}, fmt.Errorf("unmarshal file header: %w", err)
	}
	return h, nil
}

// HeaderSize is the on-disk size of a sealed header for this cryptor.
func (c *Cryptor) HeaderSize() int { return c.content.HeaderSize() }
