package vaultcrypto

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// gcmCryptor implements contentCryptor for the SIV_GCM cipher combo: AES-GCM
// chunk sealing with a 12-byte nonce and 16-byte tag.
type gcmCryptor struct {
	aead cipher.AEAD
}

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

func (*gcmCryptor) NonceSize() int { return gcmNonceSize }
func (*gcmCryptor) TagSize() int   { return gcmTagSize }

func (c *gcmCryptor) EncryptChunk(plaintext, nonce, aad []byte) []byte {
	var buf bytes.Buffer
	buf.Write(nonce)
	buf.Write(c.aead.Seal(nil, nonce, plaintext, aad))
	return buf.Bytes()
}

func (c *gcmCryptor) DecryptChunk(chunk, aad []byte) ([]byte, error) {
	if len(chunk) < gcmNonceSize {
		return nil, fmt.Errorf("chunk too short: %d bytes", len(chunk))
	}
	nonce := chunk[:gcmNonceSize]
	return c.aead.Open(nil, nonce, chunk[gcmNonceSize:], aad)
}

func (*gcmCryptor) FileAssociatedData(headerNonce []byte, chunkNr uint64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, chunkNr)
	buf.Write(headerNonce)
	return buf.Bytes()
}

func (c *gcmCryptor) HeaderSize() int {
	return gcmNonceSize + HeaderContentKeySize + HeaderReservedSize + gcmTagSize
}

func (c *gcmCryptor) MarshalHeader(h FileHeader) ([]byte, error) {
	payload := make([]byte, 0, HeaderReservedSize+HeaderContentKeySize)
	payload = append(payload, h.Reserved...)
	payload = append(payload, h.ContentKey...)

	nonce := make([]byte, gcmNonceSize)
	if len(h.Nonce) != gcmNonceSize {
		return nil, fmt.Errorf("bad header nonce length: %d", len(h.Nonce))
	}
	copy(nonce, h.Nonce)

	sealed := c.aead.Seal(nil, nonce, payload, nil)
	out := make([]byte, 0, gcmNonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (c *gcmCryptor) UnmarshalHeader(enc []byte) (FileHeader, error) {
	if len(enc) != c.HeaderSize() {
		return FileHeader{}, fmt.Errorf("bad header size: %d", len(enc))
	}
	nonce := enc[:gcmNonceSize]
	payload, err := c.aead.Open(nil, nonce, enc[gcmNonceSize:], nil)
	if err != nil {
		return FileHeader{}, err
	}
	return FileHeader{
		Nonce:      append([]byte{}, nonce...),
		Reserved:   append([]byte{}, payload[:HeaderReservedSize]...),
		ContentKey: append([]byte{}, payload[HeaderReservedSize:]...),
	}, nil
}
