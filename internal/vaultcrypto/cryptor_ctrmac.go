package vaultcrypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// ctrMacCryptor implements contentCryptor for the legacy SIV_CTRMAC cipher
// combo: AES-CTR chunk encryption with a detached HMAC-SHA256 tag. Kept for
// opening vaults created before Cryptomator 1.7 switched the default to GCM.
type ctrMacCryptor struct {
	block  cipher.Block
	macKey []byte
}

const (
	ctrMacNonceSize = 16
	ctrMacTagSize   = 32
)

func (*ctrMacCryptor) NonceSize() int { return ctrMacNonceSize }
func (*ctrMacCryptor) TagSize() int   { return ctrMacTagSize }

func (c *ctrMacCryptor) EncryptChunk(plaintext, nonce, aad []byte) []byte {
	out := make([]byte, len(plaintext))
	cipher.NewCTR(c.block, nonce).XORKeyStream(out, plaintext)

	var body bytes.Buffer
	body.Write(nonce)
	body.Write(out)

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(aad)
	mac.Write(body.Bytes())

	body.Write(mac.Sum(nil))
	return body.Bytes()
}

func (c *ctrMacCryptor) DecryptChunk(chunk, aad []byte) ([]byte, error) {
	if len(chunk) < ctrMacNonceSize+ctrMacTagSize {
		return nil, fmt.Errorf("chunk too short: %d bytes", len(chunk))
	}
	macStart := len(chunk) - ctrMacTagSize
	tag := chunk[macStart:]
	body := chunk[:macStart]

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(aad)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, fmt.Errorf("hmac verification failed")
	}

	nonce := body[:ctrMacNonceSize]
	ciphertext := body[ctrMacNonceSize:]
	out := make([]byte, len(ciphertext))
	cipher.NewCTR(c.block, nonce).XORKeyStream(out, ciphertext)
	return out, nil
}

func (*ctrMacCryptor) FileAssociatedData(headerNonce []byte, chunkNr uint64) []byte {
	var buf bytes.Buffer
	buf.Write(headerNonce)
	_ = binary.Write(&buf, binary.BigEndian, chunkNr)
	return buf.Bytes()
}

func (c *ctrMacCryptor) HeaderSize() int {
	return ctrMacNonceSize + HeaderReservedSize + HeaderContentKeySize + ctrMacTagSize
}

func (c *ctrMacCryptor) MarshalHeader(h FileHeader) ([]byte, error) {
	if len(h.Nonce) != ctrMacNonceSize {
		return nil, fmt.Errorf("bad header nonce length: %d", len(h.Nonce))
	}
	payload := make([]byte, 0, HeaderReservedSize+HeaderContentKeySize)
	payload = append(payload, h.Reserved...)
	payload = append(payload, h.ContentKey...)

	encPayload := make([]byte, len(payload))
	cipher.NewCTR(c.block, h.Nonce).XORKeyStream(encPayload, payload)

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(h.Nonce)
	mac.Write(encPayload)

	out := make([]byte, 0, c.HeaderSize())
	out = append(out, h.Nonce...)
	out = append(out, encPayload...)
	out = append(out, mac.Sum(nil)...)
	return out, nil
}

func (c *ctrMacCryptor) UnmarshalHeader(enc []byte) (FileHeader, error) {
	if len(enc) != c.HeaderSize() {
		return FileHeader{}, fmt.Errorf("bad header size: %d", len(enc))
	}
	nonce := enc[:ctrMacNonceSize]
	encPayload := enc[ctrMacNonceSize : len(enc)-ctrMacTagSize]
	tag := enc[len(enc)-ctrMacTagSize:]

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(nonce)
	mac.Write(encPayload)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return FileHeader{}, fmt.Errorf("header hmac verification failed")
	}

	payload := make([]byte, len(encPayload))
	cipher.NewCTR(c.block, nonce).XORKeyStream(payload, encPayload)

	return FileHeader{
		Nonce:      append([]byte{}, nonce...),
		Reserved:   append([]byte{}, payload[:HeaderReservedSize]...),
		ContentKey: append([]byte{}, payload[HeaderReservedSize:]...),
	}, nil
}
