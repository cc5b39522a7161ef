package vaultcrypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// NewReader wraps src, which must begin with a sealed file header, and
// returns a reader yielding decrypted plaintext. Each 32 KiB+overhead chunk
// is verified and decrypted lazily as the caller reads.
func (c *Cryptor) NewReader(src io.Reader) (io.Reader, error) {
	headerBuf := make([]byte, c.content.HeaderSize())
	if _, err := io.ReadFull(src, headerBuf); err != nil {
		return nil, fmt.Errorf("read file header: %w", err)
	}
	header, err := c.UnmarshalHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	return c.newContentReader(src, header)
}

func (c *Cryptor) newContentReader(src io.Reader, header FileHeader) (*chunkReader, error) {
	chunkCryptor, err := newContentCryptor(c.cipherCombo, header.ContentKey, c.key)
	if err != nil {
		return nil, err
	}
	return &chunkReader{
		cryptor: chunkCryptor,
		header:  header,
		src:     src,
		buf:     make([]byte, ChunkPayloadSize+chunkCryptor.NonceSize()+chunkCryptor.TagSize()),
	}, nil
}

// chunkReader decrypts chunks of a sealed file content stream in order.
type chunkReader struct {
	cryptor contentCryptor
	header  FileHeader
	src     io.Reader

	unread []byte
	buf    []byte

	chunkNr uint64
	err     error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.unread) > 0 {
		n := copy(p, r.unread)
		r.unread = r.unread[n:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	done, err := r.readChunk()
	if err != nil {
		r.err = err
		return 0, err
	}

	n := copy(p, r.unread)
	r.unread = r.unread[n:]

	if done {
		r.err = io.EOF
	}
	return n, nil
}

// readChunk pulls and decrypts the next on-disk chunk. It tolerates both a
// short final read (no trailing empty chunk, the common case) and an exact
// full-size final read followed by a subsequent empty chunk, per spec §9's
// open question on last-chunk size.
func (r *chunkReader) readChunk() (last bool, err error) {
	n, err := io.ReadFull(r.src, r.buf)
	switch {
	case errors.Is(err, io.EOF):
		return true, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		last = true
	case err != nil:
		return false, err
	}

	chunk := r.buf[:n]
	aad := r.cryptor.FileAssociatedData(r.header.Nonce, r.chunkNr)
	plaintext, err := r.cryptor.DecryptChunk(chunk, aad)
	if err != nil {
		return false, fmt.Errorf("decrypt chunk %d: %w", r.chunkNr, err)
	}

	r.chunkNr++
	r.unread = plaintext
	return last, nil
}

// NewWriter writes a fresh random file header to dst and returns a writer
// that seals plaintext written to it into 32 KiB chunks.
func (c *Cryptor) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	header, err := c.NewHeader()
	if err != nil {
		return nil, err
	}
	encHeader, err := c.MarshalHeader(header)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(encHeader); err != nil {
		return nil, fmt.Errorf("write file header: %w", err)
	}
	return c.newContentWriter(dst, header)
}

func (c *Cryptor) newContentWriter(dst io.Writer, header FileHeader) (*chunkWriter, error) {
	chunkCryptor, err := newContentCryptor(c.cipherCombo, header.ContentKey, c.key)
	if err != nil {
		return nil, err
	}
	return &chunkWriter{
		cryptor: chunkCryptor,
		header:  header,
		dst:     dst,
		buf:     make([]byte, 0, ChunkPayloadSize),
	}, nil
}

// chunkWriter seals plaintext writes into fixed-size chunks.
type chunkWriter struct {
	cryptor contentCryptor
	header  FileHeader
	dst     io.Writer

	buf     []byte
	chunkNr uint64
	closed  bool
	err     error
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	total := len(p)
	for len(p) > 0 {
		free := ChunkPayloadSize - len(w.buf)
		n := copy(w.buf[len(w.buf):ChunkPayloadSize:ChunkPayloadSize], p[:min(free, len(p))])
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]

		if len(w.buf) == ChunkPayloadSize && len(p) > 0 {
			if err := w.flush(); err != nil {
				w.err = err
				return 0, err
			}
		}
	}
	return total, nil
}

// Close flushes any buffered plaintext as the final chunk. It never emits a
// trailing empty chunk for a non-empty file, and writes no chunk at all for
// a zero-byte file body, so an empty file is its header alone (zero chunks
// iff the plaintext is empty).
func (w *chunkWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if len(w.buf) == 0 && w.chunkNr == 0 {
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.flush(); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}

func (w *chunkWriter) flush() error {
	nonce := make([]byte, w.cryptor.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate chunk nonce: %w", err)
	}
	aad := w.cryptor.FileAssociatedData(w.header.Nonce, w.chunkNr)
	sealed := w.cryptor.EncryptChunk(w.buf, nonce, aad)
	if _, err := w.dst.Write(sealed); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.chunkNr++
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
