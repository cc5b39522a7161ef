// Package vaultcrypto implements the cryptographic primitives of a
// Cryptomator-format vault: master key wrapping, AEAD chunk sealing,
// AES-SIV filename encryption, and directory-ID hashing.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	aeswrap "github.com/NickBall/go-aes-key-wrap"
	"golang.org/x/crypto/scrypt"
)

const (
	// MasterEncryptKeySize is the size in bytes of the master encryption key.
	MasterEncryptKeySize = 32
	// MasterMacKeySize is the size in bytes of the master MAC key.
	MasterMacKeySize = MasterEncryptKeySize
	// MasterDefaultVersion is the legacy version tag written for new vaults.
	MasterDefaultVersion = 999
	// DefaultScryptCostParam is the scrypt N parameter used for new vaults.
	DefaultScryptCostParam = 32 * 1024
	// DefaultScryptBlockSize is the scrypt r parameter used for new vaults.
	DefaultScryptBlockSize = 8
	// DefaultScryptSaltSize is the size in bytes of a newly generated scrypt salt.
	DefaultScryptSaltSize = 32
)

// MasterKey holds the two independent 256-bit secrets that scope access to a
// vault: the AEAD/SIV encryption key and the legacy HMAC/MAC key. Callers
// must never hold a copy of these bytes longer than necessary; use a
// KeyRef and the With* helpers below to keep exposure scoped and zeroed.
type MasterKey struct {
	EncryptKey []byte
	MacKey     []byte
}

// NewMasterKey generates a fresh random MasterKey.
func NewMasterKey() (MasterKey, error) {
	var m MasterKey
	m.EncryptKey = make([]byte, MasterEncryptKeySize)
	m.MacKey = make([]byte, MasterMacKeySize)
	if _, err := rand.Read(m.EncryptKey); err != nil {
		return MasterKey{}, err
	}
	if _, err := rand.Read(m.MacKey); err != nil {
		return MasterKey{}, err
	}
	return m, nil
}

// Zero overwrites both key slices in place. Safe to call on a zero MasterKey.
func (m MasterKey) Zero() {
	for i := range m.EncryptKey {
		m.EncryptKey[i] = 0
	}
	for i := range m.MacKey {
		m.MacKey[i] = 0
	}
}

// scryptParams is the per-vault scrypt tuning, stored alongside the wrapped
// key rather than assumed globally constant (original_source carries a
// per-file salt/cost/blockSize triple; we follow that rather than the
// simpler "one constant forever" reading of the distilled spec).
type scryptParams struct {
	Salt      []byte
	CostParam int
	BlockSize int
}

type wireMasterKey struct {
	ScryptSalt       []byte `json:"scryptSalt"`
	ScryptCostParam  int    `json:"scryptCostParam"`
	ScryptBlockSize  int    `json:"scryptBlockSize"`
	PrimaryMasterKey []byte `json:"primaryMasterKey"`
	HmacMasterKey    []byte `json:"hmacMasterKey"`

	// Version and VersionMac are a legacy format field the vault's signed
	// config (vaultconfig) has superseded; retained only for on-disk
	// byte-compatibility with older vaults, never consulted by this runtime.
	Version    uint32 `json:"version"`
	VersionMac []byte `json:"versionMac"`
}

// MarshalMasterKeyFile encrypts m with a key derived from passphrase via
// scrypt and writes the masterkey.cryptomator JSON document to w.
func MarshalMasterKeyFile(w io.Writer, m MasterKey, passphrase string) error {
	params := scryptParams{
		Salt:      make([]byte, DefaultScryptSaltSize),
		CostParam: DefaultScryptCostParam,
		BlockSize: DefaultScryptBlockSize,
	}
	if _, err := rand.Read(params.Salt); err != nil {
		return fmt.Errorf("generate scrypt salt: %w", err)
	}

	kek, err := scrypt.Key([]byte(passphrase), params.Salt, params.CostParam, params.BlockSize, 1, MasterEncryptKeySize)
	if err != nil {
		return fmt.Errorf("derive key-encryption key: %w", err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return err
	}

	wire := wireMasterKey{
		ScryptSalt:      params.Salt,
		ScryptCostParam: params.CostParam,
		ScryptBlockSize: params.BlockSize,
		Version:         MasterDefaultVersion,
	}
	if wire.PrimaryMasterKey, err = aeswrap.Wrap(block, m.EncryptKey); err != nil {
		return fmt.Errorf("wrap primary key: %w", err)
	}
	if wire.HmacMasterKey, err = aeswrap.Wrap(block, m.MacKey); err != nil {
		return fmt.Errorf("wrap mac key: %w", err)
	}

	mac := hmac.New(sha256.New, m.MacKey)
	_ = binary.Write(mac, binary.BigEndian, wire.Version)
	wire.VersionMac = mac.Sum(nil)

	return json.NewEncoder(w).Encode(wire)
}

// UnmarshalMasterKeyFile reads and decrypts a masterkey.cryptomator document
// with passphrase.
func UnmarshalMasterKeyFile(r io.Reader, passphrase string) (MasterKey, error) {
	var wire wireMasterKey
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return MasterKey{}, fmt.Errorf("parse master key file: %w", err)
	}

	kek, err := scrypt.Key([]byte(passphrase), wire.ScryptSalt, wire.ScryptCostParam, wire.ScryptBlockSize, 1, MasterEncryptKeySize)
	if err != nil {
		return MasterKey{}, fmt.Errorf("derive key-encryption key: %w", err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return MasterKey{}, err
	}

	var m MasterKey
	if m.EncryptKey, err = aeswrap.Unwrap(block, wire.PrimaryMasterKey); err != nil {
		return MasterKey{}, fmt.Errorf("unwrap primary key: %w", err)
	}
	if m.MacKey, err = aeswrap.Unwrap(block, wire.HmacMasterKey); err != nil {
		return MasterKey{}, fmt.Errorf("unwrap mac key: %w", err)
	}
	return m, nil
}

// jwtSigningKey returns the bytes used to sign/verify the vault config JWT.
// Not exported: callers reach it only via KeyRef.WithJWTKey.
func (m MasterKey) jwtSigningKey() []byte {
	return append(append([]byte{}, m.EncryptKey...), m.MacKey...)
}

// KeyRef is a reference-counted, zeroing wrapper around a MasterKey. Multiple
// vault-internal components (cryptor, scheduler handlers, adapters) may hold
// a KeyRef; the underlying key is zeroed only once the last reference is
// released. All access to the raw key bytes goes through the With* closures,
// never through a public getter.
type KeyRef struct {
	key  MasterKey
	refs *int32
}

// NewKeyRef wraps key in a fresh, single-owner KeyRef.
func NewKeyRef(key MasterKey) *KeyRef {
	refs := int32(1)
	return &KeyRef{key: key, refs: &refs}
}

// Clone returns an independent KeyRef sharing the same underlying key and
// refcount; releasing either does not zero the key until both are released.
func (k *KeyRef) Clone() *KeyRef {
	atomic.AddInt32(k.refs, 1)
	return &KeyRef{key: k.key, refs: k.refs}
}

// Release decrements the refcount, zeroing the underlying key bytes once it
// reaches zero.
func (k *KeyRef) Release() {
	if atomic.AddInt32(k.refs, -1) == 0 {
		k.key.Zero()
	}
}

// WithRawKey invokes fn with the two raw key slices. The slices must not be
// retained past fn's return.
func (k *KeyRef) WithRawKey(fn func(encryptKey, macKey []byte)) {
	fn(k.key.EncryptKey, k.key.MacKey)
}

// WithAESKey invokes fn with the raw AES (content encryption) key.
func (k *KeyRef) WithAESKey(fn func(key []byte)) {
	fn(k.key.EncryptKey)
}

// WithMACKey invokes fn with the raw legacy MAC key.
func (k *KeyRef) WithMACKey(fn func(key []byte)) {
	fn(k.key.MacKey)
}

// WithSIVKey invokes fn with the SIV key, which per the Cryptomator format is
// the concatenation MacKey||EncryptKey.
func (k *KeyRef) WithSIVKey(fn func(key []byte)) {
	siv := make([]byte, 0, len(k.key.MacKey)+len(k.key.EncryptKey))
	siv = append(siv, k.key.MacKey...)
	siv = append(siv, k.key.EncryptKey...)
	defer func() {
		for i := range siv {
			siv[i] = 0
		}
	}()
	fn(siv)
}

// WithJWTKey invokes fn with the vault-config signing key (the
// concatenation EncryptKey||MacKey used to sign/verify vault.cryptomator).
func (k *KeyRef) WithJWTKey(fn func(key []byte)) {
	key := k.key.jwtSigningKey()
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	fn(key)
}
