// Package vaultconfig handles the signed JWT vault configuration
// (vault.cryptomator), names both on-disk control documents, and holds the
// runtime tunables an open vault is parameterized by. Reading and writing
// the wrapped master key file itself is done in vaultcrypto.
package vaultconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/cryptovault/vault/internal/vaultcrypto"
)

const (
	// DefaultFormat is the only vault format version this runtime opens.
	DefaultFormat = 8
	// DefaultShorteningThreshold is the on-disk name length above which the
	// .c9s indirection is used for a newly created vault.
	DefaultShorteningThreshold = 220

	configKeyIDTag    = "kid"
	ConfigFileName    = "vault.cryptomator"
	MasterKeyFileName = "masterkey.cryptomator"
)

// keyID identifies, within a vault config JWT's header, which master key
// file backs the signature: "<scheme>:<uri>".
type keyID string

func (k keyID) uri() string {
	parts := strings.SplitN(string(k), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// VaultConfig is the signed document stored in vault.cryptomator.
type VaultConfig struct {
	Format              int    `json:"format"`
	ShorteningThreshold int    `json:"shorteningThreshold"`
	Jti                 string `json:"jti"`
	CipherCombo         string `json:"cipherCombo"`
}

// New builds the default configuration for a freshly created vault.
func New(cipherCombo string) VaultConfig {
	return VaultConfig{
		Format:              DefaultFormat,
		ShorteningThreshold: DefaultShorteningThreshold,
		Jti:                 uuid.NewString(),
		CipherCombo:         cipherCombo,
	}
}

// Valid is invoked by jwt.ParseWithClaims during verification.
func (c *VaultConfig) Valid() error {
	if c.Format != DefaultFormat {
		return fmt.Errorf("unsupported vault format: %d", c.Format)
	}
	return nil
}

// Marshal signs c as a JWT under key, naming MasterKeyFileName as the
// signing key's location in the token header.
func Marshal(c VaultConfig, key *vaultcrypto.KeyRef) ([]byte, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	token.Header[configKeyIDTag] = "masterkeyfile:" + MasterKeyFileName

	var raw string
	var signErr error
	key.WithJWTKey(func(k []byte) {
		raw, signErr = token.SignedString(k)
	})
	if signErr != nil {
		return nil, fmt.Errorf("sign vault config: %w", signErr)
	}
	return []byte(raw), nil
}

// Unmarshal parses and verifies a vault config JWT. keyFunc is invoked with
// the master key URI named in the token header and must return the
// corresponding key; it is typically backed by reading and unwrapping
// masterkey.cryptomator with the vault passphrase.
func Unmarshal(tokenBytes []byte, keyFunc func(masterKeyURI string) (*vaultcrypto.KeyRef, error)) (VaultConfig, error) {
	var c VaultConfig
	_, err := jwt.ParseWithClaims(string(tokenBytes), &c, func(token *jwt.Token) (interface{}, error) {
		kidObj, ok := token.Header[configKeyIDTag]
		if !ok {
			return nil, errors.New("vault config jwt missing kid header")
		}
		kidStr, ok := kidObj.(string)
		if !ok {
			return nil, errors.New("vault config jwt kid header is not a string")
		}
		key, err := keyFunc(keyID(kidStr).uri())
		if err != nil {
			return nil, err
		}
		var k []byte
		key.WithJWTKey(func(raw []byte) { k = append([]byte{}, raw...) })
		return k, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return VaultConfig{}, fmt.Errorf("parse vault config: %w", err)
	}
	return c, nil
}

// RuntimeConfig carries the ambient tunables an open vault uses beyond its
// on-disk format, assembled by the caller (CLI flag parsing is out of
// scope).
type RuntimeConfig struct {
	// AttrCacheTTLSeconds and NegativeCacheTTLSeconds govern the attribute and
	// negative-lookup caches.
	AttrCacheTTLSeconds     int
	NegativeCacheTTLSeconds int
	// DirListingCacheTTLSeconds governs the directory-listing cache.
	DirListingCacheTTLSeconds int
	// ContentCacheBytes is the byte capacity of the content read cache.
	ContentCacheBytes int64

	// LaneCapacities holds the buffered channel size per scheduler lane,
	// indexed by lane (0=Control .. 4=Bulk).
	LaneCapacities [5]int
	// ExecutorMin and ExecutorMax bound the executor pool size before the
	// clamp(GOMAXPROCS, min, max) rule is applied.
	ExecutorMin int
	ExecutorMax int
	// QuietThreshold is the default L4 admission quiet threshold.
	QuietThreshold int
	// ReservedMetadataSlots and ReservedWriteSlots are r1/r3 from the L4
	// admission rule.
	ReservedMetadataSlots int
	ReservedWriteSlots    int
	// L2Weight and L3Weight set the weighted round-robin ratio between
	// foreground reads and structural writes when both are backlogged.
	L2Weight int
	L3Weight int

	// DedupEnabled and PerFileOrderingEnabled are carried in the config but
	// are not read by handlerapi or the scheduler: single-flight dedup
	// applies to every job with a DedupKey, and per-inode ordering with
	// barrier semantics to every job with an Inode, whatever these say.
	DedupEnabled           bool
	PerFileOrderingEnabled bool
}

// DefaultRuntimeConfig returns the tunables this implementation uses absent
// any caller override.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		AttrCacheTTLSeconds:       5,
		NegativeCacheTTLSeconds:   5,
		DirListingCacheTTLSeconds: 5,
		ContentCacheBytes:         64 * 1024 * 1024,
		LaneCapacities:            [5]int{64, 128, 256, 256, 64},
		ExecutorMin:               2,
		ExecutorMax:               8,
		QuietThreshold:            8,
		ReservedMetadataSlots:     1,
		ReservedWriteSlots:        1,
		L2Weight:                  2,
		L3Weight:                  2,
		DedupEnabled:              true,
		PerFileOrderingEnabled:    true,
	}
}
