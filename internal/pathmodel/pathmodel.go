// Package pathmodel implements the bijection between plaintext vault paths
// and the on-disk object layout: encrypted names, the .c9s long-name
// fallback, and the directory-ID fan-out used to locate a directory's
// contents.
package pathmodel

import (
	"crypto/sha1" //nolint:gosec // format-mandated, see spec §9
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/cryptovault/vault/internal/vaultcrypto"
)

const (
	fileSuffix     = ".c9r"
	shortSuffix    = ".c9s"
	dirMarkerName  = "dir.c9r"
	dirBackupName  = "dirid.c9r"
	symlinkMarker  = "symlink.c9r"
	contentsMarker = "contents.c9r"
	longNameFile   = "name.c9s"

	// RootDirID is the contents-namespace ID of the vault root.
	RootDirID = ""
)

// ObjectKind distinguishes the three kinds of vault entries.
type ObjectKind int

const (
	KindFile ObjectKind = iota
	KindDirectory
	KindSymlink
)

// NameCodec derives on-disk object names from plaintext names and vice
// versa, honoring a vault's shortening threshold.
type NameCodec struct {
	cryptor   *vaultcrypto.Cryptor
	threshold int
}

// NewNameCodec builds a NameCodec bound to cryptor, applying threshold as
// the vault's shortening threshold (read once at vault open; changing it
// for an existing vault is a format-breaking event this codec does not
// attempt to handle).
func NewNameCodec(cryptor *vaultcrypto.Cryptor, threshold int) *NameCodec {
	return &NameCodec{cryptor: cryptor, threshold: threshold}
}

// EncodedName is the on-disk representation of a single plaintext entry:
// either a plain "<enc>.c9r" name, or a shortened "<hash>.c9s" directory
// whose full encrypted name lives in a sibling name.c9s file.
type EncodedName struct {
	// DiskName is the name to create directly inside the parent's
	// contents directory.
	DiskName string
	// Shortened is true when DiskName is a .c9s indirection directory
	// rather than a direct .c9r object.
	Shortened bool
	// FullEncryptedName is the un-shortened "<enc>.c9r" name; stored in
	// name.c9s when Shortened is true.
	FullEncryptedName string
}

// EncodeName encrypts name for storage inside the directory identified by
// parentDirID, applying the shortening threshold.
func (c *NameCodec) EncodeName(name, parentDirID string) (EncodedName, error) {
	enc, err := c.cryptor.EncryptFilename(name, parentDirID)
	if err != nil {
		return EncodedName{}, fmt.Errorf("encode name %q: %w", name, err)
	}
	full := enc + fileSuffix
	if len(full) <= c.threshold {
		return EncodedName{DiskName: full, FullEncryptedName: full}, nil
	}

	sum := sha1.Sum([]byte(full)) //nolint:gosec // format-mandated
	hashed := base64.URLEncoding.EncodeToString(sum[:]) + shortSuffix
	return EncodedName{DiskName: hashed, Shortened: true, FullEncryptedName: full}, nil
}

// DecodeName recovers the plaintext name from an on-disk entry. diskName is
// the name as listed in the parent's contents directory; readLongName is
// invoked only when diskName is a shortened .c9s entry, and must return the
// contents of its sibling name.c9s file.
func (c *NameCodec) DecodeName(diskName, parentDirID string, readLongName func() (string, error)) (string, error) {
	full := diskName
	if strings.HasSuffix(diskName, shortSuffix) {
		longName, err := readLongName()
		if err != nil {
			return "", fmt.Errorf("read long name for %q: %w", diskName, err)
		}
		full = longName
	}

	enc, ok := strings.CutSuffix(full, fileSuffix)
	if !ok {
		return "", fmt.Errorf("malformed encrypted object name %q", full)
	}
	name, err := c.cryptor.DecryptFilename(enc, parentDirID)
	if err != nil {
		return "", fmt.Errorf("decode name %q: %w", diskName, err)
	}
	return name, nil
}

// LongNameFile is the sibling file holding a shortened entry's full
// encrypted name.
func LongNameFile(encodedDirName string) string { return path.Join(encodedDirName, longNameFile) }

// DirMarkerFile is the dir.c9r file inside a shortened or direct directory
// marker, whose content is the target directory's DirId.
func DirMarkerFile(encodedDirName string) string { return path.Join(encodedDirName, dirMarkerName) }

// SymlinkMarkerFile is the symlink.c9r file inside a shortened symlink
// marker, whose content is the sealed symlink target.
func SymlinkMarkerFile(encodedDirName string) string {
	return path.Join(encodedDirName, symlinkMarker)
}

// ContentsMarkerFile is the contents.c9r file inside a shortened file
// marker, holding the actual sealed file body.
func ContentsMarkerFile(encodedDirName string) string {
	return path.Join(encodedDirName, contentsMarker)
}

// DirIDBackupFile is the dirid.c9r backup written alongside a directory's
// contents, redundantly recording its own DirId.
const DirIDBackupFile = dirBackupName

// DirStoragePath returns the 2-level fan-out path "d/XX/YYYY.../" under
// which the contents of the directory identified by dirID live.
func DirStoragePath(cryptor *vaultcrypto.Cryptor, dirID string) (string, error) {
	hash, err := cryptor.EncryptDirID(dirID)
	if err != nil {
		return "", fmt.Errorf("hash directory id: %w", err)
	}
	if len(hash) != 32 {
		return "", fmt.Errorf("unexpected directory hash length %d", len(hash))
	}
	return path.Join("d", hash[:2], hash[2:]), nil
}
