// Package vaultops implements the vault's CRUD operation set against a
// local POSIX backing directory tree: read/write/create/remove/rename of
// files, directories and symlinks, all addressed by directory ID rather
// than plaintext path.
package vaultops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/cryptovault/vault/internal/pathmodel"
	"github.com/cryptovault/vault/internal/vaultcrypto"
	"github.com/cryptovault/vault/internal/vaulterr"
	"github.com/cryptovault/vault/internal/vlog"
)

// Vault performs cryptographic operations against a local backing directory
// rooted at Root, using cryptor for all sealing/naming and codec for the
// plaintext/on-disk name bijection.
type Vault struct {
	Root    string
	cryptor *vaultcrypto.Cryptor
	codec   *pathmodel.NameCodec
}

// Open binds a Vault to an already-initialized backing directory. The
// caller is responsible for the root directory's contents directory already
// existing (see Create); the root has no marker file.
func Open(root string, cryptor *vaultcrypto.Cryptor, shorteningThreshold int) *Vault {
	return &Vault{
		Root:    root,
		cryptor: cryptor,
		codec:   pathmodel.NewNameCodec(cryptor, shorteningThreshold),
	}
}

// Create initializes a brand new vault's root directory contents at root.
func Create(root string, cryptor *vaultcrypto.Cryptor, shorteningThreshold int) (*Vault, error) {
	v := Open(root, cryptor, shorteningThreshold)
	storagePath, err := v.dirStoragePath(pathmodel.RootDirID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("create vault root: %w", err)
	}
	return v, nil
}

func (v *Vault) dirStoragePath(dirID string) (string, error) {
	rel, err := pathmodel.DirStoragePath(v.cryptor, dirID)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.Root, filepath.FromSlash(rel)), nil
}

// ListDecoded implements pathmodel.DirLister against the backing tree.
func (v *Vault) ListDecoded(dirID string) ([]pathmodel.Entry, error) {
	storagePath, err := v.dirStoragePath(dirID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadDir(storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: directory %q", vaulterr.NotFound, dirID)
		}
		return nil, fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}

	var entries []pathmodel.Entry
	for _, de := range raw {
		name := de.Name()
		if name == pathmodel.DirIDBackupFile {
			continue
		}
		entry, ok, err := v.decodeDiskEntry(storagePath, name, dirID, de.IsDir())
		if err != nil {
			vlog.Errorf(context.Background(), "skipping malformed entry %q in directory %s: %v", name, dirID, err)
			continue
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (v *Vault) decodeDiskEntry(storagePath, diskName, parentDirID string, isDir bool) (pathmodel.Entry, bool, error) {
	readLongName := func() (string, error) {
		data, err := os.ReadFile(filepath.Join(storagePath, diskName, "name.c9s"))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if strings.HasSuffix(diskName, ".c9s") {
		markerDir := filepath.Join(storagePath, diskName)
		entries, err := os.ReadDir(markerDir)
		if err != nil {
			return pathmodel.Entry{}, false, err
		}
		kind, ok := classifyShortenedMarker(entries)
		if !ok {
			return pathmodel.Entry{}, false, nil
		}
		name, err := v.codec.DecodeName(diskName, parentDirID, readLongName)
		if err != nil {
			return pathmodel.Entry{}, false, err
		}
		entry := pathmodel.Entry{Name: name, Kind: kind}
		if kind == pathmodel.KindDirectory {
			dirID, err := os.ReadFile(filepath.Join(markerDir, "dir.c9r"))
			if err != nil {
				return pathmodel.Entry{}, false, err
			}
			entry.DirID = string(dirID)
		}
		return entry, true, nil
	}

	if !strings.HasSuffix(diskName, ".c9r") {
		return pathmodel.Entry{}, false, nil
	}

	name, err := v.codec.DecodeName(diskName, parentDirID, readLongName)
	if err != nil {
		return pathmodel.Entry{}, false, err
	}

	if isDir {
		// A directory-shaped .c9r entry is either a real subdirectory
		// (dir.c9r) or a symlink, which the runtime always materializes as
		// a directory holding symlink.c9r so its kind is self-describing
		// without an auxiliary name.c9s sidecar.
		markerDir := filepath.Join(storagePath, diskName)
		markerEntries, err := os.ReadDir(markerDir)
		if err != nil {
			return pathmodel.Entry{}, false, err
		}
		kind, ok := classifyShortenedMarker(markerEntries)
		if !ok {
			return pathmodel.Entry{}, false, nil
		}
		entry := pathmodel.Entry{Name: name, Kind: kind}
		if kind == pathmodel.KindDirectory {
			dirID, err := os.ReadFile(filepath.Join(markerDir, "dir.c9r"))
			if err != nil {
				return pathmodel.Entry{}, false, err
			}
			entry.DirID = string(dirID)
		}
		return entry, true, nil
	}

	return pathmodel.Entry{Name: name, Kind: pathmodel.KindFile}, true, nil
}

func classifyShortenedMarker(entries []os.DirEntry) (pathmodel.ObjectKind, bool) {
	for _, e := range entries {
		switch e.Name() {
		case "dir.c9r":
			return pathmodel.KindDirectory, true
		case "contents.c9r":
			return pathmodel.KindFile, true
		case "symlink.c9r":
			return pathmodel.KindSymlink, true
		}
	}
	return 0, false
}

// objectPath resolves the on-disk location that holds name's sealed
// content inside dirID, plus the EncodedName describing whether it is a
// direct .c9r object or a .c9s shortened marker.
func (v *Vault) objectPath(dirID, name string) (string, pathmodel.EncodedName, error) {
	storagePath, err := v.dirStoragePath(dirID)
	if err != nil {
		return "", pathmodel.EncodedName{}, err
	}
	enc, err := v.codec.EncodeName(name, dirID)
	if err != nil {
		return "", pathmodel.EncodedName{}, err
	}
	return filepath.Join(storagePath, enc.DiskName), enc, nil
}

func writeShortenedMarkerName(diskPath string, enc pathmodel.EncodedName) error {
	if !enc.Shortened {
		return nil
	}
	if err := os.MkdirAll(diskPath, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(diskPath, "name.c9s"), []byte(enc.FullEncryptedName), 0o644)
}

// FileSize returns the plaintext size of name inside dirID without
// reading its content, using the invertible ciphertext-to-plaintext size
// formula of spec invariant 5.
func (v *Vault) FileSize(dirID, name string) (int64, error) {
	objPath, enc, err := v.objectPath(dirID, name)
	if err != nil {
		return 0, err
	}
	if enc.Shortened {
		objPath = filepath.Join(objPath, "contents.c9r")
	}
	fi, err := os.Stat(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %q", vaulterr.NotFound, name)
		}
		return 0, fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return v.cryptor.DecryptedFileSize(fi.Size()), nil
}

// ReadFile opens name inside dirID for streaming decrypted reads.
func (v *Vault) ReadFile(dirID, name string) (io.ReadCloser, error) {
	objPath, enc, err := v.objectPath(dirID, name)
	if err != nil {
		return nil, err
	}
	if enc.Shortened {
		objPath = filepath.Join(objPath, "contents.c9r")
	}

	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", vaulterr.NotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}

	dec, err := v.cryptor.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: dec, Closer: f}, nil
}

// WriteFile atomically seals and writes data as name's content inside
// dirID, replacing any existing file of the same name.
func (v *Vault) WriteFile(dirID, name string, data io.Reader) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty file name", vaulterr.InvalidArgument)
	}
	objPath, enc, err := v.objectPath(dirID, name)
	if err != nil {
		return err
	}
	if err := writeShortenedMarkerName(objPath, enc); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if enc.Shortened {
		objPath = filepath.Join(objPath, "contents.c9r")
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}

	pending, err := renameio.TempFile("", objPath)
	if err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	defer pending.Cleanup()

	enc2, err := v.cryptor.NewWriter(pending)
	if err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if _, err := io.Copy(enc2, data); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := enc2.Close(); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return nil
}

// CreateDirectory creates a new child directory named name inside dirID
// and returns its fresh DirId. The marker (dir.c9r, naming the child's
// contents via its DirId) is written before the child's own dirid.c9r
// backup, so a reader never observes a backup with no corresponding
// marker.
func (v *Vault) CreateDirectory(dirID, name string) (string, error) {
	objPath, enc, err := v.objectPath(dirID, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(objPath); err == nil {
		return "", fmt.Errorf("%w: %q", vaulterr.AlreadyExists, name)
	}

	childID := uuid.NewString()

	if err := os.MkdirAll(objPath, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := writeShortenedMarkerName(objPath, enc); err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := renameio.WriteFile(filepath.Join(objPath, "dir.c9r"), []byte(childID), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}

	childStorage, err := v.dirStoragePath(childID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(childStorage, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := renameio.WriteFile(filepath.Join(childStorage, pathmodel.DirIDBackupFile), []byte(childID), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}

	return childID, nil
}

// CreateSymlink creates a new symlink named name inside dirID pointing at
// the plaintext target (sealed the same way a file's contents are).
func (v *Vault) CreateSymlink(dirID, name, target string) error {
	objPath, enc, err := v.objectPath(dirID, name)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(objPath); err == nil {
		return fmt.Errorf("%w: %q", vaulterr.AlreadyExists, name)
	}

	// A symlink is always materialized as a directory holding symlink.c9r,
	// regardless of the shortening threshold, so its kind is self-describing
	// on disk without relying on an out-of-band type tag.
	if err := os.MkdirAll(objPath, 0o755); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := writeShortenedMarkerName(objPath, enc); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	symlinkPath := filepath.Join(objPath, "symlink.c9r")

	pending, err := renameio.TempFile("", symlinkPath)
	if err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	defer pending.Cleanup()
	w, err := v.cryptor.NewWriter(pending)
	if err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if _, err := io.Copy(w, strings.NewReader(target)); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return pending.CloseAtomicallyReplace()
}

// ReadSymlink returns the plaintext target of the symlink named name
// inside dirID.
func (v *Vault) ReadSymlink(dirID, name string) (string, error) {
	objPath, _, err := v.objectPath(dirID, name)
	if err != nil {
		return "", err
	}
	objPath = filepath.Join(objPath, "symlink.c9r")
	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q", vaulterr.NotFound, name)
		}
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	defer f.Close()

	r, err := v.cryptor.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return string(data), nil
}

// RemoveFile deletes the file or symlink named name inside dirID. Both are
// removed the same way: a plain file object is a single .c9r file; a
// shortened file or a symlink (which always uses the marker-directory form)
// is a small directory tree removed in full.
func (v *Vault) RemoveFile(dirID, name string) error {
	objPath, _, err := v.objectPath(dirID, name)
	if err != nil {
		return err
	}
	fi, err := os.Lstat(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", vaulterr.NotFound, name)
		}
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if fi.IsDir() {
		if err := os.RemoveAll(objPath); err != nil {
			return fmt.Errorf("%w: %v", vaulterr.IoError, err)
		}
		return nil
	}
	if err := os.Remove(objPath); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return nil
}

// RemoveDirectory removes the empty child directory named name inside
// dirID.
func (v *Vault) RemoveDirectory(dirID, name string) error {
	markerDir, _, err := v.objectPath(dirID, name)
	if err != nil {
		return err
	}
	dirIDBytes, err := os.ReadFile(filepath.Join(markerDir, "dir.c9r"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", vaulterr.NotFound, name)
		}
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	childID := string(dirIDBytes)

	childStorage, err := v.dirStoragePath(childID)
	if err != nil {
		return err
	}
	childEntries, err := os.ReadDir(childStorage)
	if err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	for _, e := range childEntries {
		if e.Name() != pathmodel.DirIDBackupFile {
			return fmt.Errorf("%w: %q", vaulterr.NotEmpty, name)
		}
	}

	if err := os.RemoveAll(childStorage); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := os.RemoveAll(markerDir); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return nil
}

// Rename moves the entry srcName from srcDirID to dstName in dstDirID.
// Within the same parent this re-encrypts the name under the unchanged
// dir_id; across parents the name is re-encrypted under the destination's
// dir_id first, since the SIV associated data (the parent dir_id) changes.
// A directory's own DirId is never touched by a rename; only its marker
// moves. Overwriting an existing destination is rejected unless both
// source and destination are plain files.
func (v *Vault) Rename(srcDirID, srcName, dstDirID, dstName string) error {
	srcPath, _, err := v.objectPath(srcDirID, srcName)
	if err != nil {
		return err
	}
	dstPath, dstEnc, err := v.objectPath(dstDirID, dstName)
	if err != nil {
		return err
	}

	srcKind, ok := entryKind(srcPath)
	if !ok {
		return fmt.Errorf("%w: %q", vaulterr.NotFound, srcName)
	}

	if dstKind, ok := entryKind(dstPath); ok {
		if srcKind != pathmodel.KindFile || dstKind != pathmodel.KindFile {
			return fmt.Errorf("%w: %q", vaulterr.AlreadyExists, dstName)
		}
		if err := os.RemoveAll(dstPath); err != nil {
			return fmt.Errorf("%w: %v", vaulterr.IoError, err)
		}
	}

	if err := writeShortenedMarkerName(dstPath, dstEnc); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}

	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("%w: %v", vaulterr.IoError, err)
	}
	return nil
}

// entryKind classifies the on-disk object at p: a plain file is KindFile; a
// directory is classified by which marker file it holds (dir.c9r,
// contents.c9r or symlink.c9r, the latter two covering the .c9s-shortened
// and always-a-directory symlink forms respectively).
func entryKind(p string) (pathmodel.ObjectKind, bool) {
	fi, err := os.Lstat(p)
	if err != nil {
		return 0, false
	}
	if !fi.IsDir() {
		return pathmodel.KindFile, true
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return 0, false
	}
	return classifyShortenedMarker(entries)
}

// ListFiles, ListDirectories and ListSymlinks return the sorted decrypted
// names of each respective kind of entry inside dirID.
func (v *Vault) ListFiles(dirID string) ([]string, error)       { return v.listKind(dirID, pathmodel.KindFile) }
func (v *Vault) ListDirectories(dirID string) ([]string, error) { return v.listKind(dirID, pathmodel.KindDirectory) }
func (v *Vault) ListSymlinks(dirID string) ([]string, error)    { return v.listKind(dirID, pathmodel.KindSymlink) }

func (v *Vault) listKind(dirID string, kind pathmodel.ObjectKind) ([]string, error) {
	entries, err := v.ListDecoded(dirID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Kind == kind {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// ResolvePath walks a plaintext VaultPath from the root to its target
// directory ID and kind.
func (v *Vault) ResolvePath(vaultPath string) (pathmodel.Resolved, error) {
	return pathmodel.Resolve(v, vaultPath)
}

