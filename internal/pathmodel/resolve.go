package pathmodel

import (
	"fmt"
	"strings"

	"github.com/cryptovault/vault/internal/vaulterr"
)

// Entry describes one decoded entry found while listing a directory's
// contents during path resolution.
type Entry struct {
	Name  string
	Kind  ObjectKind
	DirID string // only meaningful when Kind == KindDirectory
}

// DirLister looks up the decoded entries of the directory whose contents
// namespace is identified by dirID. Implemented by internal/vaultops
// against the backing OS tree; kept as an interface here so path
// resolution has no on-disk dependency of its own.
type DirLister interface {
	ListDecoded(dirID string) ([]Entry, error)
}

// Resolved is the result of walking a VaultPath to its target.
type Resolved struct {
	DirID       string
	Kind        ObjectKind
	ParentDirID string
	Name        string
}

// Resolve walks vaultPath component by component from the root (DirId
// RootDirID), looking up each child in its parent's directory listing.
// Spec §4.B: "walk components from root, at each step list the parent's
// directory and look up the child."
func Resolve(lister DirLister, vaultPath string) (Resolved, error) {
	parts := splitPath(vaultPath)
	if len(parts) == 0 {
		return Resolved{DirID: RootDirID, Kind: KindDirectory}, nil
	}

	dirID := RootDirID
	var parentDirID string
	var kind ObjectKind = KindDirectory
	var name string

	for i, part := range parts {
		entries, err := lister.ListDecoded(dirID)
		if err != nil {
			return Resolved{}, fmt.Errorf("list %q: %w", vaultPath, err)
		}
		found := false
		for _, e := range entries {
			if e.Name == part {
				parentDirID = dirID
				name = part
				kind = e.Kind
				if e.Kind == KindDirectory {
					dirID = e.DirID
				}
				found = true
				break
			}
		}
		if !found {
			return Resolved{}, fmt.Errorf("%w: %q", vaulterr.NotFound, vaultPath)
		}
		if kind != KindDirectory && i != len(parts)-1 {
			return Resolved{}, fmt.Errorf("%w: %q is not a directory", vaulterr.NotDirectory, part)
		}
	}

	return Resolved{DirID: dirID, Kind: kind, ParentDirID: parentDirID, Name: name}, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
