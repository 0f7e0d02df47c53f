// Package idvalidate validates container ids, VMIDs, and filesystem paths
// against the invariants fixed by spec §3 and §4.9.
package idvalidate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CageForge/nexcage/internal/nexerr"
)

const (
	// MinVMID is the lowest assignable Proxmox VMID.
	MinVMID = 100
	// MaxVMID is the highest assignable Proxmox VMID.
	MaxVMID = 999_999

	minContainerIDLen = 1
	maxContainerIDLen = 253
)

// ContainerID validates a caller-supplied container id: [A-Za-z0-9_.-],
// length 1-253.
func ContainerID(id string) error {
	if len(id) < minContainerIDLen || len(id) > maxContainerIDLen {
		return nexerr.New(nexerr.SpecInvalid,
			fmt.Sprintf("container id length must be between %d and %d", minContainerIDLen, maxContainerIDLen),
			"container_id", id)
	}
	for _, r := range id {
		if !isIDRune(r) {
			return nexerr.New(nexerr.SpecInvalid, "container id contains an invalid character", "container_id", id)
		}
	}
	return nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	default:
		return false
	}
}

// VMID validates that v falls within the Proxmox VMID range.
func VMID(v int) error {
	if v < MinVMID || v > MaxVMID {
		return nexerr.New(nexerr.SpecInvalid,
			fmt.Sprintf("vmid must be in [%d, %d]", MinVMID, MaxVMID),
			"vmid", fmt.Sprintf("%d", v))
	}
	return nil
}

// SafeJoin joins root and rel, rejecting any lexical escape of root via
// ".." segments or an absolute rel. Returns the joined, cleaned path.
func SafeJoin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", nexerr.New(nexerr.PathUnsafe, "path must be relative to its root", "path", rel)
	}
	cleanedRoot := filepath.Clean(root)
	joined := filepath.Join(cleanedRoot, rel)
	if joined != cleanedRoot && !strings.HasPrefix(joined, cleanedRoot+string(filepath.Separator)) {
		return "", nexerr.New(nexerr.PathUnsafe, "path escapes its root", "path", rel, "root", root)
	}
	return joined, nil
}

// NormalizedEscapes reports whether the lexical normalization of rel
// escapes root (contains unresolved ".." segments that climb above root).
func NormalizedEscapes(rel string) bool {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return true
	}
	return cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator))
}
