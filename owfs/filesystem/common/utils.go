package common

import (
	"path/filepath"
	"runtime"
	"strings"
)

// PathUtils provides path manipulation utilities used across filesystem packages.
// Comparisons fold case when the platform's filesystem is case-insensitive.
type PathUtils struct {
	caseInsensitive bool
}

// NewPathUtils creates a new PathUtils instance using the platform case rules
func NewPathUtils() *PathUtils {
	return &PathUtils{caseInsensitive: runtime.GOOS == "windows"}
}

// NewPathUtilsWithCase creates a PathUtils with explicit case sensitivity
func NewPathUtilsWithCase(caseInsensitive bool) *PathUtils {
	return &PathUtils{caseInsensitive: caseInsensitive}
}

// CaseInsensitive reports whether comparisons fold case
func (pu *PathUtils) CaseInsensitive() bool {
	return pu.caseInsensitive
}

// NormalizePath normalizes a file path for cross-platform compatibility
func (pu *PathUtils) NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// ValidatePath validates that a path is usable as a watch target
func (pu *PathUtils) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrPathEmpty
	}
	if strings.Contains(path, "\x00") {
		return ErrPathInvalid
	}
	return nil
}

// Key returns the comparison form of path
func (pu *PathUtils) Key(path string) string {
	if pu.caseInsensitive {
		return strings.ToLower(path)
	}
	return path
}

// Equal reports whether a and b name the same path
func (pu *PathUtils) Equal(a, b string) bool {
	return pu.Key(a) == pu.Key(b)
}

// IsWithin reports whether path is root itself or nested beneath it.
// Matching respects separator boundaries, so /a/bc is not within /a/b.
func (pu *PathUtils) IsWithin(root, path string) bool {
	root, path = pu.Key(root), pu.Key(path)
	return root == path || strings.HasPrefix(path, withSeparator(root))
}

// IsSubpath reports whether child is strictly nested beneath parent
func (pu *PathUtils) IsSubpath(parent, child string) bool {
	parent, child = pu.Key(parent), pu.Key(child)
	return parent != child && strings.HasPrefix(child, withSeparator(parent))
}

// Rebase moves path from under oldRoot to the same relative position under newRoot.
// Paths outside oldRoot are returned unchanged.
func (pu *PathUtils) Rebase(oldRoot, newRoot, path string) string {
	if !pu.IsWithin(oldRoot, path) {
		return path
	}
	rest := path[len(oldRoot):]
	rest = strings.TrimPrefix(rest, string(filepath.Separator))
	if rest == "" {
		return newRoot
	}
	return filepath.Join(newRoot, rest)
}

// Parent returns the directory containing path
func (pu *PathUtils) Parent(path string) string {
	return filepath.Dir(path)
}

// ToSlash returns path with forward slashes for pattern matching
func (pu *PathUtils) ToSlash(path string) string {
	return filepath.ToSlash(path)
}

func withSeparator(path string) string {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return path
	}
	return path + string(filepath.Separator)
}
