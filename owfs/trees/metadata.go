package trees

import (
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"time"
)

// NodeType distinguishes the two node variants of a snapshot tree
type NodeType int

const (
	File NodeType = iota
	Folder
)

func (t NodeType) String() string {
	switch t {
	case File:
		return "File"
	case Folder:
		return "Folder"
	default:
		return "Unknown"
	}
}

// Node is one watched entry. Folders own their children keyed by absolute path;
// there is no parent pointer, lookups walk down from the root map instead.
type Node struct {
	Path     string           `json:"path"`
	Name     string           `json:"name"`
	Type     NodeType         `json:"type"`
	Size     int64            `json:"size"`
	ModTime  time.Time        `json:"mod_time"`
	Children map[string]*Node `json:"children,omitempty"`
}

// NewNode builds a node for path from its stat result
func NewNode(path string, info fs.FileInfo) *Node {
	node := &Node{
		Path:    path,
		Name:    filepath.Base(path),
		Type:    File,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		node.Type = Folder
		node.Children = make(map[string]*Node)
	}
	return node
}

func (n *Node) IsFolder() bool {
	return n.Type == Folder
}

// SameType reports whether both nodes are files or both are folders
func (n *Node) SameType(other *Node) bool {
	return n.Type == other.Type
}

// SameIdentity reports whether other could be n under a different path:
// same variant, same size and same modification time.
func (n *Node) SameIdentity(other *Node) bool {
	return n.SameType(other) && n.Size == other.Size && n.ModTime.Equal(other.ModTime)
}

// SortedKeys returns the keys of children in lexical order
func SortedKeys(children map[string]*Node) []string {
	return slices.Sorted(maps.Keys(children))
}

// Count returns the number of nodes in children and all nested folders
func Count(children map[string]*Node) int {
	total := 0
	for _, child := range children {
		total++
		if child.IsFolder() {
			total += Count(child.Children)
		}
	}
	return total
}

// Equal reports whether two trees hold the same paths, variants, sizes and times
func Equal(a, b map[string]*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for key, left := range a {
		right, ok := b[key]
		if !ok {
			return false
		}
		if left.Path != right.Path || left.Name != right.Name || !left.SameIdentity(right) {
			return false
		}
		if left.IsFolder() && !Equal(left.Children, right.Children) {
			return false
		}
	}
	return true
}
