package trees

import (
	"path/filepath"
	"strings"
)

// Locate finds the node stored under path by walking down from children.
// It returns the map that owns the node so callers can rekey it.
func Locate(children map[string]*Node, path string) (map[string]*Node, *Node, bool) {
	current := children
	for current != nil {
		if node, ok := current[path]; ok {
			return current, node, true
		}

		var next map[string]*Node
		for key, node := range current {
			if node.IsFolder() && strings.HasPrefix(path, key+string(filepath.Separator)) {
				next = node.Children
				break
			}
		}
		current = next
	}
	return nil, nil, false
}

// MoveFunc is called for every node relocated by Move with its previous path
type MoveFunc func(oldPath string, node *Node)

// Move rekeys node from its current path to newPath inside parent and rewrites
// every descendant path so the relative structure under the node is preserved.
// When visit is set it sees each relocated node, children before their folder
// and siblings in key order.
func Move(parent map[string]*Node, node *Node, newPath string, visit MoveFunc) {
	delete(parent, node.Path)
	rewrite(node, newPath, visit)
	parent[newPath] = node
}

func rewrite(node *Node, newPath string, visit MoveFunc) {
	oldPath := node.Path

	if node.IsFolder() {
		moved := make(map[string]*Node, len(node.Children))
		for _, key := range SortedKeys(node.Children) {
			child := node.Children[key]
			rel := strings.TrimPrefix(child.Path, oldPath+string(filepath.Separator))
			rewrite(child, filepath.Join(newPath, rel), visit)
			moved[child.Path] = child
		}
		node.Children = moved
	}

	node.Path = newPath
	node.Name = filepath.Base(newPath)
	if visit != nil {
		visit(oldPath, node)
	}
}

// ToJSON renders children as nested name -> name (files) or name -> object (folders)
func ToJSON(children map[string]*Node) map[string]any {
	result := make(map[string]any, len(children))
	for _, child := range children {
		if child.IsFolder() {
			result[child.Name] = ToJSON(child.Children)
		} else {
			result[child.Name] = child.Name
		}
	}
	return result
}

// Clone returns a deep copy of children
func Clone(children map[string]*Node) map[string]*Node {
	if children == nil {
		return nil
	}
	out := make(map[string]*Node, len(children))
	for key, child := range children {
		cp := *child
		cp.Children = Clone(child.Children)
		out[key] = &cp
	}
	return out
}
