package snapshot

import (
	"fmt"
	"slices"

	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/trees"
)

// differ walks two generations of a tree and records the changes between them.
// Renames are applied to work, a private copy of the older generation.
type differ struct {
	work    map[string]*trees.Node
	changes []events.ChangeEvent
}

func entryType(n *trees.Node) events.EntryType {
	if n.IsFolder() {
		return events.Folder
	}
	return events.File
}

// compare diffs one directory level. Updates are recorded as they are found,
// nested levels included, followed by this level's renames, removals and additions.
func (d *differ) compare(old, next map[string]*trees.Node) error {
	var removed, added []*trees.Node

	keys := trees.SortedKeys(old)
	for key := range next {
		if _, ok := old[key]; !ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	for _, key := range keys {
		before, hadBefore := old[key]
		after, hasAfter := next[key]

		switch {
		case hadBefore && hasAfter:
			if !before.SameType(after) {
				removed = append(removed, before)
				added = append(added, after)
				continue
			}
			if before.IsFolder() {
				if err := d.compare(before.Children, after.Children); err != nil {
					return err
				}
				continue
			}
			if !before.ModTime.Equal(after.ModTime) {
				d.changes = append(d.changes, events.UpdateEvent{Path: key, Type: events.File})
			}
		case hadBefore:
			removed = append(removed, before)
		default:
			added = append(added, after)
		}
	}

	// Pair candidates newest first; the first identity match wins.
	for i := len(removed) - 1; i >= 0; i-- {
		for j := len(added) - 1; j >= 0; j-- {
			if !removed[i].SameIdentity(added[j]) {
				continue
			}
			if err := d.rename(removed[i], added[j].Path); err != nil {
				return err
			}
			removed = slices.Delete(removed, i, i+1)
			added = slices.Delete(added, j, j+1)
			break
		}
	}

	for _, n := range removed {
		d.changes = append(d.changes, events.RemoveEvent{Path: n.Path, Type: entryType(n)})
	}
	for _, n := range added {
		d.changes = append(d.changes, events.AddEvent{Path: n.Path, Type: entryType(n)})
	}
	return nil
}

func (d *differ) rename(node *trees.Node, newPath string) error {
	oldPath := node.Path
	parent, located, ok := trees.Locate(d.work, oldPath)
	if !ok || located != node {
		return fmt.Errorf("%w: no entry for %s while renaming to %s", common.ErrInconsistentTree, oldPath, newPath)
	}

	// Every relocated node gets its own event, descendants before the folder.
	trees.Move(parent, located, newPath, func(from string, moved *trees.Node) {
		d.changes = append(d.changes, events.RenameEvent{OldPath: from, NewPath: moved.Path, Type: entryType(moved)})
	})
	return nil
}
