package watcher

import (
	"slices"

	"github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
)

// record lists the subscriptions registered at one root, in registration order
type record struct {
	root string
	subs []*Subscription
}

// registry indexes records in a patricia tree keyed by the comparison form of
// their root, so ancestor and descendant lookups are prefix walks.
// It is not safe for concurrent use; the manager serializes access.
type registry struct {
	tree  *radix.Tree
	paths *common.PathUtils
	count int
}

func newRegistry(paths *common.PathUtils) *registry {
	return &registry{tree: radix.New(), paths: paths}
}

func (r *registry) add(sub *Subscription) {
	root := sub.Path()
	key := r.paths.Key(root)
	if v, ok := r.tree.Get(key); ok {
		rec := v.(*record)
		rec.subs = append(rec.subs, sub)
	} else {
		r.tree.Insert(key, &record{root: root, subs: []*Subscription{sub}})
	}
	r.count++
}

func (r *registry) remove(sub *Subscription) bool {
	key := r.paths.Key(sub.Path())
	v, ok := r.tree.Get(key)
	if !ok {
		return false
	}
	rec := v.(*record)
	idx := slices.Index(rec.subs, sub)
	if idx < 0 {
		return false
	}
	rec.subs = slices.Delete(rec.subs, idx, idx+1)
	if len(rec.subs) == 0 {
		r.tree.Delete(key)
	}
	r.count--
	return true
}

// covering returns the subscriptions at path or at any ancestor of it,
// shallowest root first.
func (r *registry) covering(path string) []*Subscription {
	key := r.paths.Key(path)
	var out []*Subscription
	r.tree.WalkPath(key, func(k string, v interface{}) bool {
		if r.paths.IsWithin(k, key) {
			out = append(out, v.(*record).subs...)
		}
		return false
	})
	return out
}

// within returns the records whose root is path or nested beneath it
func (r *registry) within(path string) []*record {
	key := r.paths.Key(path)
	var out []*record
	r.tree.WalkPrefix(key, func(k string, v interface{}) bool {
		if r.paths.IsWithin(key, k) {
			out = append(out, v.(*record))
		}
		return false
	})
	return out
}

// detachWithin removes and returns every subscription whose root is path or
// nested beneath it.
func (r *registry) detachWithin(path string) []*Subscription {
	var out []*Subscription
	for _, rec := range r.within(path) {
		out = append(out, rec.subs...)
		r.tree.Delete(r.paths.Key(rec.root))
		r.count -= len(rec.subs)
	}
	return out
}

// move relocates every record rooted at oldPath or beneath it to the same
// relative position under newPath and rewrites its subscriptions.
func (r *registry) move(oldPath, newPath string) int {
	moved := 0
	for _, rec := range r.within(oldPath) {
		r.tree.Delete(r.paths.Key(rec.root))
		rec.root = r.paths.Rebase(oldPath, newPath, rec.root)
		for _, sub := range rec.subs {
			sub.relocate(rec.root)
		}
		moved += len(rec.subs)

		key := r.paths.Key(rec.root)
		if v, ok := r.tree.Get(key); ok {
			existing := v.(*record)
			existing.subs = append(existing.subs, rec.subs...)
			continue
		}
		r.tree.Insert(key, rec)
	}
	return moved
}

func (r *registry) all() []*Subscription {
	var out []*Subscription
	r.tree.Walk(func(_ string, v interface{}) bool {
		out = append(out, v.(*record).subs...)
		return false
	})
	return out
}

func (r *registry) len() int {
	return r.count
}

func (r *registry) clear() {
	r.tree = radix.New()
	r.count = 0
}
