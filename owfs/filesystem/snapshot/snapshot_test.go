package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/trees"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	got []events.ChangeEvent
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	push := func(e events.ChangeEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, e)
	}
	bus.OnUpdate(func(e events.UpdateEvent) { push(e) })
	bus.OnRemove(func(e events.RemoveEvent) { push(e) })
	bus.OnRename(func(e events.RenameEvent) { push(e) })
	bus.OnAdd(func(e events.AddEvent) { push(e) })
	return r
}

func (r *recorder) take() []events.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	got := r.got
	r.got = nil
	return got
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newTestSnapshot(t *testing.T, root string, opts ...Option) (*Snapshot, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := record(bus)
	s := New(root, append([]Option{WithBus(bus)}, opts...)...)
	require.NoError(t, s.Update(context.Background()))
	assert.Empty(t, rec.take(), "the baseline scan must not emit")
	return s, rec
}

func TestSnapshot_Idempotence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha", baseTime)
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	writeFile(t, filepath.Join(root, "dir", "b.txt"), "bravo", baseTime)

	s, rec := newTestSnapshot(t, root)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(context.Background()))
	}
	assert.Empty(t, rec.take())
	assert.Equal(t, Idle, s.State())
}

func TestSnapshot_ContentChange(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	writeFile(t, file, "alpha", baseTime)

	s, rec := newTestSnapshot(t, root)

	writeFile(t, file, "alpha", baseTime.Add(time.Minute))
	require.NoError(t, s.Update(context.Background()))

	assert.Equal(t, []events.ChangeEvent{events.UpdateEvent{Path: file, Type: events.File}}, rec.take())
}

// a.txt is renamed to b.txt, then b.txt is modified
func TestSnapshot_RenameThenModify(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	writeFile(t, a, "hello", baseTime)

	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.Rename(a, b))
	require.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []events.ChangeEvent{
		events.RenameEvent{OldPath: a, NewPath: b, Type: events.File},
	}, rec.take())

	writeFile(t, b, "hello world", baseTime.Add(time.Hour))
	require.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []events.ChangeEvent{
		events.UpdateEvent{Path: b, Type: events.File},
	}, rec.take())
}

func TestSnapshot_RenamePurity(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello", baseTime)
	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.Rename(filepath.Join(root, "a.txt"), filepath.Join(root, "c.txt")))
	require.NoError(t, s.Update(context.Background()))

	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, events.KindRename, got[0].Kind(), "a pure rename must not also report remove or add")

	fresh, err := trees.NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, trees.Equal(fresh, s.Children()))
}

func TestSnapshot_AddAndRemove(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "keep", baseTime)
	gone := filepath.Join(root, "gone.txt")
	writeFile(t, gone, "gone", baseTime)

	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.Remove(gone))
	added := filepath.Join(root, "new")
	require.NoError(t, os.Mkdir(added, 0o755))
	require.NoError(t, s.Update(context.Background()))

	assert.Equal(t, []events.ChangeEvent{
		events.RemoveEvent{Path: gone, Type: events.File},
		events.AddEvent{Path: added, Type: events.Folder},
	}, rec.take())
}

func TestSnapshot_NestedChangesReportedOnce(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dir")
	require.NoError(t, os.Mkdir(dir, 0o755))
	s, rec := newTestSnapshot(t, root)

	nested := filepath.Join(dir, "deep.txt")
	writeFile(t, nested, "x", baseTime)
	require.NoError(t, s.Update(context.Background()))

	assert.Equal(t, []events.ChangeEvent{
		events.AddEvent{Path: nested, Type: events.File},
	}, rec.take(), "folder metadata changes are not reported, only their contents")
}

func TestSnapshot_VariantChange(t *testing.T) {
	root := t.TempDir()
	entry := filepath.Join(root, "x")
	writeFile(t, entry, "file first", baseTime)

	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.Remove(entry))
	require.NoError(t, os.Mkdir(entry, 0o755))
	require.NoError(t, s.Update(context.Background()))

	assert.Equal(t, []events.ChangeEvent{
		events.RemoveEvent{Path: entry, Type: events.File},
		events.AddEvent{Path: entry, Type: events.Folder},
	}, rec.take())
}

func TestSnapshot_RenameTieBreak(t *testing.T) {
	root := t.TempDir()
	p := func(name string) string { return filepath.Join(root, name) }
	writeFile(t, p("a1"), "same", baseTime)
	writeFile(t, p("a2"), "same", baseTime)

	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.Rename(p("a1"), p("b1")))
	require.NoError(t, os.Rename(p("a2"), p("b2")))
	require.NoError(t, s.Update(context.Background()))

	// candidates are paired from the end of each list
	assert.Equal(t, []events.ChangeEvent{
		events.RenameEvent{OldPath: p("a2"), NewPath: p("b2"), Type: events.File},
		events.RenameEvent{OldPath: p("a1"), NewPath: p("b1"), Type: events.File},
	}, rec.take())
}

func TestSnapshot_FolderRename(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "dir")
	newDir := filepath.Join(root, "renamed")
	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "sub"), 0o755))
	writeFile(t, filepath.Join(oldDir, "sub", "c.txt"), "c", baseTime)
	require.NoError(t, os.Chtimes(oldDir, baseTime, baseTime))

	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.Rename(oldDir, newDir))
	require.NoError(t, os.Chtimes(newDir, baseTime, baseTime))
	require.NoError(t, s.Update(context.Background()))

	assert.Equal(t, []events.ChangeEvent{
		events.RenameEvent{OldPath: filepath.Join(oldDir, "sub", "c.txt"), NewPath: filepath.Join(newDir, "sub", "c.txt"), Type: events.File},
		events.RenameEvent{OldPath: filepath.Join(oldDir, "sub"), NewPath: filepath.Join(newDir, "sub"), Type: events.Folder},
		events.RenameEvent{OldPath: oldDir, NewPath: newDir, Type: events.Folder},
	}, rec.take(), "each descendant is reported before its folder")

	_, node, ok := trees.Locate(s.Children(), filepath.Join(newDir, "sub", "c.txt"))
	require.True(t, ok)
	assert.Equal(t, "c.txt", node.Name)
}

// toggleFS fails Stat for one path while armed
type toggleFS struct {
	trees.OSFileSystem
	mu     sync.Mutex
	target string
	armed  bool
}

func (f *toggleFS) arm(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = on
}

func (f *toggleFS) Stat(name string) (fs.FileInfo, error) {
	f.mu.Lock()
	fail := f.armed && name == f.target
	f.mu.Unlock()
	if fail {
		return nil, errors.New("device not ready")
	}
	return f.OSFileSystem.Stat(name)
}

func TestSnapshot_ScanErrorKeepsCommittedTree(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.txt")
	writeFile(t, target, "alpha", baseTime)

	fsys := &toggleFS{target: target}
	s, rec := newTestSnapshot(t, root, WithFileSystem(fsys))
	before := trees.Clone(s.Children())

	writeFile(t, filepath.Join(root, "b.txt"), "bravo", baseTime)
	fsys.arm(true)
	err := s.Update(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device not ready")
	assert.Empty(t, rec.take())
	assert.True(t, trees.Equal(before, s.Children()))
	assert.Equal(t, Idle, s.State(), "a failed scan is retried on the next update")

	fsys.arm(false)
	require.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []events.ChangeEvent{
		events.AddEvent{Path: filepath.Join(root, "b.txt"), Type: events.File},
	}, rec.take())
}

func TestSnapshot_RootRemoved(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "watched")
	require.NoError(t, os.Mkdir(root, 0o755))
	writeFile(t, filepath.Join(root, "a.txt"), "alpha", baseTime)

	s, rec := newTestSnapshot(t, root)

	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, s.Update(context.Background()))
	assert.True(t, s.IsDeleted())
	assert.Empty(t, rec.take(), "root removal is a state transition, not a diff")

	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, s.Update(context.Background()))
	assert.True(t, s.IsDeleted(), "deleted is terminal")
}

func TestSnapshot_EmptyRootStillDiffs(t *testing.T) {
	root := t.TempDir()
	s, rec := newTestSnapshot(t, root)

	added := filepath.Join(root, "first.txt")
	writeFile(t, added, "1", baseTime)
	require.NoError(t, s.Update(context.Background()))

	assert.Equal(t, []events.ChangeEvent{events.AddEvent{Path: added, Type: events.File}}, rec.take())
}

func TestSnapshot_OnUpdateHooks(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	var once, every int
	s.OnUpdate(func() { once++ }, true)
	s.OnUpdate(func() { every++ }, false)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(context.Background()))
	}

	assert.Equal(t, 1, once)
	assert.Equal(t, 3, every)
}

// blockingFS holds ReadDir of the root until released
type blockingFS struct {
	trees.OSFileSystem
	root    string
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == f.root {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.OSFileSystem.ReadDir(name)
}

func TestSnapshot_BusySnapshotIsSkipped(t *testing.T) {
	root := t.TempDir()
	fsys := &blockingFS{root: root, entered: make(chan struct{}), release: make(chan struct{})}
	s := New(root, WithFileSystem(fsys))

	done := make(chan error, 1)
	go func() { done <- s.Update(context.Background()) }()

	<-fsys.entered
	assert.True(t, s.IsProcessing())
	assert.NoError(t, s.Update(context.Background()), "an overlapping update returns immediately")

	close(fsys.release)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, s.State())
}

func TestSnapshot_JSONAndPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	writeFile(t, filepath.Join(root, "dir", "b.txt"), "b", baseTime)
	writeFile(t, filepath.Join(root, "a.txt"), "a", baseTime)

	s, _ := newTestSnapshot(t, root)

	assert.Equal(t, map[string]any{
		"a.txt": "a.txt",
		"dir":   map[string]any{"b.txt": "b.txt"},
	}, s.JSON())

	s.SetPath(filepath.Join(root, "dir"))
	assert.Equal(t, filepath.Join(root, "dir"), s.Path())
}

func TestSnapshot_Metrics(t *testing.T) {
	root := t.TempDir()
	metrics := common.NewWatchMetrics(prometheus.NewRegistry())
	s, rec := newTestSnapshot(t, root, WithMetrics(metrics))

	writeFile(t, filepath.Join(root, "a.txt"), "a", baseTime)
	require.NoError(t, s.Update(context.Background()))
	require.Len(t, rec.take(), 1)

	_, updates, detected, _ := metrics.Collectors()
	assert.Equal(t, 2.0, testutil.ToFloat64(updates.WithLabelValues(common.UpdateOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(detected.WithLabelValues("add")))
}

func TestDiffer_MissingRenameSourceIsInconsistent(t *testing.T) {
	d := &differ{work: map[string]*trees.Node{}}
	orphan := &trees.Node{Path: filepath.FromSlash("/w/ghost"), Name: "ghost", Type: trees.File}

	err := d.rename(orphan, filepath.FromSlash("/w/spirit"))
	assert.ErrorIs(t, err, common.ErrInconsistentTree)
	assert.Empty(t, d.changes)
}
