// Package snapshot keeps an in-memory mirror of one watched directory and turns
// the difference between consecutive scans into change events.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/trees"
)

// State is the lifecycle position of a snapshot
type State int32

const (
	Idle State = iota
	Scanning
	Deleted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type updateHook struct {
	fn   func()
	once bool
}

// Snapshot mirrors the tree under a root directory.
// At most one Update runs at a time and Deleted is terminal.
type Snapshot struct {
	mu        sync.Mutex
	path      string
	state     State
	committed bool
	current   map[string]*trees.Node
	hooks     []updateHook

	bus     *events.Bus
	fs      trees.FileSystem
	scanner *trees.Scanner
	logger  *slog.Logger
	metrics *common.WatchMetrics
}

// Option configures a Snapshot
type Option func(*Snapshot)

// WithBus sets the bus change events are emitted on
func WithBus(bus *events.Bus) Option {
	return func(s *Snapshot) { s.bus = bus }
}

// WithFileSystem replaces the host filesystem
func WithFileSystem(fsys trees.FileSystem) Option {
	return func(s *Snapshot) { s.fs = fsys }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Snapshot) { s.logger = logger }
}

func WithMetrics(m *common.WatchMetrics) Option {
	return func(s *Snapshot) { s.metrics = m }
}

// New creates an empty snapshot for root. Nothing is scanned until Update.
func New(root string, opts ...Option) *Snapshot {
	s := &Snapshot{
		path:    root,
		current: make(map[string]*trees.Node),
		fs:      trees.OSFileSystem{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	s.scanner = trees.NewScanner(trees.WithFileSystem(s.fs), trees.WithLogger(s.logger))
	return s
}

// Update rescans the root and emits the changes since the last committed scan.
// It returns nil without scanning when an update is already running or the
// snapshot is deleted. A missing root moves the snapshot to Deleted.
func (s *Snapshot) Update(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		s.metrics.ObserveUpdate(start, common.UpdateSkipped)
		return nil
	}
	s.state = Scanning
	root := s.path
	current, committed := s.current, s.committed
	s.mu.Unlock()

	if _, err := s.fs.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("Snapshot root removed", "path", root)
			s.setState(Deleted)
			s.metrics.ObserveUpdate(start, common.UpdateDeleted)
			return nil
		}
		s.setState(Idle)
		s.metrics.ObserveUpdate(start, common.UpdateFailed)
		return fmt.Errorf("unable to update snapshot %s: %w", root, err)
	}

	next, err := s.scanner.Scan(ctx, root)
	if err != nil {
		s.setState(Idle)
		s.metrics.ObserveUpdate(start, common.UpdateFailed)
		return fmt.Errorf("unable to update snapshot %s: %w", root, err)
	}

	var changes []events.ChangeEvent
	if committed {
		d := &differ{work: trees.Clone(current)}
		if err := d.compare(d.work, next); err != nil {
			s.setState(Deleted)
			s.metrics.ObserveUpdate(start, common.UpdateFailed)
			return common.NewErrorUtils().LogAndWrapError(s.logger, err, slog.LevelError, "unable to update snapshot %s, dropping it", root)
		}
		changes = d.changes
	}

	s.mu.Lock()
	s.current = next
	s.committed = true
	hooks := s.takeHooks()
	s.mu.Unlock()

	// Handlers run while the snapshot is still marked Scanning, so a handler
	// that reaches back for this snapshot does not start a nested update.
	s.emit(changes)
	for _, h := range hooks {
		h()
	}
	s.setState(Idle)

	s.metrics.ObserveUpdate(start, common.UpdateOK)
	if len(changes) > 0 {
		s.logger.Debug("Snapshot updated", "path", root, "changes", len(changes), "duration", time.Since(start))
	}
	return nil
}

func (s *Snapshot) emit(changes []events.ChangeEvent) {
	for _, change := range changes {
		s.metrics.EventDetected(change.Kind().String())
		switch e := change.(type) {
		case events.UpdateEvent:
			s.bus.EmitUpdate(e)
		case events.RenameEvent:
			s.bus.EmitRename(e)
		case events.RemoveEvent:
			s.bus.EmitRemove(e)
		case events.AddEvent:
			s.bus.EmitAdd(e)
		}
	}
}

// takeHooks returns the hooks to run for this update and drops the one-shot ones.
// Callers hold s.mu.
func (s *Snapshot) takeHooks() []func() {
	if len(s.hooks) == 0 {
		return nil
	}
	run := make([]func(), 0, len(s.hooks))
	kept := s.hooks[:0]
	for _, h := range s.hooks {
		run = append(run, h.fn)
		if !h.once {
			kept = append(kept, h)
		}
	}
	s.hooks = kept
	return run
}

func (s *Snapshot) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Deleted {
		return
	}
	s.state = state
}

// OnUpdate registers fn to run after every successful update, or only after
// the next one when once is set.
func (s *Snapshot) OnUpdate(fn func(), once bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, updateHook{fn: fn, once: once})
}

// Children returns the committed tree. Callers must not modify it.
func (s *Snapshot) Children() map[string]*trees.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// JSON renders the committed tree as nested name maps
func (s *Snapshot) JSON() map[string]any {
	return trees.ToJSON(s.Children())
}

func (s *Snapshot) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// SetPath points the snapshot at a new root
func (s *Snapshot) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

func (s *Snapshot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Snapshot) IsProcessing() bool { return s.State() == Scanning }
func (s *Snapshot) IsDeleted() bool    { return s.State() == Deleted }
