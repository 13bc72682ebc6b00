// Package watcher is the public face of the polling engine: it registers
// subscriptions, routes snapshot events to them and controls the scheduler.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/scheduler"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/snapshot"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/trees"
)

// Manager owns the event bus, the scheduler and the subscription registry.
// Handlers are invoked with no manager lock held, so they may call back into
// the manager. Handlers of different snapshots may run concurrently.
type Manager struct {
	mu       sync.Mutex
	registry *registry
	closed   bool

	bus        *events.Bus
	dispatcher *scheduler.Dispatcher
	fs         trees.FileSystem
	paths      *common.PathUtils
	errUtils   *common.ErrorUtils
	logger     *slog.Logger
	metrics    *common.WatchMetrics
	errs       chan error
}

// New creates a manager and, unless cfg.Paused is set, starts the timer
func New(cfg Config) (*Manager, error) {
	if cfg.FileSystem == nil {
		cfg.FileSystem = trees.OSFileSystem{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PathUtils == nil {
		cfg.PathUtils = common.NewPathUtils()
	}
	if cfg.ErrorBuffer < 0 {
		cfg.ErrorBuffer = 0
	}

	m := &Manager{
		registry: newRegistry(cfg.PathUtils),
		bus:      events.NewBus(),
		fs:       cfg.FileSystem,
		paths:    cfg.PathUtils,
		errUtils: common.NewErrorUtils(),
		logger:   cfg.Logger,
		metrics:  common.NewWatchMetrics(cfg.Registerer),
		errs:     make(chan error, cfg.ErrorBuffer),
	}

	dispatcher, err := scheduler.New(m.bus, scheduler.Config{
		Interval:           cfg.DetectionInterval,
		MaxConcurrentScans: cfg.MaxConcurrentScans,
		FileSystem:         cfg.FileSystem,
		Logger:             cfg.Logger,
		Metrics:            m.metrics,
		PathUtils:          cfg.PathUtils,
		OnError:            m.report,
	})
	if err != nil {
		return nil, err
	}
	m.dispatcher = dispatcher

	m.bus.OnUpdate(m.routeUpdate)
	m.bus.OnRemove(m.routeRemove)
	m.bus.OnRename(m.routeRename)
	m.bus.OnAdd(m.routeAdd)
	m.bus.OnSnapshotRemoved(m.routeRootRemoved)
	m.bus.OnShutdown(m.shutdown)

	if !cfg.Paused {
		dispatcher.Resume()
	}
	return m, nil
}

// Watch registers a subscription for path, which may be a file or a directory.
// A file is served by the snapshot of its parent directory.
func (m *Manager) Watch(ctx context.Context, path string, opts *WatchOptions) (*Subscription, error) {
	info, resolved, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	return m.watch(ctx, resolved, info, opts)
}

// WatchFile is Watch restricted to regular files
func (m *Manager) WatchFile(ctx context.Context, path string, opts *WatchOptions) (*Subscription, error) {
	info, resolved, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, m.errUtils.WrapError(common.ErrNotAFile, "unable to watch %s", path)
	}
	return m.watch(ctx, resolved, info, opts)
}

// WatchFolder is Watch restricted to directories
func (m *Manager) WatchFolder(ctx context.Context, path string, opts *WatchOptions) (*Subscription, error) {
	info, resolved, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, m.errUtils.WrapError(common.ErrNotADirectory, "unable to watch %s", path)
	}
	return m.watch(ctx, resolved, info, opts)
}

func (m *Manager) resolve(path string) (fs.FileInfo, string, error) {
	if err := m.paths.ValidatePath(path); err != nil {
		return nil, "", m.errUtils.WrapError(err, "unable to watch %q", path)
	}
	resolved := m.paths.NormalizePath(path)

	info, err := m.fs.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", m.errUtils.WrapError(common.ErrSourceNotExist, "unable to watch %s", resolved)
		}
		return nil, "", m.errUtils.WrapError(err, "unable to watch %s", resolved)
	}
	return info, resolved, nil
}

func (m *Manager) watch(ctx context.Context, resolved string, info fs.FileInfo, opts *WatchOptions) (*Subscription, error) {
	kind, dir := DirectorySubscription, resolved
	if !info.IsDir() {
		kind, dir = FileSubscription, m.paths.Parent(resolved)
	}

	f, err := newFilters(opts, m.paths)
	if err != nil {
		return nil, m.errUtils.WrapError(err, "unable to watch %s", resolved)
	}
	sub := newSubscription(resolved, kind, f, opts)

	if _, err := m.dispatcher.Snapshot(ctx, dir); err != nil {
		return nil, m.errUtils.WrapError(err, "unable to watch %s", resolved)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, common.ErrClosed
	}
	m.registry.add(sub)
	count := m.registry.len()
	m.mu.Unlock()

	m.metrics.SetSubscriptions(count)
	m.logger.Info("Watching path", "path", resolved, "type", kind.String(), "id", sub.ID())
	return sub, nil
}

// Unwatch discards a subscription. It reports whether the subscription was registered.
func (m *Manager) Unwatch(sub *Subscription) bool {
	m.mu.Lock()
	removed := m.registry.remove(sub)
	count := m.registry.len()
	m.mu.Unlock()

	if removed {
		m.metrics.SetSubscriptions(count)
		m.logger.Debug("Subscription removed", "path", sub.Path(), "id", sub.ID())
	}
	return removed
}

func (m *Manager) targets(path string) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.covering(path)
}

func (m *Manager) routeUpdate(e events.UpdateEvent) {
	for _, sub := range m.targets(e.Path) {
		if !sub.allows(e.Path) {
			continue
		}
		h := sub.snapshotHandlers()
		m.deliver(sub, e, func() {
			if h.onUpdate != nil {
				h.onUpdate(e)
			}
		})
	}
}

func (m *Manager) routeAdd(e events.AddEvent) {
	for _, sub := range m.targets(e.Path) {
		if !sub.allows(e.Path) {
			continue
		}
		h := sub.snapshotHandlers()
		m.deliver(sub, e, func() {
			if h.onAdd != nil {
				h.onAdd(e)
			}
		})
	}
}

// routeRemove notifies subscriptions at or above the removed path and those
// nested beneath it. Subscriptions whose root went away are detached once their
// remove callback has run.
func (m *Manager) routeRemove(e events.RemoveEvent) {
	m.mu.Lock()
	recipients := m.registry.covering(e.Path)
	for _, rec := range m.registry.within(e.Path) {
		for _, sub := range rec.subs {
			if !slices.Contains(recipients, sub) {
				recipients = append(recipients, sub)
			}
		}
	}
	m.mu.Unlock()

	for _, sub := range recipients {
		if !sub.allows(e.Path) {
			continue
		}
		h := sub.snapshotHandlers()
		m.deliver(sub, e, func() {
			if h.onRemove != nil {
				h.onRemove(e)
			}
		})
	}

	m.mu.Lock()
	gone := m.registry.detachWithin(e.Path)
	count := m.registry.len()
	m.mu.Unlock()

	if len(gone) > 0 {
		m.metrics.SetSubscriptions(count)
		m.logger.Debug("Detached subscriptions of removed path", "path", e.Path, "count", len(gone))
	}
}

// routeRename notifies subscriptions at or above the old path and moves every
// subscription rooted at or beneath it to the new location.
func (m *Manager) routeRename(e events.RenameEvent) {
	m.mu.Lock()
	recipients := m.registry.covering(e.OldPath)
	allowed := make([]bool, len(recipients))
	for i, sub := range recipients {
		allowed[i] = sub.allows(e.OldPath)
	}
	moved := m.registry.move(e.OldPath, e.NewPath)
	m.mu.Unlock()

	if moved > 0 {
		m.logger.Debug("Relocated subscriptions", "from", e.OldPath, "to", e.NewPath, "count", moved)
	}

	for i, sub := range recipients {
		if !allowed[i] {
			continue
		}
		h := sub.snapshotHandlers()
		m.deliver(sub, e, func() {
			if h.onRename != nil {
				h.onRename(e)
			}
		})
	}
}

func (m *Manager) routeRootRemoved(root string) {
	m.mu.Lock()
	gone := m.registry.detachWithin(root)
	count := m.registry.len()
	m.mu.Unlock()

	if len(gone) == 0 {
		return
	}
	m.metrics.SetSubscriptions(count)
	m.logger.Info("Watched root removed", "path", root, "subscriptions", len(gone))

	change := events.RootRemovedEvent{Path: root}
	for _, sub := range gone {
		h := sub.snapshotHandlers()
		m.deliver(sub, change, func() {
			if h.onRootRemoved != nil {
				h.onRootRemoved()
			}
		})
	}
}

// deliver runs the kind specific handler and then the generic change handler.
// A panicking handler is reported and does not stop delivery to others.
func (m *Manager) deliver(sub *Subscription, change events.ChangeEvent, specific func()) {
	kind := change.Kind().String()
	m.metrics.EventDelivered(kind)
	m.logger.Debug("Delivering event", "kind", kind, "subscription", sub.ID(), "path", sub.Path())

	m.call(sub, kind, specific)
	if onChange := sub.snapshotHandlers().onChange; onChange != nil {
		m.call(sub, "change", func() { onChange(change) })
	}
}

func (m *Manager) call(sub *Subscription, handler string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.HandlerPanicked()
			err := fmt.Errorf("%w: %s handler of %s (%s): %v", common.ErrHandlerPanic, handler, sub.Path(), sub.ID(), r)
			m.logger.Error("Subscription handler panicked", "handler", handler, "path", sub.Path(), "panic", r)
			m.report(err)
		}
	}()
	fn()
}

// report publishes err on the Errors channel, dropping it when the buffer is full
func (m *Manager) report(err error) {
	select {
	case m.errs <- err:
	default:
		m.logger.Warn("Error channel full, dropping error", "error", err)
	}
}

// Errors returns failures from timer driven ticks and panicking handlers
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// Tick runs one detection cycle synchronously
func (m *Manager) Tick(ctx context.Context) error {
	return m.dispatcher.Tick(ctx)
}

// SetDetectionInterval changes the scan interval, within [200ms, 300s]
func (m *Manager) SetDetectionInterval(interval time.Duration) error {
	return m.dispatcher.SetInterval(interval)
}

func (m *Manager) DetectionInterval() time.Duration {
	return m.dispatcher.Interval()
}

// Pause stops scanning while keeping snapshots and subscriptions
func (m *Manager) Pause() { m.dispatcher.Pause() }

// Resume restarts scanning after Pause
func (m *Manager) Resume() { m.dispatcher.Resume() }

func (m *Manager) IsRunning() bool { return m.dispatcher.IsRunning() }

// Close stops the engine and forgets every snapshot and subscription
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.bus.EmitShutdown()
	m.logger.Info("Watch manager closed")
	return nil
}

func (m *Manager) shutdown() {
	m.dispatcher.Close()

	m.mu.Lock()
	m.registry.clear()
	m.mu.Unlock()
	m.metrics.SetSubscriptions(0)
}

// Subscriptions returns the registered subscriptions ordered by path
func (m *Manager) Subscriptions() []*Subscription {
	m.mu.Lock()
	subs := m.registry.all()
	m.mu.Unlock()

	slices.SortStableFunc(subs, func(a, b *Subscription) int {
		return strings.Compare(a.Path(), b.Path())
	})
	return subs
}

// Snapshots returns the snapshots currently refreshed by the scheduler
func (m *Manager) Snapshots() []*snapshot.Snapshot {
	return m.dispatcher.Snapshots()
}
