// Package scheduler owns the table of snapshots and the timer that refreshes them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	internal "github.com/ZanzyTHEbar/overwatch-fs/owfs"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/snapshot"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/trees"
)

// Config holds the dispatcher settings
type Config struct {
	// Interval between ticks, within the detection interval bounds of the owfs package
	Interval time.Duration

	// MaxConcurrentScans bounds how many snapshots update in parallel per tick
	MaxConcurrentScans int

	FileSystem trees.FileSystem
	Logger     *slog.Logger
	Metrics    *common.WatchMetrics
	PathUtils  *common.PathUtils

	// OnError receives failures from ticks driven by the timer
	OnError func(error)
}

// DefaultConfig returns the stock dispatcher settings
func DefaultConfig() Config {
	return Config{
		Interval:           internal.DefaultDetectionInterval,
		MaxConcurrentScans: internal.DefaultMaxConcurrentScans,
	}
}

// ValidateInterval reports whether interval lies in the accepted range
func ValidateInterval(interval time.Duration) error {
	if interval < internal.MinDetectionInterval || interval > internal.MaxDetectionInterval {
		return fmt.Errorf("%w: %v not in [%v, %v]", common.ErrIntervalOutOfRange, interval, internal.MinDetectionInterval, internal.MaxDetectionInterval)
	}
	return nil
}

// Dispatcher refreshes every registered snapshot on a fixed interval.
// Snapshots are keyed by their root; a watched path is served by the nearest
// snapshot at or above it.
type Dispatcher struct {
	mu        sync.Mutex
	snapshots map[string]*snapshot.Snapshot
	interval  time.Duration
	running   bool
	closed    bool
	stop      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	bus       *events.Bus
	cfg       Config
	logger    *slog.Logger
	pathUtils *common.PathUtils
}

// New creates a stopped dispatcher emitting on bus. Call Resume to start the timer.
func New(bus *events.Bus, cfg Config) (*Dispatcher, error) {
	if cfg.Interval == 0 {
		cfg.Interval = internal.DefaultDetectionInterval
	}
	if err := ValidateInterval(cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentScans < 1 {
		cfg.MaxConcurrentScans = 1
	}
	if cfg.FileSystem == nil {
		cfg.FileSystem = trees.OSFileSystem{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PathUtils == nil {
		cfg.PathUtils = common.NewPathUtils()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		snapshots: make(map[string]*snapshot.Snapshot),
		interval:  cfg.Interval,
		ctx:       ctx,
		cancel:    cancel,
		bus:       bus,
		cfg:       cfg,
		logger:    cfg.Logger,
		pathUtils: cfg.PathUtils,
	}, nil
}

// Snapshot returns the snapshot covering path, refreshing it when idle.
// When none covers it a new snapshot rooted at path is scanned and registered;
// snapshots nested under the new root are retired since it now covers them.
func (d *Dispatcher) Snapshot(ctx context.Context, path string) (*snapshot.Snapshot, error) {
	path = d.pathUtils.NormalizePath(path)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, common.ErrClosed
	}
	existing := d.covering(path)
	d.mu.Unlock()

	if existing != nil {
		if !existing.IsProcessing() {
			if err := existing.Update(ctx); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	snap := snapshot.New(path,
		snapshot.WithBus(d.bus),
		snapshot.WithFileSystem(d.cfg.FileSystem),
		snapshot.WithLogger(d.logger),
		snapshot.WithMetrics(d.cfg.Metrics),
	)
	if err := snap.Update(ctx); err != nil {
		return nil, err
	}
	if snap.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", common.ErrSourceNotExist, path)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, common.ErrClosed
	}
	if other := d.covering(path); other != nil {
		// lost a race with a concurrent request for the same tree
		d.mu.Unlock()
		return other, nil
	}

	var stale []string
	for key, nested := range d.snapshots {
		if !d.pathUtils.IsSubpath(path, nested.Path()) && key != d.pathUtils.Key(path) {
			continue
		}
		delete(d.snapshots, key)
		if nested.IsDeleted() {
			stale = append(stale, nested.Path())
		} else {
			d.logger.Debug("Retiring nested snapshot", "path", nested.Path(), "covered_by", path)
		}
	}
	d.snapshots[d.pathUtils.Key(path)] = snap
	count := len(d.snapshots)
	d.mu.Unlock()

	d.cfg.Metrics.SetSnapshots(count)
	for _, root := range stale {
		d.bus.EmitSnapshotRemoved(root)
	}

	d.logger.Info("Snapshot created", "path", path)
	return snap, nil
}

// covering finds the live snapshot at path or its nearest ancestor. Callers hold d.mu.
func (d *Dispatcher) covering(path string) *snapshot.Snapshot {
	current := path
	for {
		if snap, ok := d.snapshots[d.pathUtils.Key(current)]; ok && !snap.IsDeleted() {
			return snap
		}
		parent := d.pathUtils.Parent(current)
		if parent == current {
			return nil
		}
		current = parent
	}
}

// Tick updates every live snapshot and prunes the deleted ones.
// Busy snapshots are skipped rather than queued. Update failures are joined
// into the returned error; they do not stop the other snapshots.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.cfg.Metrics.Tick()

	d.mu.Lock()
	live := make([]*snapshot.Snapshot, 0, len(d.snapshots))
	for _, snap := range d.snapshots {
		if !snap.IsDeleted() {
			live = append(live, snap)
		}
	}
	d.mu.Unlock()

	p := pool.New().WithMaxGoroutines(d.cfg.MaxConcurrentScans).WithContext(ctx)
	for _, snap := range live {
		p.Go(func(ctx context.Context) error {
			return snap.Update(ctx)
		})
	}
	err := p.Wait()

	d.mu.Lock()
	var removed []string
	for key, snap := range d.snapshots {
		if snap.IsDeleted() {
			delete(d.snapshots, key)
			removed = append(removed, snap.Path())
		}
	}
	count := len(d.snapshots)
	d.mu.Unlock()

	if len(removed) > 0 {
		d.cfg.Metrics.SetSnapshots(count)
	}
	slices.Sort(removed)
	for _, root := range removed {
		d.logger.Info("Snapshot removed", "path", root)
		d.bus.EmitSnapshotRemoved(root)
	}

	return err
}

func (d *Dispatcher) loop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.Tick(d.ctx); err != nil {
				if d.cfg.OnError != nil {
					d.cfg.OnError(err)
				} else {
					d.logger.Error("Tick failed", "error", err)
				}
			}
		}
	}
}

// start launches the timer goroutine. Callers hold d.mu.
func (d *Dispatcher) start() {
	d.stop = make(chan struct{})
	d.running = true
	go d.loop(d.interval, d.stop)
}

// halt stops the timer without waiting for an in-flight tick. Callers hold d.mu.
func (d *Dispatcher) halt() {
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.running = false
}

// SetInterval changes the tick interval and restarts a running timer immediately
func (d *Dispatcher) SetInterval(interval time.Duration) error {
	if err := ValidateInterval(interval); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.interval = interval
	if d.running {
		d.halt()
		d.start()
	}
	d.logger.Debug("Detection interval changed", "interval", interval)
	return nil
}

func (d *Dispatcher) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// Pause stops the timer. Snapshots are kept.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halt()
}

// Resume starts the timer if it is not already running
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.closed {
		return
	}
	d.start()
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close stops the timer, cancels in-flight scans and clears the table
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.halt()
	d.closed = true
	d.cancel()
	clear(d.snapshots)
	d.cfg.Metrics.SetSnapshots(0)
}

// Snapshots returns the registered snapshots ordered by root
func (d *Dispatcher) Snapshots() []*snapshot.Snapshot {
	d.mu.Lock()
	out := make([]*snapshot.Snapshot, 0, len(d.snapshots))
	for _, snap := range d.snapshots {
		out = append(out, snap)
	}
	d.mu.Unlock()

	slices.SortFunc(out, func(a, b *snapshot.Snapshot) int {
		return strings.Compare(a.Path(), b.Path())
	})
	return out
}
