package watcher

import (
	"log/slog"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	internal "github.com/ZanzyTHEbar/overwatch-fs/owfs"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/trees"
)

// Handler signatures for the subscription callbacks
type (
	UpdateHandler      func(events.UpdateEvent)
	RemoveHandler      func(events.RemoveEvent)
	RenameHandler      func(events.RenameEvent)
	AddHandler         func(events.AddEvent)
	ChangeHandler      func(events.ChangeEvent)
	RootRemovedHandler func()
)

// WatchOptions configures a single Watch call.
// Filters only apply when the watched path is a directory.
type WatchOptions struct {
	// Include and Exclude hold literal paths or glob patterns
	Include []string
	Exclude []string

	IncludeRegexp []*regexp.Regexp
	ExcludeRegexp []*regexp.Regexp

	// IgnoreFile names a gitignore-style file whose patterns become exclude
	// rules, matched relative to the watched directory.
	IgnoreFile string

	OnUpdate      UpdateHandler
	OnRemove      RemoveHandler
	OnRename      RenameHandler
	OnAdd         AddHandler
	OnChange      ChangeHandler
	OnRootRemoved RootRemovedHandler
}

// Config holds the manager configuration
type Config struct {
	// DetectionInterval is the time between scans, within [200ms, 300s]
	DetectionInterval time.Duration

	// MaxConcurrentScans bounds how many snapshots refresh in parallel
	MaxConcurrentScans int

	// ErrorBuffer is the capacity of the Errors channel
	ErrorBuffer int

	// Paused leaves the timer stopped after New; ticks then only happen via Tick
	Paused bool

	FileSystem trees.FileSystem
	Logger     *slog.Logger

	// Registerer receives the engine metrics. Nil keeps them in a private registry.
	Registerer prometheus.Registerer

	PathUtils *common.PathUtils
}

// DefaultConfig returns a default watcher configuration
func DefaultConfig() Config {
	return Config{
		DetectionInterval:  internal.DefaultDetectionInterval,
		MaxConcurrentScans: internal.DefaultMaxConcurrentScans,
		ErrorBuffer:        internal.DefaultErrorBuffer,
	}
}
