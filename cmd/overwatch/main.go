// Command overwatch polls one or more paths and logs every change it detects.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	internal "github.com/ZanzyTHEbar/overwatch-fs/owfs"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/config"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/events"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/watcher"
)

type options struct {
	configPath  string
	interval    int
	include     []string
	exclude     []string
	ignoreFile  string
	logLevel    string
	logFormat   string
	metricsAddr string
	once        bool
	paths       []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, set, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s: %v\n", internal.DefaultAppCMDShortCut, err)
		return 2
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", internal.DefaultAppCMDShortCut, err)
		return 1
	}
	applyOverrides(cfg, opts, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", internal.DefaultAppCMDShortCut, err)
		return 2
	}

	logger := internal.NewLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slogger := slog.New(internal.NewSlogHandler(logger))
	slog.SetDefault(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	m, err := watcher.New(watcher.Config{
		DetectionInterval:  cfg.Watch.Interval(),
		MaxConcurrentScans: cfg.Watch.MaxConcurrentScans,
		ErrorBuffer:        cfg.Watch.ErrorBuffer,
		Paused:             true,
		Logger:             slogger,
		Registerer:         reg,
	})
	if err != nil {
		logger.Error().Err(err).Msg("unable to start watcher")
		return 1
	}
	defer m.Close()

	for _, path := range opts.paths {
		sub, err := m.Watch(ctx, path, &watcher.WatchOptions{
			Include:    cfg.Watch.Include,
			Exclude:    cfg.Watch.Exclude,
			IgnoreFile: cfg.Watch.IgnoreFile,
			OnChange:   logChange(logger),
		})
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("unable to watch path")
			return 1
		}
		logger.Info().Str("path", sub.Path()).Str("type", sub.Type().String()).Msg("watching")
	}

	if opts.once {
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(cfg.Watch.Interval()):
		}
		if err := m.Tick(ctx); err != nil {
			logger.Error().Err(err).Msg("tick failed")
			return 1
		}
		drainErrors(m, logger)
		return 0
	}

	m.Resume()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return 0
		case err := <-m.Errors():
			logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func parseArgs(args []string, stderr io.Writer) (options, *pflag.FlagSet, error) {
	var opts options
	fs := pflag.NewFlagSet(internal.DefaultAppCMDShortCut, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] PATH...\n", internal.DefaultAppCMDShortCut)
		fs.PrintDefaults()
	}

	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a config file")
	fs.IntVarP(&opts.interval, "interval", "i", int(internal.DefaultDetectionInterval.Milliseconds()), "detection interval in milliseconds")
	fs.StringSliceVar(&opts.include, "include", nil, "include rule (path or glob), repeatable")
	fs.StringSliceVar(&opts.exclude, "exclude", nil, "exclude rule (path or glob), repeatable")
	fs.StringVar(&opts.ignoreFile, "ignore-file", "", "gitignore-style file of exclude patterns")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	fs.StringVar(&opts.logFormat, "log-format", "console", "log format: console or json")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&opts.once, "once", false, "take a baseline, run a single tick after one interval and exit")

	if err := fs.Parse(args); err != nil {
		return opts, fs, err
	}
	opts.paths = fs.Args()
	if len(opts.paths) == 0 {
		fs.Usage()
		return opts, fs, errors.New("at least one PATH is required")
	}
	return opts, fs, nil
}

// applyOverrides copies explicitly set flags over the loaded configuration
func applyOverrides(cfg *config.Config, opts options, set *pflag.FlagSet) {
	if set.Changed("interval") {
		cfg.Watch.DetectionIntervalMs = opts.interval
	}
	if set.Changed("include") {
		cfg.Watch.Include = opts.include
	}
	if set.Changed("exclude") {
		cfg.Watch.Exclude = opts.exclude
	}
	if set.Changed("ignore-file") {
		cfg.Watch.IgnoreFile = opts.ignoreFile
	}
	if set.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if set.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if set.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.metricsAddr
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func logChange(logger zerolog.Logger) watcher.ChangeHandler {
	return func(change events.ChangeEvent) {
		ev := logger.Info().Str("kind", change.Kind().String())
		switch e := change.(type) {
		case events.UpdateEvent:
			ev = ev.Str("path", e.Path).Stringer("type", e.Type)
		case events.AddEvent:
			ev = ev.Str("path", e.Path).Stringer("type", e.Type)
		case events.RemoveEvent:
			ev = ev.Str("path", e.Path).Stringer("type", e.Type)
		case events.RenameEvent:
			ev = ev.Str("from", e.OldPath).Str("to", e.NewPath).Stringer("type", e.Type)
		case events.RootRemovedEvent:
			ev = ev.Str("path", e.Path)
		}
		ev.Msg("change")
	}
}

func drainErrors(m *watcher.Manager, logger zerolog.Logger) {
	for {
		select {
		case err := <-m.Errors():
			logger.Warn().Err(err).Msg("watch error")
		default:
			return
		}
	}
}
