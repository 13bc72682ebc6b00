package trees

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
)

// Scanner builds snapshot trees by listing directories recursively
type Scanner struct {
	fs     FileSystem
	logger *slog.Logger
}

// ScannerOption allows for customization of Scanner
type ScannerOption func(*Scanner)

// WithFileSystem sets the listing and stat collaborator
func WithFileSystem(fsys FileSystem) ScannerOption {
	return func(s *Scanner) {
		s.fs = fsys
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		fs:     OSFileSystem{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan lists root and returns its children keyed by absolute path.
// Entries that vanish between listing and stat are dropped, entries that cannot
// be read for lack of permission are dropped with a warning, and any other
// failure aborts the whole scan.
func (s *Scanner) Scan(ctx context.Context, root string) (map[string]*Node, error) {
	entries, err := s.fs.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", root, err)
	}

	children := make(map[string]*Node)
	if err := s.fill(ctx, root, entries, children); err != nil {
		return nil, err
	}
	return children, nil
}

// fill stats every entry of dir into children, finishing each subfolder's
// subtree before the folder itself is inserted.
func (s *Scanner) fill(ctx context.Context, dir string, entries []fs.DirEntry, children map[string]*Node) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var folders []*Node

	for _, entry := range entries {
		// symlinks, sockets and devices are not tracked
		if !entry.Type().IsRegular() && !entry.IsDir() {
			continue
		}

		entryPath := filepath.Join(dir, entry.Name())
		info, err := s.fs.Stat(entryPath)
		if err != nil {
			skip, err := s.tolerate(entryPath, err)
			if skip {
				continue
			}
			return err
		}

		node := NewNode(entryPath, info)
		if node.IsFolder() {
			folders = append(folders, node)
			continue
		}
		children[entryPath] = node
	}

	for _, folder := range folders {
		entries, err := s.fs.ReadDir(folder.Path)
		if err != nil {
			skip, err := s.tolerate(folder.Path, err)
			if skip {
				continue
			}
			return err
		}

		if err := s.fill(ctx, folder.Path, entries, folder.Children); err != nil {
			return err
		}
		children[folder.Path] = folder
	}

	return nil
}

// tolerate decides whether a failed entry can be dropped from this generation
func (s *Scanner) tolerate(path string, err error) (bool, error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	case errors.Is(err, fs.ErrPermission):
		s.logger.Warn("Skipping entry, permission denied", "path", path, "error", err)
		return true, nil
	default:
		return false, fmt.Errorf("failed to scan %s: %w", path, err)
	}
}
