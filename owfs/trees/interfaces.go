package trees

import (
	"io/fs"
	"os"
)

// FileSystem is the listing and stat primitive the scanner depends on.
// Errors must satisfy errors.Is against fs.ErrNotExist and fs.ErrPermission
// so the scanner can tell vanished and forbidden entries from real failures.
type FileSystem interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	Stat(name string) (fs.FileInfo, error)
}

// OSFileSystem reads the host filesystem
type OSFileSystem struct{}

func (OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}
