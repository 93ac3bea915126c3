// Package adbfs defines the AbstractFileSystem contract the sync service
// consumes, and provides a default host-disk implementation plus an
// in-memory one for tests and ephemeral embedders.
package adbfs

import (
	"io"
	"time"
)

// FileStat is the subset of file metadata the sync protocol carries.
type FileStat struct {
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Dirent is one directory entry, as FileStat plus a name.
type Dirent struct {
	Name string
	FileStat
}

// ReadCloser is a readable, closeable byte stream.
type ReadCloser = io.ReadCloser

// WriteCloser is a writable, closeable byte stream.
type WriteCloser = io.WriteCloser

// FileSystem is the AbstractFileSystem contract: stat, iterate, open for
// read/write, set mtime, and make directories. Paths are opaque UTF-8
// strings interpreted entirely by the implementation; the default
// implementation (LocalFileSystem) maps them onto the host disk with no
// sandboxing.
type FileSystem interface {
	// Stat returns metadata for path. ok is false if path does not exist;
	// other errors are returned in err.
	Stat(path string) (st FileStat, ok bool, err error)

	// Iterdir returns the entries of the directory at path, excluding "."
	// and "..". Iteration order is whatever the backend naturally produces;
	// no sort is guaranteed.
	Iterdir(path string) ([]Dirent, error)

	// OpenForRead opens path for reading.
	OpenForRead(path string) (ReadCloser, error)

	// OpenForWrite opens path for writing, truncating any existing content
	// and creating parent directories as needed. mode is a Unix-style
	// permission bitmask; implementations that can't honor it best-effort it
	// or ignore it.
	OpenForWrite(path string, mode uint32) (WriteCloser, error)

	// SetMtime sets path's modification time, best-effort.
	SetMtime(path string, mtime time.Time) error

	// Makedirs creates path and any missing parents, idempotently.
	Makedirs(path string) error
}
