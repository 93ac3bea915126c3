package adbfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalFileSystem implements FileSystem on the host disk, rooted at Root
// (the process's working directory if Root is empty). It performs no
// sandboxing: ".." components are not blocked, matching the spec's explicit
// "no sandbox" contract for the default backend.
type LocalFileSystem struct {
	Root string
}

// NewLocalFileSystem creates a LocalFileSystem rooted at root.
func NewLocalFileSystem(root string) *LocalFileSystem {
	if root == "" {
		root = "."
	}
	return &LocalFileSystem{Root: root}
}

func (l *LocalFileSystem) resolve(path string) string {
	path = strings.TrimLeft(path, "/\\")
	return filepath.Join(l.Root, path)
}

func (l *LocalFileSystem) Stat(path string) (FileStat, bool, error) {
	info, err := os.Stat(l.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return FileStat{}, false, nil
		}
		return FileStat{}, false, err
	}
	return FileStat{
		Mode:  posixMode(info),
		Size:  uint32(info.Size()),
		Mtime: uint32(info.ModTime().Unix()),
	}, true, nil
}

func (l *LocalFileSystem) Iterdir(path string) ([]Dirent, error) {
	entries, err := os.ReadDir(l.resolve(path))
	if err != nil {
		return nil, err
	}
	out := make([]Dirent, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // raced with a concurrent delete
			}
			return nil, err
		}
		out = append(out, Dirent{
			Name: e.Name(),
			FileStat: FileStat{
				Mode:  posixMode(info),
				Size:  uint32(info.Size()),
				Mtime: uint32(info.ModTime().Unix()),
			},
		})
	}
	return out, nil
}

func (l *LocalFileSystem) OpenForRead(path string) (ReadCloser, error) {
	return os.Open(l.resolve(path))
}

func (l *LocalFileSystem) OpenForWrite(path string, mode uint32) (WriteCloser, error) {
	full := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(mode&0o7777))
	if err != nil {
		return nil, err
	}
	_ = f.Chmod(fs.FileMode(mode & 0o7777)) // best-effort; OpenFile's mode is subject to umask
	return f, nil
}

func (l *LocalFileSystem) SetMtime(path string, mtime time.Time) error {
	// os.Chtimes requires an atime too; since the sync protocol doesn't carry
	// one, this best-effort sets it to now rather than trying to preserve the
	// existing atime (which isn't portably available from os.FileInfo).
	return os.Chtimes(l.resolve(path), time.Now(), mtime)
}

func (l *LocalFileSystem) Makedirs(path string) error {
	return os.MkdirAll(l.resolve(path), 0o755)
}
