package adbfs

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/XcantloadX/adbsrv/internal/bionic"
)

const (
	memDirMode  uint32 = bionic.S_IFDIR | 0o755
	memFileMode uint32 = bionic.S_IFREG | 0o644
)

type memNode struct {
	mode     uint32
	mtime    time.Time
	data     []byte             // regular files
	children map[string]*memNode // directories
}

// MemoryFileSystem implements FileSystem entirely in memory. It's grounded on
// the distilled prototype's own MemoryFileSystem, used there for tests and
// as an ephemeral sync target with no disk footprint. AutoCreate controls
// whether OpenForWrite silently creates missing ancestors (the prototype's
// default) or requires them to already exist; Makedirs always creates them.
type MemoryFileSystem struct {
	AutoCreate bool

	mu   sync.Mutex
	root *memNode
}

// NewMemoryFileSystem creates an empty, auto-creating MemoryFileSystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		AutoCreate: true,
		root:       &memNode{mode: memDirMode, mtime: time.Now(), children: map[string]*memNode{}},
	}
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// traverse walks to the node at parts, optionally creating missing
// directories along the way.
func (m *MemoryFileSystem) traverse(parts []string, create bool) (*memNode, error) {
	n := m.root
	for _, part := range parts {
		if n.children == nil {
			return nil, fmt.Errorf("not a directory")
		}
		child, ok := n.children[part]
		if !ok {
			if !create {
				return nil, os_errNotExist(part)
			}
			child = &memNode{mode: memDirMode, mtime: time.Now(), children: map[string]*memNode{}}
			n.children[part] = child
		}
		n = child
	}
	return n, nil
}

func os_errNotExist(name string) error {
	return fmt.Errorf("%s: no such file or directory", name)
}

func (m *MemoryFileSystem) Stat(p string) (FileStat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := splitPath(p)
	n, err := m.traverse(parts, false)
	if err != nil {
		return FileStat{}, false, nil
	}
	return FileStat{Mode: n.mode, Size: uint32(len(n.data)), Mtime: uint32(n.mtime.Unix())}, true, nil
}

func (m *MemoryFileSystem) Iterdir(p string) ([]Dirent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.traverse(splitPath(p), false)
	if err != nil {
		return nil, err
	}
	if n.children == nil {
		return nil, fmt.Errorf("not a directory")
	}
	out := make([]Dirent, 0, len(n.children))
	for name, child := range n.children {
		out = append(out, Dirent{
			Name: name,
			FileStat: FileStat{
				Mode:  child.mode,
				Size:  uint32(len(child.data)),
				Mtime: uint32(child.mtime.Unix()),
			},
		})
	}
	return out, nil
}

func (m *MemoryFileSystem) OpenForRead(p string) (ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.traverse(splitPath(p), false)
	if err != nil {
		return nil, err
	}
	if n.children != nil {
		return nil, fmt.Errorf("%s: is a directory", p)
	}
	return io.NopCloser(bytes.NewReader(n.data)), nil
}

type memWriter struct {
	fs    *MemoryFileSystem
	node  *memNode
	buf   bytes.Buffer
}

func (w *memWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *memWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.node.data = w.buf.Bytes()
	w.node.mtime = time.Now()
	return nil
}

func (m *MemoryFileSystem) OpenForWrite(p string, mode uint32) (WriteCloser, error) {
	m.mu.Lock()
	parts := splitPath(p)
	if len(parts) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("invalid path %q", p)
	}
	dir, err := m.traverse(parts[:len(parts)-1], m.AutoCreate)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	name := parts[len(parts)-1]
	node, ok := dir.children[name]
	if !ok {
		node = &memNode{mode: memFileMode}
		dir.children[name] = node
	}
	if mode != 0 {
		node.mode = mode | (memFileMode &^ 0o7777)
	}
	m.mu.Unlock()
	return &memWriter{fs: m, node: node}, nil
}

func (m *MemoryFileSystem) SetMtime(p string, mtime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.traverse(splitPath(p), false)
	if err != nil {
		return err
	}
	n.mtime = mtime
	return nil
}

func (m *MemoryFileSystem) Makedirs(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.traverse(splitPath(p), true)
	return err
}
