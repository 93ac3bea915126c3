package adbfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/XcantloadX/adbsrv/internal/bionic"
)

func TestLocalFileSystemStatReportsPosixDirBit(t *testing.T) {
	root := t.TempDir()
	fs := NewLocalFileSystem(root)
	st, ok, err := fs.Stat("/")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected root to exist")
	}
	if st.Mode&bionic.S_IFMT != bionic.S_IFDIR {
		t.Fatalf("got mode %o, want S_IFDIR type bits set", st.Mode)
	}
}

func TestLocalFileSystemStatReportsPosixRegularFileBit(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := NewLocalFileSystem(root)
	st, ok, err := fs.Stat("/f.txt")
	if err != nil || !ok {
		t.Fatalf("stat failed: ok=%v err=%v", ok, err)
	}
	if st.Mode&bionic.S_IFMT != bionic.S_IFREG {
		t.Fatalf("got mode %o, want S_IFREG type bits set", st.Mode)
	}
	if st.Mode&0o777 != 0o644 {
		t.Fatalf("got perm bits %o, want 0644", st.Mode&0o777)
	}
}

func TestLocalFileSystemStatMissing(t *testing.T) {
	fs := NewLocalFileSystem(t.TempDir())
	_, ok, err := fs.Stat("/nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing path")
	}
}

func TestLocalFileSystemWriteReadRoundTrip(t *testing.T) {
	fs := NewLocalFileSystem(t.TempDir())
	wc, err := fs.OpenForWrite("/sub/dir/file.bin", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}

	rc, err := fs.OpenForRead("/sub/dir/file.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" {
		t.Fatalf("got %q", data)
	}
}

func TestLocalFileSystemSetMtime(t *testing.T) {
	fs := NewLocalFileSystem(t.TempDir())
	wc, err := fs.OpenForWrite("/f.txt", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	wc.Close()

	mtime := time.Unix(1700000000, 0)
	if err := fs.SetMtime("/f.txt", mtime); err != nil {
		t.Fatal(err)
	}
	st, ok, err := fs.Stat("/f.txt")
	if err != nil || !ok {
		t.Fatalf("stat failed: ok=%v err=%v", ok, err)
	}
	if int64(st.Mtime) != mtime.Unix() {
		t.Fatalf("got mtime %d, want %d", st.Mtime, mtime.Unix())
	}
}

func TestMemoryFileSystemIterdir(t *testing.T) {
	fs := NewMemoryFileSystem()
	wc, err := fs.OpenForWrite("/a/b.txt", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	wc.Close()

	entries, err := fs.Iterdir("/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "b.txt" {
		t.Fatalf("got entries %+v", entries)
	}
	if entries[0].Mode&bionic.S_IFMT != bionic.S_IFREG {
		t.Fatalf("got mode %o, want S_IFREG", entries[0].Mode)
	}
}

func TestMemoryFileSystemDirModeIsPosixDir(t *testing.T) {
	fs := NewMemoryFileSystem()
	if err := fs.Makedirs("/x/y"); err != nil {
		t.Fatal(err)
	}
	st, ok, err := fs.Stat("/x/y")
	if err != nil || !ok {
		t.Fatalf("stat failed: ok=%v err=%v", ok, err)
	}
	if st.Mode&bionic.S_IFMT != bionic.S_IFDIR {
		t.Fatalf("got mode %o, want S_IFDIR", st.Mode)
	}
}
