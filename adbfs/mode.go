package adbfs

import (
	"io/fs"
	"os"

	"github.com/XcantloadX/adbsrv/internal/bionic"
)

// posixMode translates a Go os.FileInfo's mode bits into the POSIX st_mode
// layout the sync sub-protocol's STAT/DENT frames expect on the wire.
// fs.FileMode's type bits (fs.ModeDir, fs.ModeSymlink, ...) are not
// numerically interchangeable with S_IFDIR/S_IFLNK/...; sending
// uint32(info.Mode()) directly produces a value that looks like a
// permission-bearing regular file to any client that inspects the type bits.
func posixMode(info os.FileInfo) uint32 {
	perm := uint32(info.Mode().Perm())
	switch m := info.Mode(); {
	case m&fs.ModeSymlink != 0:
		return bionic.S_IFLNK | perm
	case m.IsDir():
		return bionic.S_IFDIR | perm
	case m&fs.ModeSocket != 0:
		return bionic.S_IFSOCK | perm
	case m&fs.ModeNamedPipe != 0:
		return bionic.S_IFIFO | perm
	case m&fs.ModeDevice != 0 && m&fs.ModeCharDevice != 0:
		return bionic.S_IFCHR | perm
	case m&fs.ModeDevice != 0:
		return bionic.S_IFBLK | perm
	default:
		return bionic.S_IFREG | perm
	}
}
