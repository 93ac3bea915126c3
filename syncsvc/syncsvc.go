// Package syncsvc implements the sync: binary sub-protocol: LIST, STAT, RECV,
// SEND, and QUIT over a pluggable adbfs.FileSystem.
package syncsvc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/XcantloadX/adbsrv/adbfs"
	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/adbproto/syncproto"
	"github.com/XcantloadX/adbsrv/router"
	"github.com/XcantloadX/adbsrv/session"
)

// Service implements the sync: route.
type Service struct {
	FS     adbfs.FileSystem
	Logger *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// RegisterRoutes enrolls the sync: route.
func (s *Service) RegisterRoutes(rt *router.Router) {
	rt.Register("sync:", s.handle)
}

// handle is the sync: entry point. It writes OKAY itself (the caller's
// Response.Disposition is Bidirectional, so the engine writes nothing), then
// runs the sync loop directly over the raw connection until QUIT, EOF, or a
// framing-fatal error.
func (s *Service) handle(ctx context.Context, _ map[string]string) router.Response {
	sess, ok := session.CurrentSession(ctx)
	if !ok {
		return router.Fail("no session")
	}
	conn := sess.Conn()

	if err := adbproto.WriteOkay(conn); err != nil {
		s.logger().Debug("sync: write okay failed", "err", err)
		return router.TookOver()
	}

	s.serveLoop(conn)
	return router.TookOver()
}

func (s *Service) serveLoop(conn net.Conn) {
	for {
		id, length, err := syncproto.ReadHeader(conn)
		if err != nil {
			return
		}
		if id == syncproto.IDQuit {
			return
		}

		switch id {
		case syncproto.IDList, syncproto.IDStat, syncproto.IDRecv, syncproto.IDSend:
			if length > syncproto.MaxPathLength {
				s.sendFail(conn, "path too long")
				return
			}
			path := make([]byte, length)
			if length > 0 {
				if _, err := io.ReadFull(conn, path); err != nil {
					return
				}
			}
			pathStr := string(path)

			switch id {
			case syncproto.IDList:
				if err := s.handleList(conn, pathStr); err != nil {
					s.logger().Debug("sync: list failed", "path", pathStr, "err", err)
					return
				}
				// loop continues: a sync connection may LIST more than once.
			case syncproto.IDStat:
				if err := s.handleStat(conn, pathStr); err != nil {
					return
				}
			case syncproto.IDRecv:
				// handleRecv already replies FAIL and returns nil for a
				// filesystem-level error; an error here means the wire itself
				// broke, so there's nothing left to reply to.
				if err := s.handleRecv(conn, pathStr); err != nil {
					s.logger().Debug("sync: recv failed", "path", pathStr, "err", err)
					return
				}
			case syncproto.IDSend:
				if err := s.handleSend(conn, pathStr); err != nil {
					s.logger().Debug("sync: send failed", "path", pathStr, "err", err)
					return
				}
			}
		default:
			s.sendFail(conn, "unknown sync id")
			return
		}
	}
}

func (s *Service) sendFail(w io.Writer, message string) {
	if err := syncproto.WriteFail(w, message); err != nil {
		s.logger().Debug("sync: write fail failed", "err", err)
	}
}

func (s *Service) handleList(w io.Writer, path string) error {
	entries, err := s.FS.Iterdir(path)
	if err != nil {
		s.sendFail(w, err.Error())
		return nil
	}
	for _, d := range entries {
		if d.Name == "." || d.Name == ".." {
			continue
		}
		if err := syncproto.WriteDent(w, syncproto.Dirent{
			Name:  d.Name,
			Mode:  d.Mode,
			Size:  d.Size,
			Mtime: d.Mtime,
		}); err != nil {
			return err
		}
	}
	return syncproto.WriteDone(w, 0)
}

func (s *Service) handleStat(w io.Writer, path string) error {
	st, ok, err := s.FS.Stat(path)
	if err != nil {
		s.sendFail(w, err.Error())
		return nil
	}
	if !ok {
		st = adbfs.FileStat{}
	}
	return syncproto.WriteStat(w, syncproto.FileStat{Mode: st.Mode, Size: st.Size, Mtime: st.Mtime})
}

func (s *Service) handleRecv(w io.Writer, path string) error {
	f, err := s.FS.OpenForRead(path)
	if err != nil {
		s.sendFail(w, err.Error())
		return nil
	}
	defer f.Close()

	buf := make([]byte, syncproto.MaxDataChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := syncproto.WriteFrame(w, syncproto.IDData, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return syncproto.WriteDone(w, 0)
}

func (s *Service) handleSend(conn net.Conn, spec string) error {
	comma := strings.LastIndexByte(spec, ',')
	if comma == -1 {
		return fmt.Errorf("bad SEND spec")
	}
	path := spec[:comma]
	mode, err := strconv.ParseUint(spec[comma+1:], 10, 32)
	if err != nil {
		return fmt.Errorf("bad mode")
	}

	// A failed open can't be reported immediately: the client is already
	// streaming DATA packets and doesn't wait for a reply until DONE, so
	// bailing out here would leave its trailing bytes on the wire to be
	// misread as the next command. Drain the transfer as normal, discarding
	// the data, and report the failure once DONE arrives.
	f, ferr := s.FS.OpenForWrite(path, uint32(mode))

	var mtime uint32
	var haveMtime bool
	for {
		id, length, err := syncproto.ReadHeader(conn)
		if err != nil {
			if f != nil {
				f.Close()
			}
			return err
		}
		switch id {
		case syncproto.IDData:
			if length > syncproto.MaxDataChunk {
				if f != nil {
					f.Close()
				}
				s.sendFail(conn, "oversize")
				return fmt.Errorf("oversize")
			}
			if length > 0 {
				data := make([]byte, length)
				if _, err := io.ReadFull(conn, data); err != nil {
					if f != nil {
						f.Close()
					}
					return err
				}
				if f != nil {
					if _, werr := f.Write(data); werr != nil && ferr == nil {
						ferr = werr
					}
				}
			}
		case syncproto.IDDone:
			mtime = length
			haveMtime = true
		default:
			if f != nil {
				f.Close()
			}
			s.sendFail(conn, "protocol error")
			return fmt.Errorf("unexpected chunk in SEND")
		}
		if haveMtime {
			break
		}
	}

	if ferr != nil {
		s.sendFail(conn, ferr.Error())
		return nil
	}
	if err := f.Close(); err != nil {
		s.sendFail(conn, err.Error())
		return nil
	}
	if haveMtime {
		_ = s.FS.SetMtime(path, time.Unix(int64(mtime), 0))
	}
	return syncproto.WriteOkay(conn)
}
