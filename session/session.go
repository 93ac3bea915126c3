// Package session implements the per-connection SessionEngine: it reads one
// smart-socket request at a time, dispatches it through a Router, and honors
// the disposition (CLOSE / KEEP-ALIVE / BIDIRECTIONAL) the matched handler
// declares.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/device"
	"github.com/XcantloadX/adbsrv/router"
)

// Session is the per-connection state the engine exposes to handlers via the
// router's ambient context slot.
type Session struct {
	id      string
	conn    net.Conn
	devices *device.Manager

	mu       sync.Mutex
	selected *device.Device
}

// ID returns a per-connection identifier, used as the device manager's
// selection key.
func (s *Session) ID() string { return s.id }

// Conn returns the underlying connection. BIDIRECTIONAL handlers (shell,
// sync) use this to take over the byte stream directly.
func (s *Session) Conn() net.Conn { return s.conn }

// SelectedDevice returns the device this session has selected, resolving and
// caching it on first use (the spec's "sessions take a snapshot of the
// selected device when a handler first asks for it").
func (s *Session) SelectedDevice() (device.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != nil {
		return *s.selected, true
	}
	if s.devices == nil {
		return device.Device{}, false
	}
	d, ok := s.devices.Selected(s.id)
	if !ok {
		return device.Device{}, false
	}
	s.selected = &d
	return d, true
}

// SelectDevice asks the device manager to bind this session to serial (or
// "any" device if serial is empty), invalidating any cached snapshot.
func (s *Session) SelectDevice(serial string) error {
	if s.devices == nil {
		return fmt.Errorf("no device manager configured")
	}
	if err := s.devices.Select(s.id, serial); err != nil {
		return err
	}
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
	return nil
}

// CurrentSession retrieves the Session installed by the router for the
// handler currently executing.
func CurrentSession(ctx context.Context) (*Session, bool) {
	return router.CurrentSession[*Session](ctx)
}

func newSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b)
}

// Engine runs the SessionEngine state machine over accepted connections.
type Engine struct {
	Router  *router.Router
	Devices *device.Manager
	Logger  *slog.Logger

	closed atomic.Bool
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Shutdown marks the engine as shutting down; in-flight Serve calls finish
// their current request, then close rather than looping on KEEP-ALIVE. The
// closed flag is only checked at the top of the request loop, so a
// KEEP-ALIVE connection currently blocked inside ReadRequest (idle, waiting
// on its peer) is not actively woken up — it's left to whatever reaps it
// when the process exits, not cancelled on the spot.
func (e *Engine) Shutdown() {
	e.closed.Store(true)
}

// ErrShutdown is returned by Serve when the engine was shut down mid-session.
var ErrShutdown = errors.New("session engine shut down")

// Serve runs the IDLE -> DISPATCH -> DONE state machine for one connection
// until the handler takes it over (BIDIRECTIONAL), the peer closes, the
// disposition is CLOSE, or the engine shuts down. It always closes conn
// before returning.
func (e *Engine) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	sess := &Session{id: newSessionID(), conn: conn, devices: e.Devices}
	defer func() {
		if e.Devices != nil {
			e.Devices.Forget(sess.id)
		}
	}()

	log := e.logger()
	for {
		if e.closed.Load() {
			return ErrShutdown
		}

		request, err := adbproto.ReadRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, strconv.ErrSyntax) {
				_ = adbproto.WriteFail(conn, "malformed length")
			}
			log.Debug("read request failed", "err", err)
			return err
		}
		log.Debug("dispatch", "request", request)

		resp := e.dispatch(ctx, sess, request)

		if resp.Disposition == router.Bidirectional {
			// The handler already wrote everything (including OKAY/FAIL) and
			// has fully consumed the connection; nothing more to do here.
			return nil
		}

		if !resp.OK {
			if err := adbproto.WriteFail(conn, resp.Message); err != nil {
				return err
			}
			return nil
		}

		if err := adbproto.WriteOkay(conn); err != nil {
			return err
		}
		if resp.Body != nil {
			if resp.Raw {
				if _, err := conn.Write(resp.Body); err != nil {
					return err
				}
			} else {
				if err := adbproto.WriteLengthPrefixed(conn, string(resp.Body)); err != nil {
					return err
				}
			}
		}

		switch resp.Disposition {
		case router.Close:
			return nil
		case router.KeepAlive:
			continue
		default:
			return nil
		}
	}
}

// dispatch recovers from a panicking handler, converting it into FAIL rather
// than letting it take down the whole listener.
func (e *Engine) dispatch(ctx context.Context, sess *Session, request string) (resp router.Response) {
	defer func() {
		if r := recover(); r != nil {
			e.logger().Error("handler panicked", "request", request, "recover", r)
			resp = router.Fail("internal error")
		}
	}()
	return e.Router.Dispatch(ctx, sess, request)
}
