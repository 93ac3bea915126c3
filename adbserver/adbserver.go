// Package adbserver implements the host-side smart-socket TCP listener: it
// accepts connections and hands each to a session.Engine, mirroring the
// accept-loop, tracked-listener, and graceful-shutdown shape of the inherited
// client library's adbproxy.Server.
package adbserver

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XcantloadX/adbsrv/session"
)

var debug *slog.Logger

func init() {
	if v, _ := strconv.ParseBool(os.Getenv("ADBSRV_TRACE")); v {
		debug = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		debug = slog.New(slog.DiscardHandler)
	}
}

// Trace enables debug logging to the specified logger, letting an embedder
// override the ADBSRV_TRACE-gated default at startup.
func Trace(logger *slog.Logger) {
	debug = logger
}

// ErrServerClosed is returned by Serve/ListenAndServe after Close or Shutdown.
var ErrServerClosed = errors.New("adbserver: server closed")

// Server accepts smart-socket connections on Addr and dispatches each
// through Engine.
type Server struct {
	// Addr is the TCP address to listen on, e.g. "127.0.0.1:5037".
	Addr string

	// Engine handles one connection's request/response loop.
	Engine *session.Engine

	// BaseContext, if non-nil, supplies the base context for accepted
	// connections; it receives the listener about to start accepting.
	BaseContext func(net.Listener) context.Context

	shuttingDown  atomic.Bool
	listenerGroup sync.WaitGroup
	connGroup     sync.WaitGroup

	mu        sync.Mutex
	listeners map[*net.Listener]struct{}
}

// ListenAndServe listens on s.Addr and calls Serve to handle connections.
func (s *Server) ListenAndServe() error {
	if s.shuttingDown.Load() {
		return ErrServerClosed
	}
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	defer l.Close()
	return s.Serve(l)
}

// Serve accepts connections on l, running one session.Engine.Serve call per
// connection in its own goroutine, until the listener is closed.
func (s *Server) Serve(l net.Listener) error {
	lorig := l
	l = &onceCloseListener{Listener: lorig}

	if !s.trackListener(&l, true) {
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)

	ctx := context.Background()
	if s.BaseContext != nil {
		ctx = s.BaseContext(lorig)
		if ctx == nil {
			panic("adbserver: BaseContext returned a nil context")
		}
	}

	var delay time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				delay = min(1*time.Second, cmp.Or(delay*2, 5*time.Millisecond))
				time.Sleep(delay)
				continue
			}
			if s.shuttingDown.Load() {
				return ErrServerClosed
			}
			return err
		}
		delay = 0

		debug.Debug("accept", "remote", c.RemoteAddr())
		s.connGroup.Add(1)
		go func() {
			defer s.connGroup.Done()
			defer debug.Debug("close", "remote", c.RemoteAddr())
			if err := s.Engine.Serve(ctx, c); err != nil {
				debug.Debug("session ended with error", "remote", c.RemoteAddr(), "err", err)
			}
		}()
	}
}

// RequestShutdown implements hostsvc.Killer: it closes the listener(s)
// asynchronously so the caller (host:kill, already past writing OKAY by the
// time the session disposition takes effect) is never blocked by it.
func (s *Server) RequestShutdown() {
	go s.Close()
}

func (s *Server) closeListeners() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for l := range s.listeners {
		if err := (*l).Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close immediately closes the listener(s); connections already accepted are
// left to finish (or be killed) by the caller. It also calls
// Engine.Shutdown, so in-flight sessions stop looping on KEEP-ALIVE.
func (s *Server) Close() error {
	s.shuttingDown.Store(true)
	s.Engine.Shutdown()
	err := s.closeListeners()
	s.listenerGroup.Wait()
	return err
}

// Shutdown stops accepting new connections and waits for every in-flight
// session goroutine spawned by Serve to return (KEEP-ALIVE sessions stop
// looping once Engine.Shutdown takes effect; a BIDIRECTIONAL handler like
// shell or sync runs until its own I/O drains). It returns once every
// session has finished, or ctx expires first, whichever comes sooner.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)
	s.Engine.Shutdown()
	clerr := s.closeListeners()
	s.listenerGroup.Wait()

	done := make(chan struct{})
	go func() {
		s.connGroup.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return clerr
	}
}

func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[*net.Listener]struct{})
	}
	if add {
		if s.shuttingDown.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
		s.listenerGroup.Add(1)
	} else {
		delete(s.listeners, ln)
		s.listenerGroup.Done()
	}
	return true
}

type onceCloseListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (oc *onceCloseListener) Close() error {
	oc.once.Do(oc.close)
	return oc.err
}

func (oc *onceCloseListener) close() {
	oc.err = oc.Listener.Close()
}
