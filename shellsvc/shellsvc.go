// Package shellsvc implements the shell:, shell,v2:, and exec: routes: four
// shell execution modes sharing one spawn/pump core, differing only in
// packet framing (raw bytes vs. shell protocol v2) and in whether a PTY is
// attached.
package shellsvc

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/XcantloadX/adbsrv/adbproto"
	"github.com/XcantloadX/adbsrv/adbproto/shellproto2"
	"github.com/XcantloadX/adbsrv/router"
	"github.com/XcantloadX/adbsrv/session"
)

// Service implements the shell-family routes. Shell names the interpreter
// used to run commands; "/bin/sh" (or "cmd" on Windows) if empty.
type Service struct {
	Shell  string
	Logger *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// RegisterRoutes enrolls all six shell-family routes.
func (s *Service) RegisterRoutes(rt *router.Router) {
	rt.Register("shell:<cmd>", s.nonInteractiveRaw)
	rt.Register("shell:", s.interactiveRaw)
	rt.Register("shell,v2:<cmd>", s.nonInteractiveV2)
	rt.Register("shell,v2:", s.interactiveV2)
	rt.Register("exec:<cmd>", s.nonInteractiveRaw)
	rt.Register("exec:", s.interactiveRaw)
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "/bin/sh"
}

func (s *Service) buildCmd(command string) *exec.Cmd {
	sh := s.Shell
	if sh == "" {
		sh = defaultShell()
	}
	if command == "" {
		return exec.Command(sh)
	}
	if runtime.GOOS == "windows" {
		return exec.Command(sh, "/C", command)
	}
	return exec.Command(sh, "-c", command)
}

// spawnMerged starts command with stdout and stderr connected to the same
// descriptor (PTY or pipe), as required by the raw-protocol modes. If
// wantPTY is true a PTY is attempted first and ptyFile is non-nil on
// success; any PTY failure falls back to plain pipes (best-effort PTY).
func (s *Service) spawnMerged(command string, wantPTY bool) (cmd *exec.Cmd, stdin io.WriteCloser, output io.ReadCloser, ptyFile *os.File, err error) {
	cmd = s.buildCmd(command)
	setsidAttrs(cmd)

	if wantPTY {
		if f, ptyErr := startPTY(cmd); ptyErr == nil {
			return cmd, f, f, f, nil
		} else {
			s.logger().Debug("shell: pty unavailable, falling back to pipes", "err", ptyErr)
			cmd = s.buildCmd(command)
			setsidAttrs(cmd)
		}
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, nil, nil, nil, err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = outW
	cmd.Stderr = outW
	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		outR.Close()
		outW.Close()
		return nil, nil, nil, nil, err
	}
	stdinR.Close()
	outW.Close()
	return cmd, stdinW, outR, nil, nil
}

// spawnSplit starts command with stdout and stderr on independent pipes, as
// required by shell protocol v2's distinct STDOUT/STDERR packet ids when no
// PTY is in use. stderr is nil when a PTY was attached instead (its output
// merges into stdout by construction).
func (s *Service) spawnSplit(command string, wantPTY bool) (cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser, ptyFile *os.File, err error) {
	cmd = s.buildCmd(command)
	setsidAttrs(cmd)

	if wantPTY {
		if f, ptyErr := startPTY(cmd); ptyErr == nil {
			return cmd, f, f, nil, f, nil
		} else {
			s.logger().Debug("shell: pty unavailable, falling back to pipes", "err", ptyErr)
			cmd = s.buildCmd(command)
			setsidAttrs(cmd)
		}
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, nil, nil, nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		outR.Close()
		outW.Close()
		return nil, nil, nil, nil, nil, err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, nil, nil, nil, nil, err
	}
	stdinR.Close()
	outW.Close()
	errW.Close()
	return cmd, stdinW, outR, errR, nil, nil
}

// nonInteractiveRaw handles shell:<cmd> and exec:<cmd>: run to completion,
// streaming merged stdout+stderr to the client, discarding the exit code.
func (s *Service) nonInteractiveRaw(ctx context.Context, params map[string]string) router.Response {
	sess, ok := session.CurrentSession(ctx)
	if !ok {
		return router.Fail("no session")
	}
	conn := sess.Conn()

	cmd, stdin, output, _, err := s.spawnMerged(params["cmd"], false)
	if err != nil {
		_ = adbproto.WriteFail(conn, err.Error())
		return router.TookOver()
	}
	_ = stdin.Close() // one-shot command: give the child immediate stdin EOF

	if err := adbproto.WriteOkay(conn); err != nil {
		_ = output.Close()
		_ = cmd.Wait()
		return router.TookOver()
	}

	_, _ = io.Copy(conn, output)
	_ = output.Close()
	_ = cmd.Wait()
	return router.TookOver()
}

// nonInteractiveV2 handles shell,v2:<cmd>: framed stdout/stderr, terminated
// by an EXIT packet carrying the clamped/signal-mapped exit code.
func (s *Service) nonInteractiveV2(ctx context.Context, params map[string]string) router.Response {
	sess, ok := session.CurrentSession(ctx)
	if !ok {
		return router.Fail("no session")
	}
	conn := sess.Conn()

	cmd, stdin, stdout, stderr, _, err := s.spawnSplit(params["cmd"], false)
	if err != nil {
		_ = adbproto.WriteFail(conn, err.Error())
		return router.TookOver()
	}
	_ = stdin.Close()

	if err := adbproto.WriteOkay(conn); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		_ = cmd.Wait()
		return router.TookOver()
	}

	pconn := shellproto2.New(conn)
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go drainToPackets(stdout, shellproto2.PacketStdout, pconn, &writeMu, &wg)
	go drainToPackets(stderr, shellproto2.PacketStderr, pconn, &writeMu, &wg)
	wg.Wait()

	_ = cmd.Wait()
	code := exitCode(cmd.ProcessState)
	writeMu.Lock()
	pconn.Write(shellproto2.PacketExit, []byte{byte(code)})
	writeMu.Unlock()

	_ = stdout.Close()
	_ = stderr.Close()
	return router.TookOver()
}

// interactiveRaw handles shell: and exec:: two concurrent byte pumps until
// the child exits or the client disconnects.
func (s *Service) interactiveRaw(ctx context.Context, params map[string]string) router.Response {
	sess, ok := session.CurrentSession(ctx)
	if !ok {
		return router.Fail("no session")
	}
	conn := sess.Conn()

	cmd, stdin, output, ptyFile, err := s.spawnMerged("", true)
	if err != nil {
		_ = adbproto.WriteFail(conn, err.Error())
		return router.TookOver()
	}
	if err := adbproto.WriteOkay(conn); err != nil {
		terminateAndReap(cmd)
		_ = output.Close()
		return router.TookOver()
	}

	// Client half-close reaches stdin EOF once the engine closes conn after
	// this handler returns; this goroutine is left to drain on its own.
	go func() {
		_, _ = io.Copy(stdin, conn)
		_ = stdin.Close()
	}()

	outputDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(conn, output)
		close(outputDone)
	}()

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-outputDone:
	}
	gracefulShutdown(cmd, waitDone)

	// Wait for the output pump to drain whatever the child already wrote
	// before closing output out from under it, even on the "child exited
	// first" path.
	<-outputDone

	_ = output.Close()
	if ptyFile != nil {
		_ = ptyFile.Close()
	}
	return router.TookOver()
}

// interactiveV2 handles shell,v2:: client-to-server packets drive stdin,
// CLOSE_STDIN, and window resize; server-to-client packets carry framed
// stdout/stderr and a final EXIT packet.
func (s *Service) interactiveV2(ctx context.Context, params map[string]string) router.Response {
	sess, ok := session.CurrentSession(ctx)
	if !ok {
		return router.Fail("no session")
	}
	conn := sess.Conn()

	cmd, stdin, stdout, stderr, ptyFile, err := s.spawnSplit("", true)
	if err != nil {
		_ = adbproto.WriteFail(conn, err.Error())
		return router.TookOver()
	}
	if err := adbproto.WriteOkay(conn); err != nil {
		terminateAndReap(cmd)
		_ = stdout.Close()
		if stderr != nil {
			_ = stderr.Close()
		}
		return router.TookOver()
	}

	pconn := shellproto2.New(conn)
	var writeMu sync.Mutex

	go func() {
		for {
			id, payload, ok := pconn.Read()
			if !ok {
				return
			}
			switch id {
			case shellproto2.PacketStdin:
				if _, err := stdin.Write(payload); err != nil {
					return
				}
			case shellproto2.PacketCloseStdin:
				_ = stdin.Close()
			case shellproto2.PacketWindowSizeChange:
				if ws, err := shellproto2.ParseWinSize(payload); err == nil {
					_ = resizePTY(ptyFile, ws)
				}
			}
		}
	}()

	outputDone := make(chan struct{})
	var outWG sync.WaitGroup
	if stderr == nil {
		outWG.Add(1)
		go func() {
			drainToPackets(stdout, shellproto2.PacketStdout, pconn, &writeMu, &outWG)
		}()
	} else {
		outWG.Add(2)
		go drainToPackets(stdout, shellproto2.PacketStdout, pconn, &writeMu, &outWG)
		go drainToPackets(stderr, shellproto2.PacketStderr, pconn, &writeMu, &outWG)
	}
	go func() {
		outWG.Wait()
		close(outputDone)
	}()

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-outputDone:
	}
	gracefulShutdown(cmd, waitDone)

	// The drain goroutines may still be emitting buffered STDOUT/STDERR
	// packets after the child exits; EXIT must be the very last packet on
	// the wire, so wait for them before writing it.
	<-outputDone

	code := exitCode(cmd.ProcessState)
	writeMu.Lock()
	pconn.Write(shellproto2.PacketExit, []byte{byte(code)})
	writeMu.Unlock()

	_ = stdout.Close()
	if stderr != nil {
		_ = stderr.Close()
	}
	if ptyFile != nil {
		_ = ptyFile.Close()
	}
	return router.TookOver()
}

// drainToPackets copies r in MaxPayload-sized chunks into framed packets of
// id, serializing writes against mu since pconn.Write isn't safe for
// concurrent use by multiple directions.
func drainToPackets(r io.Reader, id shellproto2.PacketID, pconn *shellproto2.Conn, mu *sync.Mutex, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, shellproto2.MaxPayload)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			ok := pconn.Write(id, buf[:n])
			mu.Unlock()
			if !ok {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// gracefulShutdown sends SIGTERM, waits up to 2s, then SIGKILL, blocking
// until waitDone closes either way.
func gracefulShutdown(cmd *exec.Cmd, waitDone <-chan struct{}) {
	select {
	case <-waitDone:
		return
	default:
	}
	terminateGracefully(cmd.Process)
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		kill(cmd.Process)
		<-waitDone
	}
}

// terminateAndReap is used when OKAY itself fails to write: kill the child
// immediately and reap it so it doesn't linger as a zombie.
func terminateAndReap(cmd *exec.Cmd) {
	kill(cmd.Process)
	_ = cmd.Wait()
}
