package shellsvc

import (
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/XcantloadX/adbsrv/adbproto/shellproto2"
)

// startPTY starts cmd attached to a new pseudo-terminal, returning the master
// end. The caller owns both cmd and the returned file and must close the
// latter once the session ends.
func startPTY(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

// resizePTY applies a WINDOW_SIZE_CHANGE packet to an open PTY master. It's a
// no-op error-wise when f is nil (no PTY in this session).
func resizePTY(f *os.File, ws shellproto2.WinSize) error {
	if f == nil {
		return nil
	}
	return pty.Setsize(f, &pty.Winsize{
		Rows: uint16(ws.Row),
		Cols: uint16(ws.Col),
		X:    uint16(ws.XPixel),
		Y:    uint16(ws.YPixel),
	})
}
