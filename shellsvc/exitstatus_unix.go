//go:build unix

package shellsvc

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// exitCode maps a finished process's state to the single byte the shell-v2
// EXIT packet carries: a clean exit clamped to [0,255], or 128+signum if the
// child died from a signal.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	sws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		if state.Success() {
			return 0
		}
		return 1
	}
	ws := unix.WaitStatus(sws)
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus() & 0xFF
}

func terminateGracefully(proc *os.Process) {
	_ = proc.Signal(unix.SIGTERM)
}

func kill(proc *os.Process) {
	_ = proc.Signal(unix.SIGKILL)
}

// setsidAttrs is applied to exec.Cmd so the child gets its own process group,
// letting SIGTERM/SIGKILL reach any grandchildren it spawns too.
func setsidAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
