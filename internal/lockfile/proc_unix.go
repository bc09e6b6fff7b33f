//go:build unix

package lockfile

import (
	"errors"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

type platformProc struct{}

// Alive probes with signal 0. EPERM still means the process exists.
func (platformProc) Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func (platformProc) Terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func (platformProc) Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// ForceKill shells out as a last resort, in case the direct syscall path
// is blocked for this process.
func (platformProc) ForceKill(pid int) error {
	return exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
}
