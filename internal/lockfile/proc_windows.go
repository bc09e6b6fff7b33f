//go:build windows

package lockfile

import (
	"os"
	"os/exec"
	"strconv"
)

type platformProc struct{}

func (platformProc) Alive(pid int) bool {
	// taskkill-style probing is unreliable; FindProcess always succeeds
	// on Windows, so ask tasklist whether the pid is present.
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/NH").Output()
	if err != nil {
		return false
	}
	return len(out) > 0 && !containsNoTasks(out)
}

func containsNoTasks(out []byte) bool {
	return len(out) > 0 && out[0] == 'I' // "INFO: No tasks..."
}

func (platformProc) Terminate(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid)).Run()
}

func (platformProc) Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func (platformProc) ForceKill(pid int) error {
	return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
}
