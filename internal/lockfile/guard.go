// Package lockfile enforces that exactly one server instance owns the
// service port. A lock record (pid tagged with server name and port) is
// kept in a well-known file; on startup a live previous holder is
// terminated with escalation, and the port is bound with backoff to ride
// out TIME_WAIT linger.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrCannotTerminate means a previous holder survived every kill
	// escalation. Startup must abort rather than risk two live instances.
	ErrCannotTerminate = errors.New("lockfile: previous instance would not terminate")
	// ErrBindFailed means the port stayed unbindable through all retries.
	ErrBindFailed = errors.New("lockfile: cannot bind service port")
)

// Record is the persisted lock: which process owns which server identity.
type Record struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
	Port int    `json:"port"`
}

// procController abstracts process liveness and termination so the
// escalation ladder is testable without killing real processes.
type procController interface {
	Alive(pid int) bool
	Terminate(pid int) error // graceful
	Kill(pid int) error      // forceful
	ForceKill(pid int) error // OS-level last resort
}

// Guard acquires and releases the singleton lock.
type Guard struct {
	path         string
	name         string
	port         int
	killTimeout  time.Duration
	bindAttempts int
	bindBackoff  time.Duration
	log          zerolog.Logger
	proc         procController
	owned        bool
}

func New(path, name string, port int, killTimeout time.Duration, bindAttempts int, bindBackoff time.Duration, log zerolog.Logger) *Guard {
	if bindAttempts <= 0 {
		bindAttempts = 1
	}
	return &Guard{
		path:         path,
		name:         name,
		port:         port,
		killTimeout:  killTimeout,
		bindAttempts: bindAttempts,
		bindBackoff:  bindBackoff,
		log:          log,
		proc:         platformProc{},
	}
}

// Acquire clears any stale holder, binds the service port and persists
// this process as the new lock holder.
func (g *Guard) Acquire(host string) (net.Listener, error) {
	rec, err := g.readRecord()
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Name == g.name && rec.Port == g.port && rec.PID != os.Getpid() {
		if g.proc.Alive(rec.PID) {
			g.log.Warn().Int("pid", rec.PID).Msg("previous instance holds the lock, terminating it")
			if err := g.terminate(rec.PID); err != nil {
				return nil, err
			}
		}
		if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	} else if rec != nil && (rec.Name != g.name || rec.Port != g.port) {
		g.log.Warn().Str("holder", rec.Name).Int("port", rec.Port).Msg("lock record names a different server, overwriting")
	}

	ln, err := g.bind(host)
	if err != nil {
		return nil, err
	}
	if err := g.writeRecord(); err != nil {
		ln.Close()
		return nil, err
	}
	g.owned = true
	return ln, nil
}

// terminate runs the escalation ladder: graceful, forceful, OS-level.
// Each rung waits up to the kill timeout for the process to die.
func (g *Guard) terminate(pid int) error {
	rungs := []struct {
		name string
		kill func(int) error
	}{
		{"terminate", g.proc.Terminate},
		{"kill", g.proc.Kill},
		{"force-kill", g.proc.ForceKill},
	}
	for _, rung := range rungs {
		if err := rung.kill(pid); err != nil {
			g.log.Warn().Err(err).Int("pid", pid).Str("method", rung.name).Msg("signal failed")
		}
		if g.waitDead(pid) {
			g.log.Info().Int("pid", pid).Str("method", rung.name).Msg("previous instance terminated")
			return nil
		}
	}
	return fmt.Errorf("%w: pid %d", ErrCannotTerminate, pid)
}

func (g *Guard) waitDead(pid int) bool {
	deadline := time.Now().Add(g.killTimeout)
	for {
		if !g.proc.Alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// bind listens on the service port, retrying with exponential backoff to
// absorb TIME_WAIT linger from the previous holder.
func (g *Guard) bind(host string) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", host, g.port)
	delay := g.bindBackoff
	var lastErr error
	for attempt := 1; attempt <= g.bindAttempts; attempt++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		g.log.Warn().Err(err).Int("attempt", attempt).Msg("bind failed, backing off")
		if attempt < g.bindAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrBindFailed, addr, lastErr)
}

func (g *Guard) readRecord() (*Record, error) {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record cannot name a live holder; treat as absent.
		g.log.Warn().Err(err).Msg("corrupt lock record ignored")
		return nil, nil
	}
	return &rec, nil
}

func (g *Guard) writeRecord() error {
	data, err := json.Marshal(Record{PID: os.Getpid(), Name: g.name, Port: g.port})
	if err != nil {
		return err
	}
	if err := os.WriteFile(g.path, data, 0o644); err != nil {
		return fmt.Errorf("write lock record: %w", err)
	}
	return nil
}

// Release removes the lock record, but only if it still names this
// process. Safe to call when Acquire never succeeded.
func (g *Guard) Release() {
	if !g.owned {
		return
	}
	rec, err := g.readRecord()
	if err != nil || rec == nil || rec.PID != os.Getpid() {
		return
	}
	if err := os.Remove(g.path); err != nil {
		g.log.Warn().Err(err).Msg("remove lock record failed")
	}
	g.owned = false
}
