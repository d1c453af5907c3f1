// Package sysexec spawns supervised OS processes with their stdout wired to a
// dedicated pipe or pty, and reaps and signals them by pid. Every spawned
// process is placed in its own process group so a single kill reaches the
// whole chain it may have forked.
package sysexec

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Command describes one process launch.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	// PTY allocates a pseudo-terminal for the process's stdio instead of a
	// pipe, for programs that only report status when attached to a terminal.
	PTY bool
}

// ExitStatus is the reaped exit state of a process.
type ExitStatus struct {
	Code   int
	Signal syscall.Signal
}

// Signaled reports whether the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != 0
}

func (s ExitStatus) String() string {
	if s.Signaled() {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("exit %d", s.Code)
}

// Launcher is the process-spawn primitive consumed by the dispatch loop.
type Launcher interface {
	// Spawn starts the process and returns its pid together with the read
	// side of its output. On failure no descriptor is leaked: both ends of
	// the allocated pair are closed before the error is returned.
	Spawn(c Command) (int, *os.File, error)
	// Reap waits for the process and returns its exit status.
	Reap(pid int) (ExitStatus, error)
	// Kill sends SIGKILL to the process group. Lookup failures are returned
	// for the caller to discard during best-effort teardown.
	Kill(pid int) error
}

// System is the real Launcher backed by os/exec.
type System struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewSystem creates a Launcher tracking its spawned processes for reaping.
func NewSystem() *System {
	return &System{procs: make(map[int]*exec.Cmd)}
}

func (s *System) Spawn(c Command) (int, *os.File, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}

	if c.PTY {
		// pty.Start makes the child a session leader, so it already heads
		// its own process group.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return 0, nil, fmt.Errorf("spawn %s on pty: %w", c.Path, err)
		}
		s.track(cmd)
		return cmd.Process.Pid, ptmx, nil
	}

	rfd, wfd, err := os.Pipe()
	if err != nil {
		return 0, nil, fmt.Errorf("allocate output pipe: %w", err)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = wfd
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = rfd.Close()
		_ = wfd.Close()
		return 0, nil, fmt.Errorf("spawn %s: %w", c.Path, err)
	}
	// The child holds the write side now.
	_ = wfd.Close()
	s.track(cmd)
	return cmd.Process.Pid, rfd, nil
}

func (s *System) track(cmd *exec.Cmd) {
	s.mu.Lock()
	s.procs[cmd.Process.Pid] = cmd
	s.mu.Unlock()
}

func (s *System) Reap(pid int) (ExitStatus, error) {
	s.mu.Lock()
	cmd, ok := s.procs[pid]
	delete(s.procs, pid)
	s.mu.Unlock()
	if !ok {
		return ExitStatus{}, fmt.Errorf("sysexec: pid %d is not tracked", pid)
	}

	err := cmd.Wait()
	var exit *exec.ExitError
	switch {
	case err == nil:
		return ExitStatus{}, nil
	case errors.As(err, &exit):
		ws, ok := exit.Sys().(syscall.WaitStatus)
		if ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signal: ws.Signal()}, nil
		}
		return ExitStatus{Code: exit.ExitCode()}, nil
	default:
		return ExitStatus{}, fmt.Errorf("reap pid %d: %w", pid, err)
	}
}

func (s *System) Kill(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}
