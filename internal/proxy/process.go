package proxy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Process states for a supervised proxy process
const (
	ProcStarting = iota
	ProcRunning
	ProcStopped
	ProcError
)

// Process manages a single unifi-cam-proxy subprocess and its lifecycle.
//
// Concurrency notes:
// - Fields in the 'immutable' group are set once at construction and never changed.
// - Fields in the 'set-once' group are set at Start() and then read-only.
// - Mutable fields must be accessed with mu held.
// - waitOnce/waitCh ensure only one goroutine calls Wait() on Cmd; all others
//   wait on the channel.
// - stdout/stderr are captured for error reporting; the proxy has no
//   structured IPC, exit code and liveness are the only observed signals.
type Process struct {
	// --- Immutable after construction ---
	Cmd      *exec.Cmd
	Cancel   context.CancelFunc
	Ctx      context.Context
	waitCh   chan error
	waitOnce sync.Once

	// --- Set-once at Start(), then read-only ---
	PID       int
	StartTime time.Time

	// --- Mutable, protected by mu ---
	Status    int
	outputBuf bytes.Buffer
	mu        sync.Mutex
}

// NewProcess creates a new Process with context and its own process group.
// The process group matters: the proxy spawns its own ffmpeg children, and
// signalling the group is the only way to take them down with it.
func NewProcess(ctx context.Context, bin string, args ...string) *Process {
	c, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(c, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return &Process{
		Cmd:    cmd,
		Status: ProcStarting,
		Cancel: cancel,
		Ctx:    c,
		waitCh: make(chan error, 1),
	}
}

// Start launches the proxy process and sets PID/StartTime.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stdoutPipe, err := p.Cmd.StdoutPipe()
	if err != nil {
		p.Status = ProcError
		return err
	}
	stderrPipe, err := p.Cmd.StderrPipe()
	if err != nil {
		p.Status = ProcError
		return err
	}

	if err := p.Cmd.Start(); err != nil {
		p.Status = ProcError
		return err
	}
	p.PID = p.Cmd.Process.Pid
	p.Status = ProcRunning
	p.StartTime = time.Now()

	// Exactly one Wait() on Cmd; exit flips the status so Alive() stays honest.
	go func() {
		p.waitOnce.Do(func() {
			err := p.Cmd.Wait()
			p.mu.Lock()
			if p.Status == ProcRunning {
				if err != nil {
					p.Status = ProcError
				} else {
					p.Status = ProcStopped
				}
			}
			p.mu.Unlock()
			p.waitCh <- err
			close(p.waitCh)
		})
	}()

	go p.captureOutput(stdoutPipe)
	go p.captureOutput(stderrPipe)

	return nil
}

// captureOutput captures stdout/stderr output for error reporting.
func (p *Process) captureOutput(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			p.mu.Lock()
			p.outputBuf.WriteString(line)
			p.outputBuf.WriteString("\n")
			p.mu.Unlock()
		}
		select {
		case <-p.Ctx.Done():
			return
		default:
		}
	}
}

// Alive reports whether the process is still running (non-blocking).
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Status == ProcRunning
}

// Wait waits for the proxy process to exit (safe for concurrent calls).
func (p *Process) Wait() error {
	return <-p.waitCh
}

// Stop attempts graceful shutdown of the whole process group, then force
// kills if needed. Stopping an already-dead process is a no-op.
func (p *Process) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.Status != ProcRunning || p.Cmd == nil || p.Cmd.Process == nil {
		p.mu.Unlock()
		return nil
	}
	p.Status = ProcStopped
	pid := p.PID
	p.mu.Unlock()

	// Negative pid signals the process group, taking down the proxy's own
	// ffmpeg children as well.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
	select {
	case <-time.After(timeout):
		_ = unix.Kill(-pid, unix.SIGKILL)
		return nil
	case <-p.waitCh:
		return nil
	}
}

// GetOutput returns the captured output (concurrent-safe).
func (p *Process) GetOutput() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outputBuf.String()
}

// GetLastOutputLines returns the last N lines of captured output.
func (p *Process) GetLastOutputLines(n int) []string {
	output := p.GetOutput()
	if output == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
