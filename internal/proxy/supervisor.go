package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nest-bridge/internal/logger"
	"nest-bridge/internal/sdm"
)

// ErrSpawn wraps any failure to launch the proxy process. Spawn failures are
// retried on later ticks rather than escalated.
var ErrSpawn = errors.New("failed to spawn proxy process")

const stopTimeout = 10 * time.Second

// Handle represents one supervised proxy process bound to one lease URL.
// Handles are never mutated into a new binding; a URL change always produces
// a new handle via Restart.
type Handle struct {
	Proc              *Process
	BoundURL          string
	Protocol          sdm.Protocol
	StartedAt         time.Time
	LastObservedAlive time.Time
}

// Supervisor owns the proxy process lifecycle. The interface exists so the
// scheduler can be tested against a fake without spawning real executables.
type Supervisor interface {
	Start(lease sdm.Lease) (*Handle, error)
	IsAlive(h *Handle) bool
	Stop(h *Handle)
	Restart(h *Handle, lease sdm.Lease) (*Handle, error)
}

// Options carries everything needed to build the proxy command line.
type Options struct {
	Bin          string
	Host         string
	Username     string
	Password     string
	AdoptToken   string
	CameraName   string
	MAC          string
	RTSPUsername string
	RTSPPassword string
	Insecure     bool
}

// ProcessSupervisor runs a real unifi-cam-proxy subprocess.
type ProcessSupervisor struct {
	opts   Options
	ctx    context.Context // application lifetime, not per-tick
	Logger *logger.Logger
}

func NewProcessSupervisor(ctx context.Context, opts Options, l *logger.Logger) *ProcessSupervisor {
	return &ProcessSupervisor{opts: opts, ctx: ctx, Logger: l}
}

// buildArgs encodes the lease and controller credentials into the proxy
// command line.
func buildArgs(opts Options, lease sdm.Lease) []string {
	args := []string{string(lease.Protocol()), lease.StreamURL()}
	args = append(args, "--host", opts.Host, "--mac", opts.MAC, "--name", opts.CameraName)
	args = append(args, "--rtsp-username", opts.RTSPUsername, "--rtsp-password", opts.RTSPPassword)
	if opts.Username != "" && opts.Password != "" {
		args = append(args, "--username", opts.Username, "--password", opts.Password)
	}
	if opts.AdoptToken != "" {
		args = append(args, "--token", opts.AdoptToken)
	}
	if opts.Insecure {
		args = append(args, "--insecure")
	}
	return args
}

// Start spawns the proxy with the lease's URL and protocol-appropriate
// arguments.
func (s *ProcessSupervisor) Start(lease sdm.Lease) (*Handle, error) {
	if lease.Protocol() != sdm.ProtocolRTSP {
		s.Logger.Warn("Starting proxy in %s mode; make sure the proxy build supports it", lease.Protocol())
	}
	proc := NewProcess(s.ctx, s.opts.Bin, buildArgs(s.opts, lease)...)
	s.Logger.Info("Starting proxy: %s %s ...", s.opts.Bin, string(lease.Protocol()))
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	s.Logger.Info("Started proxy process (pid=%d)", proc.PID)
	go s.monitor(proc)
	now := time.Now()
	return &Handle{
		Proc:              proc,
		BoundURL:          lease.StreamURL(),
		Protocol:          lease.Protocol(),
		StartedAt:         now,
		LastObservedAlive: now,
	}, nil
}

// monitor logs the process exit with its last output lines for diagnosis.
func (s *ProcessSupervisor) monitor(proc *Process) {
	err := proc.Wait()
	if err != nil {
		s.Logger.Error("Proxy process (pid=%d) exited with error: %v", proc.PID, err)
		for _, line := range proc.GetLastOutputLines(10) {
			s.Logger.Error("[proxy output] %s", line)
		}
	} else {
		s.Logger.Info("Proxy process (pid=%d) exited cleanly", proc.PID)
	}
}

// IsAlive is a non-blocking process existence check, not stream-level health.
func (s *ProcessSupervisor) IsAlive(h *Handle) bool {
	if h == nil || h.Proc == nil {
		return false
	}
	alive := h.Proc.Alive()
	if alive {
		h.LastObservedAlive = time.Now()
	}
	return alive
}

// Stop terminates the proxy. Idempotent; stopping a dead handle is a no-op.
func (s *ProcessSupervisor) Stop(h *Handle) {
	if h == nil || h.Proc == nil {
		return
	}
	if h.Proc.Alive() {
		s.Logger.Info("Terminating proxy process (pid=%d)", h.Proc.PID)
	}
	if err := h.Proc.Stop(stopTimeout); err != nil {
		s.Logger.Warn("Error stopping proxy process (pid=%d): %v", h.Proc.PID, err)
	}
}

// Restart stops the old handle (if any) and starts a new one. This is the
// only path by which the proxy binds to a new URL; it is never reconfigured
// in place. The old process goes down first, trading a brief feed gap for
// never serving two proxies at once.
func (s *ProcessSupervisor) Restart(h *Handle, lease sdm.Lease) (*Handle, error) {
	s.Stop(h)
	return s.Start(lease)
}
