package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nest-bridge/internal/logger"
	"nest-bridge/internal/metrics"
	"nest-bridge/internal/process"
	"nest-bridge/internal/proxy"
	"nest-bridge/internal/sdm"
	"nest-bridge/internal/status"
)

// spawnFailureWarnThreshold is how many consecutive spawn failures trigger a
// louder warning. The loop keeps trying either way.
const spawnFailureWarnThreshold = 5

// StreamProvider is the slice of the SDM client the scheduler depends on.
type StreamProvider interface {
	GenerateStream(ctx context.Context, preferRTSP bool) (sdm.Lease, error)
	ExtendRTSPStream(ctx context.Context, lease *sdm.RTSPLease) (*sdm.RTSPLease, error)
}

// Prober optionally verifies a fresh RTSP URL is reachable. Probe failures
// are logged, never acted on: the proxy restarts promptly regardless, and a
// brief outage is accepted over holding two processes alive.
type Prober interface {
	Probe(ctx context.Context, rtspURL string) error
}

// Scheduler holds the current stream lease and proxy handle and decides, per
// tick, whether to renew, regenerate, or restart. It is the exclusive owner
// of both; nothing else mutates them. Ticks never run concurrently - the
// driver calls Tick from a single goroutine - so the internal mutex only
// exists to let status snapshots read safely.
type Scheduler struct {
	provider    StreamProvider
	sup         proxy.Supervisor
	prober      Prober // may be nil
	Logger      *logger.Logger
	met         *metrics.Metrics
	renewBefore time.Duration
	preferRTSP  bool
	now         func() time.Time

	mu            sync.Mutex
	lease         sdm.Lease
	handle        *proxy.Handle
	spawnFailures int
}

func NewScheduler(provider StreamProvider, sup proxy.Supervisor, prober Prober, preferRTSP bool, renewBefore time.Duration, met *metrics.Metrics, l *logger.Logger) *Scheduler {
	return &Scheduler{
		provider:    provider,
		sup:         sup,
		prober:      prober,
		Logger:      l,
		met:         met,
		renewBefore: renewBefore,
		preferRTSP:  preferRTSP,
		now:         time.Now,
	}
}

func (s *Scheduler) setLease(lease sdm.Lease) {
	s.mu.Lock()
	s.lease = lease
	s.mu.Unlock()
}

func (s *Scheduler) setHandle(h *proxy.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// Bootstrap acquires the first lease and spawns the proxy. Unlike Tick,
// failures here are returned to the caller: with nothing to supervise yet,
// the process should exit non-zero.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	lease, err := s.provider.GenerateStream(ctx, s.preferRTSP)
	if err != nil {
		return fmt.Errorf("initial stream generation failed: %w", err)
	}
	s.setLease(lease)
	s.met.IncLeaseGenerated(string(lease.Protocol()))
	s.probeLease(ctx, lease)

	handle, err := s.sup.Start(lease)
	if err != nil {
		return fmt.Errorf("initial proxy spawn failed: %w", err)
	}
	s.setHandle(handle)
	s.met.IncProxyRestart()
	s.met.SetProxyUp(true)
	return nil
}

// Tick runs one evaluation of the renewal state machine. Errors are handled
// at this boundary: logged, counted, and left for the next tick. The fixed
// polling cadence is the only retry rate limiter.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	// 1. No current lease: generate one (RTSP preferred, WebRTC fallback).
	if s.lease == nil {
		if !s.regenerate(ctx) {
			return
		}
	}

	// 2. Renewable lease inside the renewal window: extend in place.
	if rtsp, ok := s.lease.(*sdm.RTSPLease); ok && rtsp.InRenewalWindow(now, s.renewBefore) {
		if !s.renew(ctx, rtsp) {
			return
		}
	}

	// 3. Non-renewable lease with a dead relay: no extension path exists, so
	// regenerate from scratch.
	if _, ok := s.lease.(*sdm.WebRTCLease); ok && s.handle != nil && !s.sup.IsAlive(s.handle) {
		s.Logger.Warn("Proxy died on a WebRTC lease; regenerating stream")
		s.setLease(nil)
		if !s.regenerate(ctx) {
			return
		}
	}

	// 4. Relay absent, dead, or bound to a stale URL: restart it with the
	// current lease. This is the only path binding the proxy to a URL.
	if s.handle == nil || !s.sup.IsAlive(s.handle) || s.handle.BoundURL != s.lease.StreamURL() {
		s.restart(ctx)
	}

	// 5. Otherwise: lease and relay are both valid; nothing to do.
	s.updateExpiryGauge(now)
}

// regenerate obtains a fresh lease, reporting success.
func (s *Scheduler) regenerate(ctx context.Context) bool {
	lease, err := s.provider.GenerateStream(ctx, s.preferRTSP)
	if err != nil {
		s.met.IncTickError()
		if errors.Is(err, sdm.ErrAuth) {
			// Tolerated mid-run: the token may be refreshed externally.
			s.Logger.Error("Stream generation rejected (auth): %v", err)
		} else {
			s.Logger.Warn("Stream generation failed, retrying next tick: %v", err)
		}
		return false
	}
	s.setLease(lease)
	s.met.IncLeaseGenerated(string(lease.Protocol()))
	s.Logger.Info("Obtained %s stream lease", lease.Protocol())
	s.probeLease(ctx, lease)
	return true
}

// renew extends an RTSP lease in place. Returns false only when the tick
// should stop here (the lease was dropped for regeneration on a later tick).
func (s *Scheduler) renew(ctx context.Context, rtsp *sdm.RTSPLease) bool {
	s.Logger.Info("Stream close to expiry; renewing")
	renewed, err := s.provider.ExtendRTSPStream(ctx, rtsp)
	switch {
	case err == nil:
		if renewed.URL != rtsp.URL {
			s.Logger.Info("Stream URL changed on extension; proxy restart pending")
		}
		s.setLease(renewed)
		s.met.IncLeaseRenewal()
		return true
	case errors.Is(err, sdm.ErrNotRenewable) || errors.Is(err, sdm.ErrExpiredBeyondRenewal):
		// Drop the lease; step 1 regenerates on a later tick.
		s.Logger.Warn("Lease no longer renewable (%v); will regenerate", err)
		s.setLease(nil)
		s.met.IncLeaseRenewalFailure()
		s.met.IncTickError()
		return false
	default:
		// Transient: keep the old lease, the proxy keeps serving the
		// not-yet-expired URL, retry next tick.
		s.Logger.Warn("Lease extension failed, retrying next tick: %v", err)
		s.met.IncLeaseRenewalFailure()
		s.met.IncTickError()
		return true
	}
}

// restart rebinds the proxy to the current lease URL.
func (s *Scheduler) restart(ctx context.Context) {
	if s.handle != nil && s.sup.IsAlive(s.handle) {
		s.Logger.Info("Stream URL changed; restarting proxy")
	} else if s.handle != nil {
		s.Logger.Warn("Proxy stopped; restarting")
	}
	handle, err := s.sup.Restart(s.handle, s.lease)
	if err != nil {
		// The old process is already gone at this point.
		s.setHandle(nil)
		s.met.SetProxyUp(false)
		s.met.IncProxySpawnFailure()
		s.met.IncTickError()
		s.mu.Lock()
		s.spawnFailures++
		failures := s.spawnFailures
		s.mu.Unlock()
		if failures >= spawnFailureWarnThreshold {
			s.Logger.Warn("Proxy spawn has failed %d consecutive ticks: %v", failures, err)
		} else {
			s.Logger.Error("Failed to start proxy, retrying next tick: %v", err)
		}
		return
	}
	s.mu.Lock()
	s.spawnFailures = 0
	s.mu.Unlock()
	s.setHandle(handle)
	s.met.IncProxyRestart()
	s.met.SetProxyUp(true)
}

// probeLease verifies a fresh RTSP URL answers. Best effort only.
func (s *Scheduler) probeLease(ctx context.Context, lease sdm.Lease) {
	if s.prober == nil {
		return
	}
	rtsp, ok := lease.(*sdm.RTSPLease)
	if !ok {
		return
	}
	if err := s.prober.Probe(ctx, rtsp.URL); err != nil {
		s.Logger.Warn("Stream probe failed for new lease: %v", err)
	} else {
		s.Logger.Debug("Stream probe confirmed new lease URL")
	}
}

func (s *Scheduler) updateExpiryGauge(now time.Time) {
	if rtsp, ok := s.lease.(*sdm.RTSPLease); ok {
		s.met.SetLeaseExpirySeconds(rtsp.ExpiresAt.Sub(now).Seconds())
	} else {
		s.met.SetLeaseExpirySeconds(0)
	}
}

// Shutdown stops the proxy process. Called once by the driver on exit so no
// orphaned relay survives a clean shutdown.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()
	if handle != nil {
		s.sup.Stop(handle)
	}
	s.met.SetProxyUp(false)
}

// Snapshot returns the lease and proxy state for the status endpoint.
func (s *Scheduler) Snapshot() (status.LeaseStatus, status.ProxyStatus) {
	s.mu.Lock()
	lease := s.lease
	handle := s.handle
	s.mu.Unlock()

	var ls status.LeaseStatus
	switch l := lease.(type) {
	case *sdm.RTSPLease:
		ls = status.LeaseStatus{
			Protocol:  string(sdm.ProtocolRTSP),
			URL:       l.URL,
			IssuedAt:  l.IssuedAt,
			ExpiresAt: l.ExpiresAt,
			Renewable: true,
		}
	case *sdm.WebRTCLease:
		ls = status.LeaseStatus{
			Protocol: string(sdm.ProtocolWebRTC),
			IssuedAt: l.IssuedAt,
		}
	}

	var ps status.ProxyStatus
	if handle != nil {
		// Read the process state directly; IsAlive belongs to the tick path.
		ps.Running = handle.Proc != nil && handle.Proc.Alive()
		ps.BoundURL = handle.BoundURL
		ps.StartedAt = handle.StartedAt
		if handle.Proc != nil {
			ps.PID = handle.Proc.PID
			if u, err := process.GetProcUsage(handle.Proc.PID); err == nil {
				ps.CPU = u.CPU
				ps.Mem = u.Mem
			}
		}
	}
	return ls, ps
}
