package bridge

import (
	"context"
	"sync"
	"time"

	"nest-bridge/internal/logger"
)

// Driver ticks the scheduler and the event poller on their own fixed
// cadences. The two run as independent goroutines and never block each other:
// a hung event poll cannot delay stream renewal, and vice versa.
type Driver struct {
	Sched         *Scheduler
	Poller        *Poller // nil when event polling is disabled
	Logger        *logger.Logger
	CheckInterval time.Duration
	EventInterval time.Duration
}

// Run bootstraps the bridge and supervises it until the context is
// cancelled. Only the bootstrap can return an error; after that, every
// failure is absorbed at the tick boundary. On cancellation the proxy is
// stopped before returning, so a clean shutdown never orphans the relay.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Sched.Bootstrap(ctx); err != nil {
		return err
	}
	d.Logger.Info("Bridge running; checking stream every %s", d.CheckInterval)

	var wg sync.WaitGroup
	if d.Poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runEvents(ctx)
		}()
	}

	ticker := time.NewTicker(d.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.Logger.Info("Shutting down")
			wg.Wait()
			d.Sched.Shutdown()
			return nil
		case <-ticker.C:
			// Each tick's blocking calls are bounded by the check interval.
			tctx, cancel := context.WithTimeout(ctx, d.CheckInterval)
			d.Sched.Tick(tctx)
			cancel()
		}
	}
}

func (d *Driver) runEvents(ctx context.Context) {
	d.Logger.Info("Polling device events every %s", d.EventInterval)
	ticker := time.NewTicker(d.EventInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tctx, cancel := context.WithTimeout(ctx, d.EventInterval)
			d.Poller.Tick(tctx)
			cancel()
		}
	}
}
