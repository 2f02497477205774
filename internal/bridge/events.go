package bridge

import (
	"context"
	"sync"
	"time"

	"nest-bridge/internal/logger"
	"nest-bridge/internal/metrics"
	"nest-bridge/internal/sdm"
	"nest-bridge/internal/status"
)

// EventSink receives observed device events. Production uses the log sink;
// tests substitute a capturing one.
type EventSink interface {
	Report(rec sdm.EventRecord)
}

// LogSink writes events to the application log.
type LogSink struct {
	Logger *logger.Logger
}

func (s *LogSink) Report(rec sdm.EventRecord) {
	s.Logger.Info("Event from device: %s => %s", rec.Type, string(rec.Payload))
}

// EventLister is the slice of the SDM client the poller depends on.
type EventLister interface {
	ListEvents(ctx context.Context, since string) ([]sdm.EventRecord, string, error)
}

// Poller polls device events on its own cadence, fully decoupled from the
// renewal path. Best effort: failures are logged and swallowed, never
// escalated.
type Poller struct {
	lister EventLister
	sink   EventSink
	Logger *logger.Logger
	met    *metrics.Metrics

	mu       sync.Mutex
	cursor   string
	received uint64
	lastAt   time.Time
}

func NewPoller(lister EventLister, sink EventSink, met *metrics.Metrics, l *logger.Logger) *Poller {
	return &Poller{lister: lister, sink: sink, met: met, Logger: l}
}

// Tick polls once and advances the cursor past whatever was returned.
func (p *Poller) Tick(ctx context.Context) {
	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()

	records, next, err := p.lister.ListEvents(ctx, cursor)
	if err != nil {
		p.Logger.Warn("Event poll failed: %v", err)
		return
	}
	for _, rec := range records {
		p.sink.Report(rec)
	}

	p.mu.Lock()
	p.cursor = next
	if len(records) > 0 {
		p.received += uint64(len(records))
		p.lastAt = records[len(records)-1].Timestamp
	}
	p.mu.Unlock()
	if len(records) > 0 {
		p.met.AddEventsReceived(len(records))
	}
}

// Stats returns counters for the status endpoint.
func (p *Poller) Stats() status.EventStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return status.EventStats{
		Polling:  true,
		Received: p.received,
		LastAt:   p.lastAt,
	}
}
