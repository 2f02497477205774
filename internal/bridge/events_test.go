package bridge

import (
	"context"
	"testing"
	"time"

	"nest-bridge/internal/logger"
	"nest-bridge/internal/metrics"
	"nest-bridge/internal/sdm"
)

type fakeLister struct {
	records []sdm.EventRecord
	cursor  string
	err     error

	calls     int
	sinceSeen []string
}

func (f *fakeLister) ListEvents(ctx context.Context, since string) ([]sdm.EventRecord, string, error) {
	f.calls++
	f.sinceSeen = append(f.sinceSeen, since)
	if f.err != nil {
		return nil, since, f.err
	}
	return f.records, f.cursor, nil
}

type capturingSink struct {
	records []sdm.EventRecord
}

func (s *capturingSink) Report(rec sdm.EventRecord) {
	s.records = append(s.records, rec)
}

func TestPoller_ReportsAndAdvancesCursor(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lister := &fakeLister{
		records: []sdm.EventRecord{
			{Type: "sdm.devices.events.DoorbellChime.Chime", Timestamp: ts},
			{Type: "sdm.devices.events.CameraMotion.Motion", Timestamp: ts},
		},
		cursor: "2024-05-01T10:00:00Z",
	}
	sink := &capturingSink{}
	p := NewPoller(lister, sink, metrics.New(), logger.NewLogger())

	p.Tick(context.Background())

	if len(sink.records) != 2 {
		t.Fatalf("expected 2 events reported, got %d", len(sink.records))
	}
	if lister.sinceSeen[0] != "" {
		t.Errorf("expected empty initial cursor, got %q", lister.sinceSeen[0])
	}

	stats := p.Stats()
	if stats.Received != 2 {
		t.Errorf("expected 2 received, got %d", stats.Received)
	}
	if !stats.LastAt.Equal(ts) {
		t.Errorf("expected last event time %v, got %v", ts, stats.LastAt)
	}

	// The next poll carries the advanced cursor.
	lister.records = nil
	p.Tick(context.Background())
	if lister.sinceSeen[1] != "2024-05-01T10:00:00Z" {
		t.Errorf("expected advanced cursor, got %q", lister.sinceSeen[1])
	}
	if p.Stats().Received != 2 {
		t.Errorf("expected counter unchanged on an empty poll")
	}
}

func TestPoller_FailureKeepsCursor(t *testing.T) {
	lister := &fakeLister{err: sdm.ErrTransient}
	sink := &capturingSink{}
	p := NewPoller(lister, sink, metrics.New(), logger.NewLogger())
	p.cursor = "c1"

	p.Tick(context.Background())

	if len(sink.records) != 0 {
		t.Errorf("expected nothing reported on failure")
	}
	if p.cursor != "c1" {
		t.Errorf("expected cursor preserved, got %q", p.cursor)
	}

	// Recovery resumes from the preserved cursor.
	lister.err = nil
	lister.cursor = "c2"
	p.Tick(context.Background())
	if lister.sinceSeen[1] != "c1" {
		t.Errorf("expected retry from preserved cursor, got %q", lister.sinceSeen[1])
	}
	if p.cursor != "c2" {
		t.Errorf("expected cursor advanced after recovery, got %q", p.cursor)
	}
}
