package sdm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventRecord is a single observed device event. Purely informational;
// duplicates across polls are tolerable and deduped by the cursor.
type EventRecord struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ListEvents polls the device resource and returns the events attached to it,
// using the resource's updateTime as the advancing cursor. An unchanged
// updateTime yields no records. The returned cursor is always valid to pass
// to the next call.
func (c *Client) ListEvents(ctx context.Context, since string) ([]EventRecord, string, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.BaseURL, c.DeviceName), nil)
	if err != nil {
		return nil, since, err
	}
	var payload struct {
		UpdateTime string                     `json:"updateTime"`
		Events     map[string]json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, since, fmt.Errorf("%w: decoding events: %v", ErrProtocol, err)
	}
	if payload.UpdateTime == "" || payload.UpdateTime == since {
		return nil, since, nil
	}
	ts, err := parseTimestamp(payload.UpdateTime)
	if err != nil {
		return nil, since, err
	}
	records := make([]EventRecord, 0, len(payload.Events))
	for name, raw := range payload.Events {
		records = append(records, EventRecord{
			Type:      name,
			Timestamp: ts,
			DeviceID:  c.DeviceName,
			Payload:   raw,
		})
	}
	return records, payload.UpdateTime, nil
}
