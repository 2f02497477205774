package status

import "time"

type ServerStatus struct {
	CPU float64 `json:"cpu"`
	Mem uint64  `json:"mem"`
}

// LeaseStatus describes the current stream lease, if any.
type LeaseStatus struct {
	Protocol  string    `json:"protocol,omitempty"`
	URL       string    `json:"url,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Renewable bool      `json:"renewable"`
}

// ProxyStatus describes the supervised unifi-cam-proxy process.
type ProxyStatus struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	BoundURL  string    `json:"bound_url,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	CPU       float64   `json:"cpu"`
	Mem       uint64    `json:"mem"`
}

type EventStats struct {
	Polling  bool      `json:"polling"`
	Received uint64    `json:"received"`
	LastAt   time.Time `json:"last_at,omitempty"`
}

type BridgeStatus struct {
	Server ServerStatus `json:"server"`
	Device string       `json:"device"`
	Lease  LeaseStatus  `json:"lease"`
	Proxy  ProxyStatus  `json:"proxy"`
	Events EventStats   `json:"events"`
}
