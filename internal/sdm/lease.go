package sdm

import (
	"encoding/json"
	"time"
)

type Protocol string

const (
	ProtocolRTSP   Protocol = "rtsp"
	ProtocolWebRTC Protocol = "webrtc"
)

// Lease is a grant of a playable stream from the provider. Exactly one of the
// two variants below is current at any time; the protocol mode is fixed at
// lease creation. Only the RTSP variant can be extended in place, which is
// why ExtendRTSPStream takes *RTSPLease rather than Lease.
type Lease interface {
	Protocol() Protocol
	// StreamURL is what the proxy process gets pointed at: the media URL for
	// RTSP, the answer SDP payload for WebRTC.
	StreamURL() string
	Renewable() bool
}

// RTSPLease carries a true provider expiration and an extension token.
type RTSPLease struct {
	URL            string
	ExtensionToken string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

func (l *RTSPLease) Protocol() Protocol { return ProtocolRTSP }
func (l *RTSPLease) StreamURL() string  { return l.URL }
func (l *RTSPLease) Renewable() bool    { return true }

// InRenewalWindow reports whether the lease should be extended now.
// The comparison is now >= expiresAt - margin, never exact equality, so a
// tick landing on the boundary still renews.
func (l *RTSPLease) InRenewalWindow(now time.Time, margin time.Duration) bool {
	return !now.Before(l.ExpiresAt.Add(-margin))
}

// WebRTCLease has no extension call; scheduling treats it as non-expiring
// and relies on relay health checks alone. ExpiresAt is informational.
type WebRTCLease struct {
	AnswerSDP      string
	MediaSessionID string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

func (l *WebRTCLease) Protocol() Protocol { return ProtocolWebRTC }
func (l *WebRTCLease) StreamURL() string  { return l.AnswerSDP }
func (l *WebRTCLease) Renewable() bool    { return false }

// DeviceInfo is the device resource as returned by the provider.
type DeviceInfo struct {
	Name   string                     `json:"name"`
	Type   string                     `json:"type"`
	Traits map[string]json.RawMessage `json:"traits"`
}

const liveStreamTrait = "sdm.devices.traits.CameraLiveStream"

// SupportsRTSP reports whether the device advertises the RTSP protocol in its
// live stream trait. Absent trait data counts as unsupported.
func (d *DeviceInfo) SupportsRTSP() bool {
	raw, ok := d.Traits[liveStreamTrait]
	if !ok {
		return false
	}
	var trait struct {
		SupportedProtocols []string `json:"supportedProtocols"`
	}
	if err := json.Unmarshal(raw, &trait); err != nil {
		return false
	}
	for _, p := range trait.SupportedProtocols {
		if p == "RTSP" {
			return true
		}
	}
	return false
}
