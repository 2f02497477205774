package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"nest-bridge/internal/logger"
)

// DefaultTimeout bounds a single probe attempt.
const DefaultTimeout = 10 * time.Second

// RTSPProber checks that an RTSP lease URL is answerable before the proxy is
// pointed at it. A DESCRIBE is enough to confirm the lease is live; with
// WaitPacket set it also plays the stream until the first RTP packet arrives,
// confirming media actually flows.
type RTSPProber struct {
	Timeout    time.Duration
	WaitPacket bool
	Logger     *logger.Logger
}

func NewRTSPProber(waitPacket bool, l *logger.Logger) *RTSPProber {
	return &RTSPProber{Timeout: DefaultTimeout, WaitPacket: waitPacket, Logger: l}
}

// Probe connects to the RTSP URL and performs a DESCRIBE (and optionally a
// PLAY waiting for the first packet). The context bounds the whole attempt.
func (p *RTSPProber) Probe(ctx context.Context, rtspURL string) error {
	timeout := p.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("probe timed out before starting")
	}

	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return fmt.Errorf("invalid RTSP URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("connecting to %s: %w", u.Host, err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("DESCRIBE failed: %w", err)
	}
	p.Logger.Debug("Probe: stream described, %d media(s)", len(desc.Medias))

	if !p.WaitPacket {
		return nil
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return fmt.Errorf("SETUP failed: %w", err)
	}

	packetCh := make(chan struct{}, 1)
	client.OnPacketRTPAny(func(media *description.Media, _ format.Format, pkt *rtp.Packet) {
		select {
		case packetCh <- struct{}{}:
		default:
		}
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("PLAY failed: %w", err)
	}

	select {
	case <-packetCh:
		p.Logger.Debug("Probe: first RTP packet received")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no RTP packet before cancellation: %w", ctx.Err())
	case <-time.After(timeout):
		return fmt.Errorf("no RTP packet within %s", timeout)
	}
}
