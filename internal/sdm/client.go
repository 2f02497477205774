package sdm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"nest-bridge/internal/logger"
)

// DefaultBaseURL is the Smart Device Management API endpoint.
const DefaultBaseURL = "https://smartdevicemanagement.googleapis.com/v1"

const (
	cmdGenerateRTSP   = "sdm.devices.commands.CameraLiveStream.GenerateRtspStream"
	cmdExtendRTSP     = "sdm.devices.commands.CameraLiveStream.ExtendRtspStream"
	cmdGenerateWebRTC = "sdm.devices.commands.CameraLiveStream.GenerateWebRtcStream"
)

// TokenSource supplies the bearer token for each request. The token may be
// refreshed externally mid-run, so it is read per call rather than captured
// at construction.
type TokenSource interface {
	Token() string
}

// Client wraps the SDM device endpoints for a single device. It keeps no
// state beyond connection reuse; lease ownership lives in the scheduler.
type Client struct {
	BaseURL    string
	DeviceName string // enterprises/<project-id>/devices/<device-id>
	tokens     TokenSource
	httpClient *http.Client
	Logger     *logger.Logger
}

func NewClient(deviceName string, tokens TokenSource, l *logger.Logger) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		DeviceName: deviceName,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     l,
	}
}

// parseTimestamp parses the provider's RFC3339 timestamps.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q: %v", ErrProtocol, s, err)
	}
	return t.UTC(), nil
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Includes timeouts and context deadlines; all retried next tick.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// executeCommand POSTs a device command and returns the raw results object.
func (c *Client) executeCommand(ctx context.Context, command string, params interface{}) (json.RawMessage, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"command": command,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding command: %v", ErrProtocol, err)
	}
	c.Logger.Debug("Executing command %s", command)
	url := fmt.Sprintf("%s/%s:executeCommand", c.BaseURL, c.DeviceName)
	data, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decoding command response: %v", ErrProtocol, err)
	}
	return envelope.Results, nil
}

// FetchDeviceInfo retrieves the device resource, used at startup to validate
// the device reference and decide whether RTSP generation is worth trying.
func (c *Client) FetchDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.BaseURL, c.DeviceName), nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, apiErr)
		}
		return nil, err
	}
	var info DeviceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: decoding device info: %v", ErrProtocol, err)
	}
	if info.Name == "" {
		return nil, fmt.Errorf("%w: device info missing name", ErrProtocol)
	}
	return &info, nil
}

type rtspResults struct {
	StreamURLs struct {
		RTSPURL string `json:"rtspUrl"`
	} `json:"streamUrls"`
	StreamExtensionToken          string `json:"streamExtensionToken"`
	StreamExtensionTokenExpiresAt string `json:"streamExtensionTokenExpiresAt"`
	ExpiresAt                     string `json:"expiresAt"`
}

func (r *rtspResults) expiry() (time.Time, error) {
	ts := r.StreamExtensionTokenExpiresAt
	if ts == "" {
		ts = r.ExpiresAt
	}
	if ts == "" {
		return time.Time{}, fmt.Errorf("%w: rtsp results missing expiration", ErrProtocol)
	}
	return parseTimestamp(ts)
}

// GenerateRTSPStream requests a fresh RTSP lease. A plain 400 from the
// provider means the command is not available for this device and is reported
// as ErrUnsupportedMode so the caller can fall back to WebRTC.
func (c *Client) GenerateRTSPStream(ctx context.Context) (*RTSPLease, error) {
	results, err := c.executeCommand(ctx, cmdGenerateRTSP, nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedMode, apiErr)
		}
		return nil, err
	}
	var res rtspResults
	if err := json.Unmarshal(results, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding rtsp results: %v", ErrProtocol, err)
	}
	if res.StreamURLs.RTSPURL == "" {
		return nil, fmt.Errorf("%w: rtsp results missing stream url", ErrProtocol)
	}
	expiresAt, err := res.expiry()
	if err != nil {
		return nil, err
	}
	c.Logger.Info("Generated RTSP stream (expires %s)", expiresAt.Format(time.RFC3339))
	return &RTSPLease{
		URL:            res.StreamURLs.RTSPURL,
		ExtensionToken: res.StreamExtensionToken,
		IssuedAt:       time.Now().UTC(),
		ExpiresAt:      expiresAt,
	}, nil
}

// ExtendRTSPStream refreshes an RTSP lease in place. The provider may hand
// back a new URL along with the new token; when it does, the returned lease
// carries it and the caller must treat the change as a URL-change event.
// A 400 means the extension token is no longer honored.
func (c *Client) ExtendRTSPStream(ctx context.Context, lease *RTSPLease) (*RTSPLease, error) {
	if lease.ExtensionToken == "" {
		return nil, fmt.Errorf("%w: lease has no extension token", ErrNotRenewable)
	}
	results, err := c.executeCommand(ctx, cmdExtendRTSP, map[string]string{
		"streamExtensionToken": lease.ExtensionToken,
	})
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrExpiredBeyondRenewal, apiErr)
		}
		return nil, err
	}
	var res rtspResults
	if err := json.Unmarshal(results, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding extend results: %v", ErrProtocol, err)
	}
	expiresAt, err := res.expiry()
	if err != nil {
		return nil, err
	}
	url := lease.URL
	if res.StreamURLs.RTSPURL != "" {
		url = res.StreamURLs.RTSPURL
	}
	token := res.StreamExtensionToken
	if token == "" {
		token = lease.ExtensionToken
	}
	c.Logger.Info("Extended RTSP stream (expires %s)", expiresAt.Format(time.RFC3339))
	return &RTSPLease{
		URL:            url,
		ExtensionToken: token,
		IssuedAt:       lease.IssuedAt,
		ExpiresAt:      expiresAt,
	}, nil
}

// GenerateWebRTCStream requests a WebRTC session. The answer SDP is handed to
// the proxy as-is; the media exchange is the proxy's problem.
func (c *Client) GenerateWebRTCStream(ctx context.Context) (*WebRTCLease, error) {
	results, err := c.executeCommand(ctx, cmdGenerateWebRTC, nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedMode, apiErr)
		}
		return nil, err
	}
	var res struct {
		AnswerSDP      string `json:"answerSdp"`
		MediaSessionID string `json:"mediaSessionId"`
		ExpiresAt      string `json:"expiresAt"`
	}
	if err := json.Unmarshal(results, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding webrtc results: %v", ErrProtocol, err)
	}
	if res.AnswerSDP == "" {
		return nil, fmt.Errorf("%w: webrtc results missing answer sdp", ErrProtocol)
	}
	lease := &WebRTCLease{
		AnswerSDP:      res.AnswerSDP,
		MediaSessionID: res.MediaSessionID,
		IssuedAt:       time.Now().UTC(),
	}
	if res.ExpiresAt != "" {
		if t, err := parseTimestamp(res.ExpiresAt); err == nil {
			lease.ExpiresAt = t
		}
	}
	c.Logger.Info("Generated WebRTC stream; passing the SDP to the proxy")
	return lease, nil
}

// GenerateStream obtains a new lease, attempting RTSP first unless preferRTSP
// is false. The WebRTC fallback happens at most once per call: an RTSP
// failure with an unsupported-mode signal falls through, anything else is
// returned for the caller to retry on a later tick.
func (c *Client) GenerateStream(ctx context.Context, preferRTSP bool) (Lease, error) {
	if preferRTSP {
		lease, err := c.GenerateRTSPStream(ctx)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrUnsupportedMode) {
			return nil, err
		}
		c.Logger.Warn("RTSP stream unavailable (%v); falling back to WebRTC", err)
	}
	return c.GenerateWebRTCStream(ctx)
}
