package sdm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nest-bridge/internal/logger"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

const testDevice = "enterprises/proj/devices/dev"

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(testDevice, staticToken("tok"), logger.NewLogger())
	client.BaseURL = server.URL
	return client, server
}

func commandFromRequest(t *testing.T, r *http.Request) string {
	t.Helper()
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode command body: %v", err)
	}
	return body.Command
}

func TestClient_GenerateRTSPStream(t *testing.T) {
	expiry := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer token header, got %q", r.Header.Get("Authorization"))
		}
		if cmd := commandFromRequest(t, r); cmd != cmdGenerateRTSP {
			t.Errorf("expected command %s, got %s", cmdGenerateRTSP, cmd)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"streamUrls":                    map[string]string{"rtspUrl": "rtsps://stream.example/abc"},
				"streamExtensionToken":          "ext-1",
				"streamExtensionTokenExpiresAt": expiry.Format(time.RFC3339),
			},
		})
	})

	lease, err := client.GenerateRTSPStream(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if lease.URL != "rtsps://stream.example/abc" {
		t.Errorf("unexpected URL: %s", lease.URL)
	}
	if lease.ExtensionToken != "ext-1" {
		t.Errorf("unexpected extension token: %s", lease.ExtensionToken)
	}
	if !lease.ExpiresAt.Equal(expiry) {
		t.Errorf("expected expiry %v, got %v", expiry, lease.ExpiresAt)
	}
	if !lease.Renewable() {
		t.Errorf("expected RTSP lease to be renewable")
	}
	if lease.Protocol() != ProtocolRTSP {
		t.Errorf("expected protocol rtsp, got %s", lease.Protocol())
	}
}

func TestClient_GenerateStream_FallsBackToWebRTC(t *testing.T) {
	expiry := time.Now().Add(5 * time.Minute).UTC()
	var commands []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cmd := commandFromRequest(t, r)
		commands = append(commands, cmd)
		if cmd == cmdGenerateRTSP {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"command not supported"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"answerSdp":      "v=0 answer",
				"mediaSessionId": "sess-1",
				"expiresAt":      expiry.Format(time.RFC3339),
			},
		})
	})

	lease, err := client.GenerateStream(context.Background(), true)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if len(commands) != 2 || commands[0] != cmdGenerateRTSP || commands[1] != cmdGenerateWebRTC {
		t.Errorf("expected RTSP attempt then WebRTC, got %v", commands)
	}
	if lease.Protocol() != ProtocolWebRTC {
		t.Errorf("expected webrtc lease, got %s", lease.Protocol())
	}
	if lease.Renewable() {
		t.Errorf("expected WebRTC lease to be non-renewable")
	}
	if lease.StreamURL() != "v=0 answer" {
		t.Errorf("expected answer SDP as stream URL, got %q", lease.StreamURL())
	}
}

func TestClient_GenerateStream_NoFallbackOnAuthError(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GenerateStream(context.Background(), true)
	if !errors.Is(err, ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt for auth failure, got %d", calls)
	}
}

func TestClient_ExtendRTSPStream_KeepsURLWhenAbsent(t *testing.T) {
	newExpiry := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Command string            `json:"command"`
			Params  map[string]string `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Command != cmdExtendRTSP {
			t.Errorf("expected extend command, got %s", body.Command)
		}
		if body.Params["streamExtensionToken"] != "ext-1" {
			t.Errorf("expected extension token ext-1, got %q", body.Params["streamExtensionToken"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"streamExtensionToken":          "ext-2",
				"streamExtensionTokenExpiresAt": newExpiry.Format(time.RFC3339),
			},
		})
	})

	old := &RTSPLease{URL: "rtsps://stream.example/abc", ExtensionToken: "ext-1", ExpiresAt: time.Now()}
	renewed, err := client.ExtendRTSPStream(context.Background(), old)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if renewed.URL != old.URL {
		t.Errorf("expected URL preserved, got %s", renewed.URL)
	}
	if renewed.ExtensionToken != "ext-2" {
		t.Errorf("expected rotated token, got %s", renewed.ExtensionToken)
	}
	if !renewed.ExpiresAt.Equal(newExpiry) {
		t.Errorf("expected expiry %v, got %v", newExpiry, renewed.ExpiresAt)
	}
}

func TestClient_ExtendRTSPStream_HonorsNewURL(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"streamUrls":                    map[string]string{"rtspUrl": "rtsps://stream.example/new"},
				"streamExtensionToken":          "ext-2",
				"streamExtensionTokenExpiresAt": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
		})
	})

	old := &RTSPLease{URL: "rtsps://stream.example/old", ExtensionToken: "ext-1"}
	renewed, err := client.ExtendRTSPStream(context.Background(), old)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if renewed.URL != "rtsps://stream.example/new" {
		t.Errorf("expected new URL honored, got %s", renewed.URL)
	}
}

func TestClient_ExtendRTSPStream_ExpiredBeyondRenewal(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"token expired"}}`))
	})

	_, err := client.ExtendRTSPStream(context.Background(), &RTSPLease{URL: "u", ExtensionToken: "ext-1"})
	if !errors.Is(err, ErrExpiredBeyondRenewal) {
		t.Errorf("expected ErrExpiredBeyondRenewal, got %v", err)
	}
}

func TestClient_ExtendRTSPStream_NoToken(t *testing.T) {
	client := NewClient(testDevice, staticToken("tok"), logger.NewLogger())
	_, err := client.ExtendRTSPStream(context.Background(), &RTSPLease{URL: "u"})
	if !errors.Is(err, ErrNotRenewable) {
		t.Errorf("expected ErrNotRenewable, got %v", err)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"auth", http.StatusUnauthorized, ErrAuth},
		{"forbidden", http.StatusForbidden, ErrAuth},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"quota", http.StatusTooManyRequests, ErrQuota},
		{"server error", http.StatusInternalServerError, ErrTransient},
	}
	for _, tc := range cases {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := client.GenerateRTSPStream(context.Background())
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestClient_MalformedResponseIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	_, err := client.GenerateRTSPStream(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestClient_NetworkFailureIsTransient(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()
	_, err := client.GenerateRTSPStream(context.Background())
	if !errors.Is(err, ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}

func TestClient_ListEvents_AdvancesCursor(t *testing.T) {
	update := "2024-05-01T10:00:00Z"
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":       testDevice,
			"updateTime": update,
			"events": map[string]interface{}{
				"sdm.devices.events.DoorbellChime.Chime": map[string]string{"eventId": "e1"},
			},
		})
	})

	records, cursor, err := client.ListEvents(context.Background(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Type != "sdm.devices.events.DoorbellChime.Chime" {
		t.Errorf("unexpected event type %s", records[0].Type)
	}
	if records[0].DeviceID != testDevice {
		t.Errorf("unexpected device id %s", records[0].DeviceID)
	}
	if cursor != update {
		t.Errorf("expected cursor %s, got %s", update, cursor)
	}

	// Same updateTime: nothing new.
	records, cursor, err = client.ListEvents(context.Background(), cursor)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records for unchanged cursor, got %d", len(records))
	}
	if cursor != update {
		t.Errorf("expected cursor unchanged, got %s", cursor)
	}
}

func TestClient_FetchDeviceInfo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name": testDevice,
			"type": "sdm.devices.types.DOORBELL",
			"traits": map[string]interface{}{
				"sdm.devices.traits.CameraLiveStream": map[string]interface{}{
					"supportedProtocols": []string{"WEB_RTC", "RTSP"},
				},
			},
		})
	})

	info, err := client.FetchDeviceInfo(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !info.SupportsRTSP() {
		t.Errorf("expected RTSP support")
	}
}

func TestDeviceInfo_SupportsRTSP_AbsentTrait(t *testing.T) {
	info := &DeviceInfo{Name: testDevice}
	if info.SupportsRTSP() {
		t.Errorf("expected no RTSP support without trait data")
	}
}

func TestRTSPLease_InRenewalWindow(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lease := &RTSPLease{ExpiresAt: base.Add(600 * time.Second)}
	margin := 120 * time.Second

	if lease.InRenewalWindow(base.Add(400*time.Second), margin) {
		t.Errorf("expected no renewal at t=400s")
	}
	// Boundary counts as inside the window.
	if !lease.InRenewalWindow(base.Add(480*time.Second), margin) {
		t.Errorf("expected renewal exactly at the window boundary")
	}
	if !lease.InRenewalWindow(base.Add(500*time.Second), margin) {
		t.Errorf("expected renewal at t=500s")
	}
}
