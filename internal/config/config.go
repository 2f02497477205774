// Package config provides configuration management for the nest-bridge
// application. Values come from CLI flags with environment fallbacks; a .env
// file loaded at startup can supply the environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full bridge configuration.
type Config struct {
	// Nest SDM access
	NestToken     string
	NestTokenFile string
	ProjectID     string
	DeviceID      string

	// UniFi Protect controller
	ProtectHost     string
	ProtectUsername string
	ProtectPassword string
	ProtectToken    string
	Insecure        bool

	// Emulated camera identity
	CameraName   string
	CameraMAC    string
	RTSPUsername string
	RTSPPassword string

	// Renewal loop
	RenewBefore   time.Duration
	CheckInterval time.Duration

	// Event polling
	PollEvents    bool
	EventInterval time.Duration

	// Plumbing
	ProxyBin    string
	StatusAddr  string
	ProbeStream bool
	LogLevel    string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CameraName:    "Nest Doorbell",
		RTSPUsername:  "ubnt",
		RTSPPassword:  "ubnt",
		RenewBefore:   120 * time.Second,
		CheckInterval: 60 * time.Second,
		EventInterval: 30 * time.Second,
		ProxyBin:      "unifi-cam-proxy",
		LogLevel:      "info",
	}
}

// LoadEnv reads a .env file into the environment if one exists. Missing files
// are not an error; system environment and defaults apply.
func LoadEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	_ = godotenv.Load(paths...)
}

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return fallback
}

func envOrSeconds(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// ParseFlags builds a Config from CLI arguments, falling back to NEST_BRIDGE_*
// environment variables and then to defaults. Interval flags take seconds.
func ParseFlags(progname string, args []string) (*Config, error) {
	def := DefaultConfig()
	fs := flag.NewFlagSet(progname, flag.ContinueOnError)
	cfg := &Config{}

	fs.StringVar(&cfg.NestToken, "nest-token", envOr("NEST_BRIDGE_TOKEN", ""), "Google SDM access token")
	fs.StringVar(&cfg.NestTokenFile, "nest-token-file", envOr("NEST_BRIDGE_TOKEN_FILE", ""), "file containing the SDM access token, reloaded on change")
	fs.StringVar(&cfg.ProjectID, "project-id", envOr("NEST_BRIDGE_PROJECT_ID", ""), "Device Access project ID")
	fs.StringVar(&cfg.DeviceID, "device-id", envOr("NEST_BRIDGE_DEVICE_ID", ""), "doorbell device ID")
	fs.StringVar(&cfg.ProtectHost, "protect-host", envOr("NEST_BRIDGE_PROTECT_HOST", ""), "Protect host/IP (UDM Pro)")
	fs.StringVar(&cfg.ProtectUsername, "protect-username", envOr("NEST_BRIDGE_PROTECT_USERNAME", ""), "Protect admin username")
	fs.StringVar(&cfg.ProtectPassword, "protect-password", envOr("NEST_BRIDGE_PROTECT_PASSWORD", ""), "Protect admin password")
	fs.StringVar(&cfg.ProtectToken, "protect-token", envOr("NEST_BRIDGE_PROTECT_TOKEN", ""), "Protect adoption token alternative to username/password")
	fs.StringVar(&cfg.CameraName, "camera-name", envOr("NEST_BRIDGE_CAMERA_NAME", def.CameraName), "name for the virtual camera")
	fs.StringVar(&cfg.CameraMAC, "camera-mac", envOr("NEST_BRIDGE_CAMERA_MAC", ""), "unique MAC address to emulate")
	fs.StringVar(&cfg.RTSPUsername, "rtsp-username", envOr("NEST_BRIDGE_RTSP_USERNAME", def.RTSPUsername), "RTSP username presented to Protect")
	fs.StringVar(&cfg.RTSPPassword, "rtsp-password", envOr("NEST_BRIDGE_RTSP_PASSWORD", def.RTSPPassword), "RTSP password presented to Protect")
	renewBefore := fs.Int("renew-before", int(envOrSeconds("NEST_BRIDGE_RENEW_BEFORE", def.RenewBefore)/time.Second), "seconds before expiry to renew the stream")
	checkInterval := fs.Int("check-interval", int(envOrSeconds("NEST_BRIDGE_CHECK_INTERVAL", def.CheckInterval)/time.Second), "seconds between stream health checks")
	fs.BoolVar(&cfg.PollEvents, "poll-events", envOrBool("NEST_BRIDGE_POLL_EVENTS", false), "poll Nest for doorbell events")
	eventInterval := fs.Int("event-interval", int(envOrSeconds("NEST_BRIDGE_EVENT_INTERVAL", def.EventInterval)/time.Second), "seconds between event polls")
	fs.BoolVar(&cfg.Insecure, "insecure", envOrBool("NEST_BRIDGE_INSECURE", false), "allow insecure TLS to Protect")
	fs.StringVar(&cfg.ProxyBin, "proxy-bin", envOr("NEST_BRIDGE_PROXY_BIN", def.ProxyBin), "path to the unifi-cam-proxy executable")
	fs.StringVar(&cfg.StatusAddr, "status-addr", envOr("NEST_BRIDGE_STATUS_ADDR", ""), "address for the status/metrics HTTP endpoint (empty disables)")
	fs.BoolVar(&cfg.ProbeStream, "probe-stream", envOrBool("NEST_BRIDGE_PROBE_STREAM", false), "probe RTSP stream URLs before handing them to the proxy")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("NEST_BRIDGE_LOG_LEVEL", def.LogLevel), "logging level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.RenewBefore = time.Duration(*renewBefore) * time.Second
	cfg.CheckInterval = time.Duration(*checkInterval) * time.Second
	cfg.EventInterval = time.Duration(*eventInterval) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.NestToken == "" && c.NestTokenFile == "" {
		return fmt.Errorf("either -nest-token or -nest-token-file is required")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if c.ProtectHost == "" {
		return fmt.Errorf("protect host cannot be empty")
	}
	if c.CameraMAC == "" {
		return fmt.Errorf("camera MAC cannot be empty")
	}
	if c.RenewBefore <= 0 {
		return fmt.Errorf("renew-before must be positive")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check-interval must be positive")
	}
	if c.PollEvents && c.EventInterval <= 0 {
		return fmt.Errorf("event-interval must be positive when event polling is enabled")
	}
	if c.ProxyBin == "" {
		return fmt.Errorf("proxy executable cannot be empty")
	}
	return nil
}

// DeviceName returns the full SDM device resource name.
func (c *Config) DeviceName() string {
	return fmt.Sprintf("enterprises/%s/devices/%s", c.ProjectID, c.DeviceID)
}
