package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nest-bridge/internal/logger"
)

func requiredArgs() []string {
	return []string{
		"-nest-token", "tok",
		"-project-id", "proj",
		"-device-id", "dev",
		"-protect-host", "192.168.1.1",
		"-camera-mac", "AABBCCDDEEFF",
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RenewBefore != 120*time.Second {
		t.Errorf("expected 120s renew margin, got %v", cfg.RenewBefore)
	}
	if cfg.CheckInterval != 60*time.Second {
		t.Errorf("expected 60s check interval, got %v", cfg.CheckInterval)
	}
	if cfg.EventInterval != 30*time.Second {
		t.Errorf("expected 30s event interval, got %v", cfg.EventInterval)
	}
	if cfg.ProxyBin != "unifi-cam-proxy" {
		t.Errorf("unexpected default proxy binary %q", cfg.ProxyBin)
	}
}

func TestParseFlags(t *testing.T) {
	args := append(requiredArgs(),
		"-camera-name", "Porch",
		"-renew-before", "90",
		"-check-interval", "30",
		"-poll-events",
	)
	cfg, err := ParseFlags("nest-bridge", args)
	if err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}
	if cfg.NestToken != "tok" || cfg.ProjectID != "proj" || cfg.DeviceID != "dev" {
		t.Errorf("credentials not parsed: %+v", cfg)
	}
	if cfg.CameraName != "Porch" {
		t.Errorf("expected camera name Porch, got %q", cfg.CameraName)
	}
	if cfg.RenewBefore != 90*time.Second {
		t.Errorf("expected 90s renew margin, got %v", cfg.RenewBefore)
	}
	if cfg.CheckInterval != 30*time.Second {
		t.Errorf("expected 30s check interval, got %v", cfg.CheckInterval)
	}
	if !cfg.PollEvents {
		t.Errorf("expected event polling enabled")
	}
	if cfg.DeviceName() != "enterprises/proj/devices/dev" {
		t.Errorf("unexpected device name %q", cfg.DeviceName())
	}
}

func TestParseFlags_EnvFallback(t *testing.T) {
	os.Setenv("NEST_BRIDGE_TOKEN", "env-tok")
	os.Setenv("NEST_BRIDGE_CHECK_INTERVAL", "15")
	defer os.Unsetenv("NEST_BRIDGE_TOKEN")
	defer os.Unsetenv("NEST_BRIDGE_CHECK_INTERVAL")

	cfg, err := ParseFlags("nest-bridge", []string{
		"-project-id", "proj",
		"-device-id", "dev",
		"-protect-host", "192.168.1.1",
		"-camera-mac", "AABBCCDDEEFF",
	})
	if err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}
	if cfg.NestToken != "env-tok" {
		t.Errorf("expected token from environment, got %q", cfg.NestToken)
	}
	if cfg.CheckInterval != 15*time.Second {
		t.Errorf("expected 15s interval from environment, got %v", cfg.CheckInterval)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.NestToken = "tok"
		cfg.ProjectID = "proj"
		cfg.DeviceID = "dev"
		cfg.ProtectHost = "host"
		cfg.CameraMAC = "AABBCCDDEEFF"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no token", func(c *Config) { c.NestToken = ""; c.NestTokenFile = "" }},
		{"no project", func(c *Config) { c.ProjectID = "" }},
		{"no device", func(c *Config) { c.DeviceID = "" }},
		{"no host", func(c *Config) { c.ProtectHost = "" }},
		{"no mac", func(c *Config) { c.CameraMAC = "" }},
		{"bad renew margin", func(c *Config) { c.RenewBefore = 0 }},
		{"bad check interval", func(c *Config) { c.CheckInterval = 0 }},
		{"bad event interval", func(c *Config) { c.PollEvents = true; c.EventInterval = 0 }},
		{"no proxy bin", func(c *Config) { c.ProxyBin = "" }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestStaticToken(t *testing.T) {
	if StaticToken("abc").Token() != "abc" {
		t.Errorf("unexpected static token value")
	}
}

func TestFileTokenSource_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("first\n"), 0600); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileTokenSource(path, logger.NewLogger())
	if err != nil {
		t.Fatalf("failed to create token source: %v", err)
	}
	defer src.Close()

	if src.Token() != "first" {
		t.Errorf("expected trimmed initial token, got %q", src.Token())
	}

	if err := os.WriteFile(path, []byte("second\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// The reload is asynchronous.
	deadline := time.Now().Add(3 * time.Second)
	for src.Token() != "second" && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if src.Token() != "second" {
		t.Errorf("expected reloaded token, got %q", src.Token())
	}
}

func TestFileTokenSource_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileTokenSource(path, logger.NewLogger()); err == nil {
		t.Errorf("expected error for an empty token file")
	}
}

func TestFileTokenSource_MissingFile(t *testing.T) {
	if _, err := NewFileTokenSource(filepath.Join(t.TempDir(), "none"), logger.NewLogger()); err == nil {
		t.Errorf("expected error for a missing token file")
	}
}
