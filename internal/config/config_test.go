package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"VANB_ADDR", "VANB_LAUNCHER_BINARY", "VANB_NAME_PREFIX", "VANB_SCAN_TIMEOUT", "VANB_TLS_CERT", "VANB_TLS_KEY"} {
		t.Setenv(key, "")
	}
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}
	if cfg.Addr != ":8090" {
		t.Fatalf("default addr = %q", cfg.Addr)
	}
	if cfg.LauncherBinary != "gst-launch-1.0" {
		t.Fatalf("default launcher = %q", cfg.LauncherBinary)
	}
	if cfg.NamePrefix != "VANB-Rx" {
		t.Fatalf("default prefix = %q", cfg.NamePrefix)
	}
	if cfg.ScanTimeout != 3*time.Second {
		t.Fatalf("default scan timeout = %v", cfg.ScanTimeout)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("VANB_ADDR", "127.0.0.1:9000")
	t.Setenv("VANB_NAME_PREFIX", "Bridge")
	t.Setenv("VANB_SCAN_TIMEOUT", "750ms")
	t.Setenv("VANB_HISTORY_CAPACITY", "32")
	t.Setenv("VANB_STATUS_INTERVAL", "2s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.NamePrefix != "Bridge" {
		t.Fatalf("prefix = %q", cfg.NamePrefix)
	}
	if cfg.ScanTimeout != 750*time.Millisecond {
		t.Fatalf("scan timeout = %v", cfg.ScanTimeout)
	}
	if cfg.HistoryCapacity != 32 {
		t.Fatalf("history capacity = %d", cfg.HistoryCapacity)
	}
	if cfg.StatusInterval != 2*time.Second {
		t.Fatalf("status interval = %v", cfg.StatusInterval)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("VANB_SCAN_TIMEOUT", "soon")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for unparseable scan timeout")
	}
}

func TestValidateTLSPairing(t *testing.T) {
	t.Setenv("VANB_TLS_CERT", "/etc/vanb/tls.crt")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when TLS cert is set without a key")
	}

	t.Setenv("VANB_TLS_KEY", "/etc/vanb/tls.key")
	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("cert and key together should validate, got %v", err)
	}
}
