// Package config loads the daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vanb/internal/discovery"
	"vanb/internal/engine"
	"vanb/internal/status"
)

// Config stores everything the daemon needs to come up.
type Config struct {
	Addr      string
	LogLevel  string
	LogFormat string
	TLSCert   string
	TLSKey    string

	LauncherBinary string
	NamePrefix     string
	ScanTimeout    time.Duration

	HistoryDSN      string
	HistoryCapacity int

	RedisAddr      string
	RedisUsername  string
	RedisPassword  string
	StatusKey      string
	StatusTTL      time.Duration
	StatusInterval time.Duration

	ControlTokenHash string
	ControlToken     string
}

// LoadFromEnv initialises a Config from VANB_-prefixed environment
// variables, applying defaults for anything unset.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:             strings.TrimSpace(os.Getenv("VANB_ADDR")),
		LogLevel:         strings.TrimSpace(os.Getenv("VANB_LOG_LEVEL")),
		LogFormat:        strings.TrimSpace(os.Getenv("VANB_LOG_FORMAT")),
		TLSCert:          strings.TrimSpace(os.Getenv("VANB_TLS_CERT")),
		TLSKey:           strings.TrimSpace(os.Getenv("VANB_TLS_KEY")),
		LauncherBinary:   strings.TrimSpace(os.Getenv("VANB_LAUNCHER_BINARY")),
		NamePrefix:       strings.TrimSpace(os.Getenv("VANB_NAME_PREFIX")),
		ScanTimeout:      discovery.DefaultScanTimeout,
		HistoryDSN:       strings.TrimSpace(os.Getenv("VANB_HISTORY_DSN")),
		RedisAddr:        strings.TrimSpace(os.Getenv("VANB_REDIS_ADDR")),
		RedisUsername:    strings.TrimSpace(os.Getenv("VANB_REDIS_USERNAME")),
		RedisPassword:    os.Getenv("VANB_REDIS_PASSWORD"),
		StatusKey:        strings.TrimSpace(os.Getenv("VANB_STATUS_KEY")),
		StatusTTL:        status.DefaultTTL,
		StatusInterval:   5 * time.Second,
		ControlTokenHash: strings.TrimSpace(os.Getenv("VANB_CONTROL_TOKEN_HASH")),
		ControlToken:     strings.TrimSpace(os.Getenv("VANB_CONTROL_TOKEN")),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.LauncherBinary == "" {
		cfg.LauncherBinary = engine.DefaultBinary
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = discovery.DefaultNamePrefix
	}

	if raw := strings.TrimSpace(os.Getenv("VANB_SCAN_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse VANB_SCAN_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.ScanTimeout = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("VANB_HISTORY_CAPACITY")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse VANB_HISTORY_CAPACITY: %w", err)
		}
		if parsed > 0 {
			cfg.HistoryCapacity = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("VANB_STATUS_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse VANB_STATUS_TTL: %w", err)
		}
		if parsed > 0 {
			cfg.StatusTTL = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("VANB_STATUS_INTERVAL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse VANB_STATUS_INTERVAL: %w", err)
		}
		if parsed > 0 {
			cfg.StatusInterval = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot serve.
func (c Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("VANB_TLS_CERT and VANB_TLS_KEY must be set together")
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan timeout must be positive")
	}
	return nil
}
