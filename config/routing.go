// Package config loads the backend's environment configuration and the client's routing file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// In-flight policies for overlapping dispatches.
const (
	InFlightReject = "reject"
	InFlightQueue  = "queue"
	InFlightCancel = "cancel"
)

// Duration decodes TOML strings such as "60s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RoutingConfig is the read-only snapshot a dispatch works from.
type RoutingConfig struct {
	CloudEnabled bool   `toml:"enabled"`
	Endpoint     string `toml:"endpoint"`
	Token        string `toml:"api_token"`
	DefaultModel string `toml:"default_model"`
	TopK         int    `toml:"rag_top_k"`
}

// CloudUsable reports whether the cloud path may be attempted at all.
func (r RoutingConfig) CloudUsable() bool {
	return r.CloudEnabled && strings.TrimSpace(r.Endpoint) != "" && r.Token != ""
}

// BaseURL returns the endpoint without a trailing slash.
func (r RoutingConfig) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(r.Endpoint), "/")
}

// LocalConfig points at the local fallback agent.
type LocalConfig struct {
	Endpoint  string `toml:"endpoint"`
	WebSocket string `toml:"websocket"`
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	StreamTimeout Duration `toml:"stream_timeout"`
	InFlight      string   `toml:"in_flight"`
}

// MonitorConfig tunes the connectivity probe schedule.
type MonitorConfig struct {
	Grace   Duration `toml:"grace"`
	Floor   Duration `toml:"floor"`
	Ceiling Duration `toml:"ceiling"`
}

// ClientConfig is the whole client settings file.
type ClientConfig struct {
	Cloud    RoutingConfig  `toml:"cloud"`
	Local    LocalConfig    `toml:"local"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Monitor  MonitorConfig  `toml:"monitor"`
	LogLevel string         `toml:"log_level"`
}

// DefaultClientPath is ~/.config/pointer/config.toml.
func DefaultClientPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "pointer", "config.toml")
}

// DefaultClientConfig returns the settings used when no file exists.
func DefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{}
	fillDefaults(cfg)
	return cfg
}

// LoadClient reads the client settings file. A missing file is not an error; the defaults are returned.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fillDefaults(cfg)
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRouting re-reads the file and returns only the routing snapshot for one dispatch.
func LoadRouting(path string) (RoutingConfig, error) {
	cfg, err := LoadClient(path)
	if err != nil {
		return RoutingConfig{}, err
	}
	return cfg.Cloud, nil
}

// SaveClient writes cfg back as TOML.
func SaveClient(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML file: %w", err)
	}
	return nil
}

func fillDefaults(cfg *ClientConfig) {
	if cfg.Cloud.DefaultModel == "" {
		cfg.Cloud.DefaultModel = "gemini-2.5-flash"
	}
	if cfg.Cloud.TopK < 1 {
		cfg.Cloud.TopK = 5
	}
	if cfg.Local.Endpoint == "" {
		cfg.Local.Endpoint = "http://127.0.0.1:8765"
	}
	if cfg.Local.WebSocket == "" {
		cfg.Local.WebSocket = "ws://127.0.0.1:8765/ws"
	}
	if cfg.Dispatch.StreamTimeout.Duration == 0 {
		cfg.Dispatch.StreamTimeout.Duration = 60 * time.Second
	}
	if cfg.Dispatch.InFlight == "" {
		cfg.Dispatch.InFlight = InFlightReject
	}
	if cfg.Monitor.Grace.Duration == 0 {
		cfg.Monitor.Grace.Duration = time.Second
	}
	if cfg.Monitor.Floor.Duration == 0 {
		cfg.Monitor.Floor.Duration = 5 * time.Second
	}
	if cfg.Monitor.Ceiling.Duration == 0 {
		cfg.Monitor.Ceiling.Duration = 30 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
}

func validate(cfg *ClientConfig) error {
	switch cfg.Dispatch.InFlight {
	case InFlightReject, InFlightQueue, InFlightCancel:
	default:
		return fmt.Errorf("dispatch.in_flight must be one of %q, %q, %q; got %q",
			InFlightReject, InFlightQueue, InFlightCancel, cfg.Dispatch.InFlight)
	}
	if cfg.Monitor.Ceiling.Duration < cfg.Monitor.Floor.Duration {
		return fmt.Errorf("monitor.ceiling (%s) is below monitor.floor (%s)",
			cfg.Monitor.Ceiling.Duration, cfg.Monitor.Floor.Duration)
	}
	return nil
}
