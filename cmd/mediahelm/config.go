package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the mediahelm daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides. Defaults and validation live here so the rest of the
// code can assume a well-formed config.
type Config struct {
	// Host is the machine being controlled.
	Host HostConfig `yaml:"host"`

	// Sync configures the state synchronizer's timing.
	Sync SyncFileConfig `yaml:"sync"`

	// Discovery configures the Bonjour scanner.
	Discovery DiscoveryFileConfig `yaml:"discovery"`

	// IPC configuration (helmctl and other local clients)
	IPC IPCConfig `yaml:"ipc"`

	// StateWS is the WebSocket state stream for UI clients.
	StateWS StateWSConfig `yaml:"state_ws"`

	// Settings configures where user preferences are persisted.
	Settings SettingsConfig `yaml:"settings"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type HostConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// KeychainService is the OS-keychain service name passwords are stored
	// under. The password itself never appears in this file.
	KeychainService string `yaml:"keychain_service,omitempty"`
}

// SyncFileConfig is the user-facing synchronizer configuration. It maps 1:1
// to SyncConfig but uses YAML-friendly millisecond integers.
type SyncFileConfig struct {
	RefreshIntervalMS int `yaml:"refresh_interval_ms"`
	SettleDelayMS     int `yaml:"settle_delay_ms"`
	OverlayTimeoutMS  int `yaml:"overlay_timeout_ms"`
}

type DiscoveryFileConfig struct {
	ServiceType     string `yaml:"service_type"`
	Domain          string `yaml:"domain"`
	ScanWindowMS    int    `yaml:"scan_window_ms"`
	ResolveWindowMS int    `yaml:"resolve_window_ms"`
	CoolDownMS      int    `yaml:"cool_down_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type SettingsConfig struct {
	// Path of the settings file; empty resolves to the XDG config dir.
	Path string `yaml:"path,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Host: HostConfig{
			Port:            22,
			KeychainService: "mediahelm",
		},
		Sync: SyncFileConfig{
			RefreshIntervalMS: 3000,
			SettleDelayMS:     300,
			OverlayTimeoutMS:  2000,
		},
		Discovery: DiscoveryFileConfig{
			ServiceType:     "_ssh._tcp",
			Domain:          "local.",
			ScanWindowMS:    6000,
			ResolveWindowMS: 5000,
			CoolDownMS:      30000,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/mediahelm.sock",
		},
		StateWS: StateWSConfig{
			ListenAddr: "127.0.0.1:8137",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath is where LoadConfig looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "mediahelm", "config.yaml")
}

// LoadConfig reads the YAML config at path, layered over the defaults. A
// missing file is not an error: the defaults stand.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Host.Port <= 0 || c.Host.Port > 65535 {
		return fmt.Errorf("host.port out of range: %d", c.Host.Port)
	}
	if c.Sync.RefreshIntervalMS <= 0 {
		return fmt.Errorf("sync.refresh_interval_ms must be positive")
	}
	if c.Sync.SettleDelayMS <= 0 {
		return fmt.Errorf("sync.settle_delay_ms must be positive")
	}
	if c.Sync.OverlayTimeoutMS < c.Sync.SettleDelayMS {
		return fmt.Errorf("sync.overlay_timeout_ms must be at least settle_delay_ms")
	}
	if c.Discovery.ScanWindowMS <= 0 {
		return fmt.Errorf("discovery.scan_window_ms must be positive")
	}
	if c.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socket_path must be set")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// SyncConfig converts the YAML timing values to the synchronizer's form.
func (c Config) SyncConfig() SyncConfig {
	return SyncConfig{
		SettleDelay:     time.Duration(c.Sync.SettleDelayMS) * time.Millisecond,
		OverlayTimeout:  time.Duration(c.Sync.OverlayTimeoutMS) * time.Millisecond,
		RefreshInterval: time.Duration(c.Sync.RefreshIntervalMS) * time.Millisecond,
	}
}
