package config

import "time"

// Config represents the complete zonectl configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Journal  JournalConfig  `yaml:"journal"`
	API      APIConfig      `yaml:"api,omitempty"`
	Events   EventsConfig   `yaml:"events,omitempty"`
	Zones    []ZoneConfig   `yaml:"zones,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DispatchConfig defines worker and shutdown behaviour.
type DispatchConfig struct {
	// RequireDevice keeps commands queued until discovery attaches a device.
	// Nil means the default (true).
	RequireDevice  *bool         `yaml:"require_device,omitempty"`
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
	// SettleTimeout is how long `run` waits for discovery when no zone is named.
	SettleTimeout time.Duration `yaml:"settle_timeout"`
	// DrainTimeout bounds how long `run` waits for named zones to drain.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	// StopGrace bounds how long shutdown waits for running commands.
	StopGrace time.Duration `yaml:"stop_grace"`
}

// RequiresDevice resolves RequireDevice against its default.
func (d DispatchConfig) RequiresDevice() bool {
	if d.RequireDevice == nil {
		return true
	}
	return *d.RequireDevice
}

// JournalConfig defines the command journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// every route except /healthz.
	Token string `yaml:"token,omitempty"`
}

// EventsConfig sizes the in-memory event ring buffer.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// ZoneConfig is a statically known zone, announced to the dispatcher by the
// static discovery source.
type ZoneConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	// DiscoverAfter delays the availability announcement.
	DiscoverAfter time.Duration `yaml:"discover_after,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "zonectl",
			LogLevel: "info",
		},
		Dispatch: DispatchConfig{
			SettleTimeout: 5 * time.Second,
			DrainTimeout:  60 * time.Second,
			StopGrace:     5 * time.Second,
		},
		Journal: JournalConfig{
			Path: "",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8484",
		},
		Events: EventsConfig{
			Buffer: 256,
		},
	}
}
