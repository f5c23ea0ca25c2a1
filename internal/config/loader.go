package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the configuration at configPath.
// A directory is accepted if it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// ResolvePath returns the absolute path of the config file named by
// configPath, which may be the file itself or a directory holding config.yaml.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// Parse decodes YAML configuration, applying env interpolation and defaults.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfigPath finds the configuration by checking standard locations.
// Priority order: $ZONECTL_CONFIG, ~/.config/zonectl, /etc/zonectl, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("ZONECTL_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "zonectl")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/zonectl"
	if _, err := os.Stat(filepath.Join(systemConfigDir, "config.yaml")); err == nil {
		return systemConfigDir, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $ZONECTL_CONFIG, ~/.config/zonectl, /etc/zonectl, ./config.yaml)")
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.Dispatch.SettleTimeout == 0 {
		cfg.Dispatch.SettleTimeout = defaults.Dispatch.SettleTimeout
	}
	if cfg.Dispatch.DrainTimeout == 0 {
		cfg.Dispatch.DrainTimeout = defaults.Dispatch.DrainTimeout
	}
	if cfg.Dispatch.StopGrace == 0 {
		cfg.Dispatch.StopGrace = defaults.Dispatch.StopGrace
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = defaults.Events.Buffer
	}
}

// interpolateEnv replaces ${VAR} with the value of the environment variable.
// Unset variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Dispatch.CommandTimeout < 0 {
		return fmt.Errorf("dispatch.command_timeout must not be negative")
	}
	if cfg.Dispatch.SettleTimeout < 0 {
		return fmt.Errorf("dispatch.settle_timeout must not be negative")
	}
	if cfg.Dispatch.DrainTimeout < 0 {
		return fmt.Errorf("dispatch.drain_timeout must not be negative")
	}
	if cfg.Dispatch.StopGrace < 0 {
		return fmt.Errorf("dispatch.stop_grace must not be negative")
	}

	if m := envVarPattern.FindStringSubmatch(cfg.Journal.Path); m != nil {
		return fmt.Errorf("journal.path: environment variable ${%s} is not set", m[1])
	}

	if m := envVarPattern.FindStringSubmatch(cfg.API.Token); m != nil {
		return fmt.Errorf("api.token: environment variable ${%s} is not set", m[1])
	}
	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}

	if cfg.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must not be negative")
	}

	seen := make(map[string]int, len(cfg.Zones))
	for i, z := range cfg.Zones {
		key := strings.ToUpper(strings.TrimSpace(z.Name))
		if key == "" {
			return fmt.Errorf("zones[%d]: name is required", i)
		}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("zones[%d]: zone %q duplicates zones[%d] (names are case-insensitive)", i, z.Name, prev)
		}
		seen[key] = i
		if z.DiscoverAfter < 0 {
			return fmt.Errorf("zones[%d]: discover_after must not be negative", i)
		}
		if m := envVarPattern.FindStringSubmatch(z.Address); m != nil {
			return fmt.Errorf("zones[%d].address: environment variable ${%s} is not set", i, m[1])
		}
	}

	return nil
}
