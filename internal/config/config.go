// Package config loads the service configuration: defaults, overlaid by an
// optional YAML file, overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Reaper  ReaperConfig  `yaml:"reaper"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// AllowedOrigins are origin patterns for the websocket cross-origin
	// policy; "scheme://host:*" matches any port.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type StorageConfig struct {
	// Driver selects the group-blob store: "sqlite" or "file".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// Passphrase seals the file driver's snapshot at rest; ignored by the
	// sqlite driver. Empty means plaintext.
	Passphrase string `yaml:"passphrase"`
	// DirectoryPath is the user/session lookup database.
	DirectoryPath string `yaml:"directoryPath"`
}

type LimitsConfig struct {
	InviteRPS  float64 `yaml:"inviteRps"`
	UpdateRPS  float64 `yaml:"updateRps"`
	Burst      int     `yaml:"burst"`
	IdleTTLSec int     `yaml:"idleTtlSeconds"`
}

type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
	IdleTTL  time.Duration `yaml:"idleTtl"`
}

// UnmarshalYAML parses the durations from their "1m30s" string form, which
// yaml does not do for time.Duration on its own. Absent keys keep the values
// already in place.
func (r *ReaperConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
		IdleTTL  string `yaml:"idleTtl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval != "" {
		parsed, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("reaper interval: %w", err)
		}
		r.Interval = parsed
	}
	if raw.IdleTTL != "" {
		parsed, err := time.ParseDuration(raw.IdleTTL)
		if err != nil {
			return fmt.Errorf("reaper idleTtl: %w", err)
		}
		r.IdleTTL = parsed
	}
	return nil
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
			AllowedOrigins: []string{
				"http://localhost:*",
			},
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			Path:          "data/groups.db",
			DirectoryPath: "data/directory.db",
		},
		Limits: LimitsConfig{
			InviteRPS:  2,
			UpdateRPS:  10,
			Burst:      10,
			IdleTTLSec: 600,
		},
		Reaper: ReaperConfig{
			Interval: time.Minute,
			IdleTTL:  15 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load merges the YAML file at path (when it exists) and then the
// environment over the defaults. A missing file is not an error; an
// unreadable or malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid listen port %d", cfg.Server.Port)
	}
	switch cfg.Storage.Driver {
	case "sqlite", "file":
	default:
		return Config{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := envInt("PORT", 0); port > 0 {
		cfg.Server.Port = port
	}
	if origins := envCSV("SYNC_ALLOWED_ORIGINS"); origins != nil {
		cfg.Server.AllowedOrigins = origins
	}
	if driver := envString("SYNC_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if path := envString("SYNC_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if passphrase := envString("SYNC_STORAGE_PASSPHRASE"); passphrase != "" {
		cfg.Storage.Passphrase = passphrase
	}
	if path := envString("SYNC_DIRECTORY_PATH"); path != "" {
		cfg.Storage.DirectoryPath = path
	}
	if level := envString("SYNC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envCSV(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
