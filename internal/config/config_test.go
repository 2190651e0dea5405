package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected default driver %q", cfg.Storage.Driver)
	}
	if cfg.Reaper.IdleTTL != 15*time.Minute {
		t.Fatalf("unexpected default idle TTL %v", cfg.Reaper.IdleTTL)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
  allowedOrigins:
    - "https://app.example.com"
storage:
  driver: file
  path: /tmp/groups.snap
limits:
  updateRps: 25
reaper:
  interval: 30s
  idleTtl: 5m
log:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port not overlaid: %d", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("origins not overlaid: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "/tmp/groups.snap" {
		t.Fatalf("storage not overlaid: %+v", cfg.Storage)
	}
	if cfg.Limits.UpdateRPS != 25 {
		t.Fatalf("limits not overlaid: %+v", cfg.Limits)
	}
	if cfg.Reaper.Interval != 30*time.Second || cfg.Reaper.IdleTTL != 5*time.Minute {
		t.Fatalf("reaper not overlaid: %+v", cfg.Reaper)
	}
	// Untouched keys keep their defaults.
	if cfg.Limits.InviteRPS != 2 {
		t.Fatalf("unrelated default lost: %+v", cfg.Limits)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML must be an error")
	}
}

func TestLoadValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: redis\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("an unknown storage driver must be rejected")
	}

	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("an invalid port must be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SYNC_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SYNC_STORAGE_DRIVER", "file")
	t.Setenv("SYNC_STORAGE_PATH", "/var/lib/sync/groups.snap")
	t.Setenv("SYNC_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("PORT not applied: %d", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins not applied: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "/var/lib/sync/groups.snap" {
		t.Fatalf("storage env not applied: %+v", cfg.Storage)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level not applied: %q", cfg.Log.Level)
	}
}
