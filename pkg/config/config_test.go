package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

filesystem:
  type: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.FileSystem.MicroOperationSize != 8<<20 {
		t.Errorf("Expected default micro operation size 8MiB, got %s", cfg.FileSystem.MicroOperationSize)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
filesystem:
  type: badger
  name: archive
  read_only: true
  case_correction: true
  micro_operation_size: 64KiB
  badger:
    in_memory: true
    block_size: 4KiB

chroot:
  enabled: true
  root: /data

large:
  enabled: true
  max_shard_size: 1MiB
  max_logical_size: 1GiB
  split_str: "__"

pool:
  max_lifetime: 90s
  max_idle_handles: 8
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.FileSystem.Type != "badger" || cfg.FileSystem.Name != "archive" {
		t.Errorf("Unexpected filesystem section: %+v", cfg.FileSystem)
	}
	if !cfg.FileSystem.ReadOnly || !cfg.FileSystem.CaseCorrection {
		t.Error("Expected read_only and case_correction to be set")
	}
	if cfg.FileSystem.MicroOperationSize != 64<<10 {
		t.Errorf("Expected micro operation size 64KiB, got %d", cfg.FileSystem.MicroOperationSize)
	}
	if cfg.FileSystem.Badger["block_size"] != "4KiB" {
		t.Errorf("Expected raw badger block_size, got %v", cfg.FileSystem.Badger["block_size"])
	}
	if _, ok := cfg.FileSystem.Badger["path"]; ok {
		t.Error("Expected no default badger path for an in-memory database")
	}
	if !cfg.Chroot.Enabled || cfg.Chroot.Root != "/data" {
		t.Errorf("Unexpected chroot section: %+v", cfg.Chroot)
	}
	if cfg.Large.MaxShardSize != 1<<20 || cfg.Large.MaxLogicalSize != 1<<30 {
		t.Errorf("Unexpected large sizes: %d %d", cfg.Large.MaxShardSize, cfg.Large.MaxLogicalSize)
	}
	if cfg.Large.SplitStr != "__" || cfg.Large.NewLine != "\n" {
		t.Errorf("Unexpected large layout: %q %q", cfg.Large.SplitStr, cfg.Large.NewLine)
	}
	if cfg.Pool.MaxLifetime != 90*time.Second || cfg.Pool.MaxIdleHandles != 8 {
		t.Errorf("Unexpected pool section: %+v", cfg.Pool)
	}
}

func TestLoad_RateLimit(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
filesystem:
  type: memory
  rate_limit:
    bytes_per_second: 10MiB
`)
	t.Setenv("DITTOVFS_FILESYSTEM_RATE_LIMIT_BURST", "20MiB")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.FileSystem.RateLimit.BytesPerSecond != 10<<20 {
		t.Errorf("Expected 10MiB/s, got %s", cfg.FileSystem.RateLimit.BytesPerSecond)
	}
	if cfg.FileSystem.RateLimit.Burst != 20<<20 {
		t.Errorf("Expected burst 20MiB from the environment, got %s", cfg.FileSystem.RateLimit.Burst)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A missing explicit path must not fall back to the user's config
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.FileSystem.Type != "memory" {
		t.Errorf("Expected default filesystem type 'memory', got %q", cfg.FileSystem.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidSize(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
filesystem:
  micro_operation_size: lots
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for an unparseable size")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
filesystem:
  type: floppy
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown filesystem type")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[filesystem]
type = "local"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.FileSystem.Type != "local" {
		t.Errorf("Expected filesystem type 'local', got %q", cfg.FileSystem.Type)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.FileSystem.Type != "local" {
		t.Errorf("Expected default filesystem type 'local', got %q", cfg.FileSystem.Type)
	}
	if !cfg.Chroot.Enabled || cfg.Chroot.Root != "/tmp/dittovfs" {
		t.Errorf("Expected default chroot on /tmp/dittovfs, got %+v", cfg.Chroot)
	}
	if cfg.Large.Enabled {
		t.Error("Expected large files disabled by default")
	}
	if cfg.Pool.MaxIdleHandles != 64 {
		t.Errorf("Expected 64 idle handles, got %d", cfg.Pool.MaxIdleHandles)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty config home")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if dir := GetConfigDir(); dir != filepath.Join(xdg, "dittovfs") {
		t.Errorf("Expected %q, got %q", filepath.Join(xdg, "dittovfs"), dir)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOVFS_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOVFS_FILESYSTEM_MICRO_OPERATION_SIZE", "1MiB")
	t.Setenv("DITTOVFS_POOL_MAX_LIFETIME", "5m")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

filesystem:
  type: "memory"
  micro_operation_size: 64KiB
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Environment variables override the config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.FileSystem.MicroOperationSize != 1<<20 {
		t.Errorf("Expected 1MiB from env var, got %d", cfg.FileSystem.MicroOperationSize)
	}
	if cfg.Pool.MaxLifetime != 5*time.Minute {
		t.Errorf("Expected 5m from env var, got %v", cfg.Pool.MaxLifetime)
	}
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("DITTOVFS_FILESYSTEM_TYPE", "badger")
	t.Setenv("DITTOVFS_CHROOT_ENABLED", "true")
	t.Setenv("DITTOVFS_CHROOT_ROOT", "/srv")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.FileSystem.Type != "badger" {
		t.Errorf("Expected type 'badger' from env var, got %q", cfg.FileSystem.Type)
	}
	if !cfg.Chroot.Enabled || cfg.Chroot.Root != "/srv" {
		t.Errorf("Expected chroot on /srv from env vars, got %+v", cfg.Chroot)
	}
	if cfg.FileSystem.Badger["path"] != "/tmp/dittovfs-badger" {
		t.Errorf("Expected default badger path, got %v", cfg.FileSystem.Badger["path"])
	}
}
