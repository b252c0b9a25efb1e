package config

import (
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs/large"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_FileSystem(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.FileSystem.Type != "memory" {
		t.Errorf("Expected default type 'memory', got %q", cfg.FileSystem.Type)
	}
	if cfg.FileSystem.MicroOperationSize != 8<<20 {
		t.Errorf("Expected default micro operation size 8MiB, got %d", cfg.FileSystem.MicroOperationSize)
	}
	if cfg.FileSystem.Local == nil || cfg.FileSystem.Memory == nil {
		t.Fatal("Expected backend maps to be initialized")
	}
	if path := cfg.FileSystem.Badger["path"]; path != "/tmp/dittovfs-badger" {
		t.Errorf("Expected default badger path '/tmp/dittovfs-badger', got %v", path)
	}
	if cfg.FileSystem.S3 != nil {
		t.Error("Expected no default S3 map")
	}
}

func TestApplyDefaults_BadgerInMemory(t *testing.T) {
	cfg := &Config{FileSystem: FileSystemConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true},
	}}
	ApplyDefaults(cfg)

	if _, ok := cfg.FileSystem.Badger["path"]; ok {
		t.Error("Expected no path default for an in-memory database")
	}
}

func TestApplyDefaults_Large(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Large.MaxShardSize != large.DefaultMaxSinglePhysicalFileSize {
		t.Errorf("Expected default shard size, got %d", cfg.Large.MaxShardSize)
	}
	if cfg.Large.MaxLogicalSize != large.DefaultLogicalMaxSize {
		t.Errorf("Expected default logical size, got %d", cfg.Large.MaxLogicalSize)
	}
	if cfg.Large.SplitStr != large.DefaultSplitStr || cfg.Large.NewLine != large.DefaultNewLine {
		t.Errorf("Unexpected layout defaults: %q %q", cfg.Large.SplitStr, cfg.Large.NewLine)
	}
}

func TestApplyDefaults_LogicalSizeFollowsShardSize(t *testing.T) {
	cfg := &Config{Large: LargeConfig{MaxShardSize: 4 << 40}}
	ApplyDefaults(cfg)

	if cfg.Large.MaxLogicalSize != 4<<40 {
		t.Errorf("Expected logical size raised to the shard size, got %d", cfg.Large.MaxLogicalSize)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{Port: 9100},
		FileSystem: FileSystemConfig{
			Type:               "local",
			MicroOperationSize: 4096,
			Badger:             map[string]any{"path": "/var/lib/dittovfs"},
		},
		Large: LargeConfig{
			MaxShardSize:   1 << 20,
			MaxLogicalSize: 1 << 30,
			SplitStr:       "#",
			NewLine:        "\r\n",
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging values preserved, got %+v", cfg.Logging)
	}
	if cfg.Metrics.Port != 9100 {
		t.Errorf("Expected port 9100 preserved, got %d", cfg.Metrics.Port)
	}
	if cfg.FileSystem.Type != "local" || cfg.FileSystem.MicroOperationSize != 4096 {
		t.Errorf("Expected explicit filesystem values preserved, got %+v", cfg.FileSystem)
	}
	if cfg.FileSystem.Badger["path"] != "/var/lib/dittovfs" {
		t.Errorf("Expected badger path preserved, got %v", cfg.FileSystem.Badger["path"])
	}
	if cfg.Large.MaxShardSize != 1<<20 || cfg.Large.MaxLogicalSize != 1<<30 {
		t.Errorf("Expected explicit sizes preserved, got %+v", cfg.Large)
	}
	if cfg.Large.SplitStr != "#" || cfg.Large.NewLine != "\r\n" {
		t.Errorf("Expected explicit layout preserved, got %+v", cfg.Large)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}
