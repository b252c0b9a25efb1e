package config

import (
	"strings"

	"github.com/marmos91/dittovfs/pkg/randomaccess"
	"github.com/marmos91/dittovfs/pkg/vfs/large"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyFileSystemDefaults(&cfg.FileSystem)
	applyLargeDefaults(&cfg.Large)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyFileSystemDefaults sets backend defaults.
func applyFileSystemDefaults(cfg *FileSystemConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.MicroOperationSize == 0 {
		cfg.MicroOperationSize = ByteSize(randomaccess.DefaultMicroOperationSize)
	}

	if cfg.Local == nil {
		cfg.Local = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Apply defaults for all backend types (for config file generation)
	if _, ok := cfg.Badger["path"]; !ok {
		if inMemory, _ := cfg.Badger["in_memory"].(bool); !inMemory {
			cfg.Badger["path"] = "/tmp/dittovfs-badger"
		}
	}
}

// applyLargeDefaults fills the shard layout with the decorator's defaults,
// so that the generated file shows them.
func applyLargeDefaults(cfg *LargeConfig) {
	if cfg.MaxShardSize == 0 {
		cfg.MaxShardSize = ByteSize(large.DefaultMaxSinglePhysicalFileSize)
	}
	if cfg.MaxLogicalSize == 0 {
		cfg.MaxLogicalSize = max(ByteSize(large.DefaultLogicalMaxSize), cfg.MaxShardSize)
	}
	if cfg.SplitStr == "" {
		cfg.SplitStr = large.DefaultSplitStr
	}
	if cfg.NewLine == "" {
		cfg.NewLine = large.DefaultNewLine
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		FileSystem: FileSystemConfig{
			Type: "local",
		},
		Chroot: ChrootConfig{
			Enabled: true,
			Root:    "/tmp/dittovfs",
		},
		Pool: PoolConfig{
			MaxIdleHandles: 64,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
