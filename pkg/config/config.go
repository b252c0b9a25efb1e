package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/spf13/viper"
)

// Config represents the complete DittoVFS configuration.
//
// This structure captures every configurable aspect of a filesystem stack:
//   - Logging configuration
//   - Metrics collection and the metrics HTTP server
//   - Backend selection and configuration (backend-specific)
//   - Optional chroot and large-file decorators on top of the backend
//   - Handle pool limits
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The FileSystem section
// holds one map per backend type (e.g., filesystem.badger, filesystem.s3) and
// only the map matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// FileSystem selects and configures the storage backend
	FileSystem FileSystemConfig `mapstructure:"filesystem" yaml:"filesystem" json:"filesystem"`

	// Chroot confines the stack to a sub-tree of the backend
	Chroot ChrootConfig `mapstructure:"chroot" yaml:"chroot" json:"chroot"`

	// Large splits big logical files into fixed-size shards
	Large LargeConfig `mapstructure:"large" yaml:"large" json:"large"`

	// Pool limits the random access handle pools of the top filesystem
	Pool PoolConfig `mapstructure:"pool" yaml:"pool" json:"pool"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" json:"output" validate:"required"`
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled turns on Prometheus metrics and the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Port of the metrics HTTP server
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"gte=0,lte=65535"`
}

// FileSystemConfig specifies the storage backend.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific configuration section is used.
type FileSystemConfig struct {
	// Type specifies which backend to use
	// Valid values: local, memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=local memory badger s3"`

	// Name identifies the filesystem in logs and metrics. Default: the type
	Name string `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`

	// ReadOnly rejects every mutating operation
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only" json:"read_only"`

	// CaseCorrection resolves paths case-insensitively against existing entries
	CaseCorrection bool `mapstructure:"case_correction" yaml:"case_correction" json:"case_correction"`

	// MicroOperationSize bounds a single backend read or write
	MicroOperationSize ByteSize `mapstructure:"micro_operation_size" yaml:"micro_operation_size" json:"micro_operation_size" validate:"gte=0"`

	// RateLimit bounds the read and write bandwidth of the top filesystem
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`

	// Local contains host filesystem configuration
	// Only used when Type = "local"
	Local map[string]any `mapstructure:"local" yaml:"local,omitempty" json:"local,omitempty"`

	// Memory contains in-memory configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty" json:"memory,omitempty"`

	// Badger contains BadgerDB configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty" json:"badger,omitempty"`

	// S3 contains S3 configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`
}

// RateLimitConfig configures the token bucket shared by all open files.
type RateLimitConfig struct {
	// BytesPerSecond is the sustained bandwidth. Zero disables the limit
	BytesPerSecond ByteSize `mapstructure:"bytes_per_second" yaml:"bytes_per_second" json:"bytes_per_second" validate:"gte=0"`

	// Burst is the bucket capacity. Zero means one second worth of bandwidth
	Burst ByteSize `mapstructure:"burst" yaml:"burst" json:"burst" validate:"gte=0"`
}

// ChrootConfig confines the filesystem to a directory of the backend.
type ChrootConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Root is the backend directory that becomes "/". It is created when
	// missing.
	Root string `mapstructure:"root" yaml:"root" json:"root" validate:"required_if=Enabled true"`
}

// LargeConfig configures the sharding decorator.
type LargeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxShardSize is the size of every shard but the last
	MaxShardSize ByteSize `mapstructure:"max_shard_size" yaml:"max_shard_size" json:"max_shard_size" validate:"gte=0"`

	// MaxLogicalSize is the largest logical file the layout must address
	MaxLogicalSize ByteSize `mapstructure:"max_logical_size" yaml:"max_logical_size" json:"max_logical_size" validate:"gte=0"`

	// SplitStr separates the base name from the shard number
	SplitStr string `mapstructure:"split_str" yaml:"split_str" json:"split_str"`

	// NewLine pads shards of line-oriented appends
	NewLine string `mapstructure:"new_line" yaml:"new_line" json:"new_line" validate:"max=2"`
}

// PoolConfig limits the handle pools.
type PoolConfig struct {
	// MaxLifetime bounds the reuse of a pooled handle. Zero means forever
	MaxLifetime time.Duration `mapstructure:"max_lifetime" yaml:"max_lifetime" json:"max_lifetime" validate:"gte=0"`

	// MaxIdleHandles caps the unreferenced handles kept open per pool
	MaxIdleHandles int `mapstructure:"max_idle_handles" yaml:"max_idle_handles" json:"max_idle_handles" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOVFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only affects keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittovfs/config.yaml
		v.AddConfigPath(GetConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings that can be set from the environment
// without a config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"metrics.enabled",
	"metrics.port",
	"filesystem.type",
	"filesystem.name",
	"filesystem.read_only",
	"filesystem.case_correction",
	"filesystem.micro_operation_size",
	"filesystem.rate_limit.bytes_per_second",
	"filesystem.rate_limit.burst",
	"chroot.enabled",
	"chroot.root",
	"large.enabled",
	"large.max_shard_size",
	"large.max_logical_size",
	"pool.max_lifetime",
	"pool.max_idle_handles",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	logger.Debug("Loaded configuration from %s", v.ConfigFileUsed())
	return nil
}

// ApplyLogging configures the process logger from the logging section.
func (c *Config) ApplyLogging() error {
	return logger.Configure(c.Logging.Level, c.Logging.Format, c.Logging.Output)
}

// GetConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func GetConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittovfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittovfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
