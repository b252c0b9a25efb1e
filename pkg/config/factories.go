package config

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/badger"
	"github.com/marmos91/dittovfs/pkg/vfs/chroot"
	"github.com/marmos91/dittovfs/pkg/vfs/large"
	"github.com/marmos91/dittovfs/pkg/vfs/local"
	"github.com/marmos91/dittovfs/pkg/vfs/memory"
	"github.com/marmos91/dittovfs/pkg/vfs/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateFileSystem assembles the filesystem stack described by cfg.
//
// The stack is built bottom-up:
//  1. The backend selected by filesystem.type
//  2. A chroot onto chroot.root, created when missing (if enabled)
//  3. The large-file decorator (if enabled)
//
// Only the top layer is read-only, case correcting, rate limited, pooled and
// observed by the metrics listener. Closing it closes the layers below.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Complete configuration (defaults applied)
//   - m: Metrics components from InitializeMetrics, or nil
//
// Returns:
//   - *vfs.FileSystem: The top of the stack
//   - error: Configuration or initialization error
func CreateFileSystem(ctx context.Context, cfg *Config, m *MetricsResult) (*vfs.FileSystem, error) {
	name := cfg.FileSystem.Name
	if name == "" {
		name = cfg.FileSystem.Type
	}
	top := vfs.Options{
		Name:               name,
		ReadOnly:           cfg.FileSystem.ReadOnly,
		CaseCorrection:     cfg.FileSystem.CaseCorrection,
		MicroOperationSize: int(cfg.FileSystem.MicroOperationSize),
		Pool: vfs.PoolOptions{
			MaxLifetime:    cfg.Pool.MaxLifetime,
			MaxIdleHandles: cfg.Pool.MaxIdleHandles,
		},
		RateLimit: vfs.RateLimitOptions{
			BytesPerSecond: uint(cfg.FileSystem.RateLimit.BytesPerSecond),
			Burst:          uint(cfg.FileSystem.RateLimit.Burst),
		},
	}
	if m != nil {
		top.Listener = m.Listener
	}
	if top.RateLimit.Enabled() {
		logger.Info("Rate limit enabled: %s/s, burst %s", cfg.FileSystem.RateLimit.BytesPerSecond, cfg.FileSystem.RateLimit.Burst)
	}
	inner := func(layer string) vfs.Options {
		return vfs.Options{
			Name:               name + "-" + layer,
			MicroOperationSize: int(cfg.FileSystem.MicroOperationSize),
		}
	}
	decorated := cfg.Chroot.Enabled || cfg.Large.Enabled

	// ========================================================================
	// Step 1: Create Backend
	// ========================================================================

	opts := top
	if decorated {
		opts = inner(cfg.FileSystem.Type)
	}
	fs, err := createBackend(ctx, &cfg.FileSystem, opts, m)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Apply Chroot
	// ========================================================================

	if cfg.Chroot.Enabled {
		opts = top
		if cfg.Large.Enabled {
			opts = inner("chroot")
		}
		if fs, err = createChroot(ctx, fs, cfg.Chroot, opts); err != nil {
			return nil, err
		}
	}

	// ========================================================================
	// Step 3: Apply Large-File Decorator
	// ========================================================================

	if cfg.Large.Enabled {
		params := large.Params{
			MaxSinglePhysicalFileSize: int64(cfg.Large.MaxShardSize),
			LogicalMaxSize:            int64(cfg.Large.MaxLogicalSize),
			SplitStr:                  cfg.Large.SplitStr,
			NewLine:                   cfg.Large.NewLine,
		}
		under := fs
		if fs, err = large.NewFileSystem(under, params, top); err != nil {
			_ = under.Close(ctx)
			return nil, fmt.Errorf("failed to create large filesystem: %w", err)
		}
		logger.Info("Large files enabled: shard=%s, max=%s", cfg.Large.MaxShardSize, cfg.Large.MaxLogicalSize)
	}

	return fs, nil
}

// createBackend creates the backend FileSystem selected by cfg.Type.
//
// Supported types:
//   - "local": Uses pkg/vfs/local (host filesystem)
//   - "memory": Uses pkg/vfs/memory (in-memory tree, ephemeral)
//   - "badger": Uses pkg/vfs/badger (BadgerDB, persistent)
//   - "s3": Uses pkg/vfs/s3 (Amazon S3 or compatible storage)
func createBackend(ctx context.Context, cfg *FileSystemConfig, opts vfs.Options, m *MetricsResult) (*vfs.FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "local":
		var backendCfg local.Config
		if err := decodeOptions(cfg.Local, &backendCfg); err != nil {
			return nil, fmt.Errorf("failed to decode local filesystem config: %w", err)
		}
		return local.NewFileSystem(backendCfg, opts), nil

	case "memory":
		var backendCfg memory.Config
		if err := decodeOptions(cfg.Memory, &backendCfg); err != nil {
			return nil, fmt.Errorf("failed to decode memory filesystem config: %w", err)
		}
		return memory.NewFileSystem(backendCfg, opts), nil

	case "badger":
		var backendCfg badger.Config
		if err := decodeOptions(cfg.Badger, &backendCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger filesystem config: %w", err)
		}
		fs, err := badger.NewFileSystem(ctx, backendCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger filesystem: %w", err)
		}
		return fs, nil

	case "s3":
		var backendCfg s3.Config
		if err := decodeOptions(cfg.S3, &backendCfg); err != nil {
			return nil, fmt.Errorf("failed to decode S3 filesystem config: %w", err)
		}
		if m != nil {
			backendCfg.Metrics = m.S3Metrics
		}
		fs, err := s3.NewFileSystem(ctx, backendCfg, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 filesystem: %w", err)
		}
		return fs, nil

	default:
		return nil, fmt.Errorf("unknown filesystem type: %q (supported: local, memory, badger, s3)", cfg.Type)
	}
}

// createChroot confines under to cfg.Root, creating the root first.
func createChroot(ctx context.Context, under *vfs.FileSystem, cfg ChrootConfig, opts vfs.Options) (*vfs.FileSystem, error) {
	if !under.IsDirectoryExists(ctx, cfg.Root) {
		if err := under.CreateDirectory(ctx, cfg.Root, true); err != nil {
			_ = under.Close(ctx)
			return nil, fmt.Errorf("failed to create chroot root %s: %w", cfg.Root, err)
		}
		logger.Info("Created chroot root %s", cfg.Root)
	}
	fs, err := chroot.NewFileSystem(ctx, under, cfg.Root, opts)
	if err != nil {
		_ = under.Close(ctx)
		return nil, fmt.Errorf("failed to create chroot: %w", err)
	}
	return fs, nil
}

// decodeOptions decodes a backend option map into its config struct.
// Integer fields also accept human readable sizes ("64KiB").
func decodeOptions(options map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToSizeHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           result,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// stringToSizeHookFunc converts strings such as "64KiB" into integer fields.
func stringToSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint32, reflect.Uint64:
		default:
			return data, nil
		}
		s := data.(string)
		if _, err := strconv.ParseInt(s, 0, 64); err == nil {
			// Plain and octal numbers ("0644") keep the weak decoding.
			return data, nil
		}
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid number or size %q: %w", s, err)
		}
		return n, nil
	}
}
