package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Chroot.Enabled && !strings.HasPrefix(cfg.Chroot.Root, "/") {
		return fmt.Errorf("chroot.root: must be an absolute path, got %q", cfg.Chroot.Root)
	}

	if cfg.Large.Enabled {
		if cfg.Large.MaxShardSize <= 0 {
			return fmt.Errorf("large.max_shard_size: must be positive")
		}
		if cfg.Large.MaxLogicalSize < cfg.Large.MaxShardSize {
			return fmt.Errorf("large.max_logical_size: %s is smaller than max_shard_size %s",
				cfg.Large.MaxLogicalSize, cfg.Large.MaxShardSize)
		}
		if cfg.Large.SplitStr == "" || strings.Contains(cfg.Large.SplitStr, "/") {
			return fmt.Errorf("large.split_str: must be non-empty and must not contain '/'")
		}
	}

	if rl := cfg.FileSystem.RateLimit; rl.Burst > 0 && rl.BytesPerSecond == 0 {
		return fmt.Errorf("filesystem.rate_limit.burst: requires bytes_per_second")
	}

	if cfg.FileSystem.Type == "s3" {
		for _, key := range []string{"bucket", "region"} {
			if v, _ := cfg.FileSystem.S3[key].(string); v == "" {
				return fmt.Errorf("filesystem.s3.%s: required when type is s3", key)
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
