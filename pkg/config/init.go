package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoVFS Configuration File
#
# Values may be overridden with environment variables, for example
# DITTOVFS_LOGGING_LEVEL=DEBUG or DITTOVFS_FILESYSTEM_TYPE=memory.
# Sizes accept plain byte counts or units such as 64KiB, 8MiB or 1GiB.

`

// sectionComments documents each top-level section of the generated file.
var sectionComments = map[string]string{
	"logging":    "Log output: level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a path)",
	"metrics":    "Prometheus metrics served on http://<host>:<port>/metrics when enabled",
	"filesystem": "Storage backend: local, memory, badger or s3, with one option map per type, and an optional rate_limit in bytes per second",
	"chroot":     "Confine every path to a directory of the backend, created when missing",
	"large":      "Split logical files bigger than max_shard_size into numbered shards",
	"pool":       "Random access handle pools of the top filesystem",
}

// InitConfig writes the default configuration to the default location.
//
// Returns the path of the written file. An existing file is only replaced
// when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating the
// parent directories.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a file header and a
// comment above every top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.String(), nil
}
