package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// useConfigHome points the default config location at a fresh directory.
func useConfigHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
}

func TestInitConfig_Success(t *testing.T) {
	useConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !strings.HasSuffix(configPath, filepath.Join(".config", "dittovfs", "config.yaml")) {
		t.Errorf("Unexpected config path %s", configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# DittoVFS Configuration File",
		"logging:",
		"metrics:",
		"filesystem:",
		"chroot:",
		"large:",
		"pool:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useConfigHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	useConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("# Modified"), 0644); err != nil {
		t.Fatalf("Failed to modify config: %v", err)
	}

	newPath, err := InitConfig(true)
	if err != nil {
		t.Fatalf("Force InitConfig failed: %v", err)
	}
	if newPath != configPath {
		t.Errorf("Expected same path, got different: %s vs %s", configPath, newPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(content), "# DittoVFS Configuration File") {
		t.Error("Config file was not properly overwritten")
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatalf("Failed to create existing file: %v", err)
	}

	err := InitConfigToPath(configPath, false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected 'already exists' error, got: %v", err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}
	content, _ := os.ReadFile(configPath)
	if string(content) == "existing" {
		t.Error("File was not overwritten")
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	out, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	if !strings.Contains(out, "# Storage backend") {
		t.Error("Generated YAML should document the filesystem section")
	}

	// Sizes are written in their human readable form
	for _, want := range []string{"INFO", "/tmp/dittovfs", "micro_operation_size: 8MiB", "max_shard_size: 1GiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("Generated YAML should contain %q", want)
		}
	}
}

func TestGeneratedConfigValuesAreCorrect(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("Failed to generate config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	want := GetDefaultConfig()
	if cfg.Logging != want.Logging {
		t.Errorf("Logging mismatch: %+v vs %+v", cfg.Logging, want.Logging)
	}
	if cfg.FileSystem.Type != "local" || cfg.FileSystem.MicroOperationSize != want.FileSystem.MicroOperationSize {
		t.Errorf("FileSystem mismatch: %+v", cfg.FileSystem)
	}
	if cfg.Chroot != want.Chroot {
		t.Errorf("Chroot mismatch: %+v vs %+v", cfg.Chroot, want.Chroot)
	}
	if cfg.Large != want.Large {
		t.Errorf("Large mismatch: %+v vs %+v", cfg.Large, want.Large)
	}
	if cfg.Pool != want.Pool {
		t.Errorf("Pool mismatch: %+v vs %+v", cfg.Pool, want.Pool)
	}
}
