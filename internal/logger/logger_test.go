package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "text")
	SetLevel("WARN")
	defer SetLevel("INFO")

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Equal(t, LevelWarn, GetLevel())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel("debug")
	defer SetLevel("INFO")

	Debug("opened %s", "/a/b")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "opened /a/b", record["message"])
	assert.Equal(t, "debug", record["level"])
	assert.Equal(t, "dittovfs", record["lib"])
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfs.log")
	require.NoError(t, Configure("INFO", "json", path))
	defer func() { _ = Configure("INFO", "text", "stdout") }()

	Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestUnknownLevelIgnored(t *testing.T) {
	SetLevel("ERROR")
	SetLevel("verbose")
	assert.Equal(t, LevelError, GetLevel())
	SetLevel("INFO")
}
