package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/inventory-harvester/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetup_JSONToStdout(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := setup(config.LoggingConfig{Level: "warn"}, "harvester", &buf)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "source", "acme")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "harvester", entry["service"])
	assert.Equal(t, "acme", entry["source"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := setup(config.LoggingConfig{Format: "text"}, "", &buf)
	defer closer.Close()

	logger.Info("hello", "n", 1)
	assert.Contains(t, buf.String(), "msg=hello n=1")
}

func TestSetup_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "harvester.log")
	var buf bytes.Buffer
	logger, closer := setup(config.LoggingConfig{File: path, MaxSizeMB: 1, MaxBackups: 1}, "api", &buf)

	logger.Info("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, buf.String(), `"msg":"to both"`)
}
