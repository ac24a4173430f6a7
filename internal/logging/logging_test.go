package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestJSONToWriterAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "devicekit.log")
	log, err := build(Config{Level: "info", File: FileConfig{Filename: path, MaxSizeMB: 1}}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Named("device").Debug("hidden")
	log.Named("device").Info("initialized", zap.String("id", "m0"))
	require.NoError(t, log.Sync())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "initialized", rec["msg"])
	assert.Equal(t, "device", rec["logger"])
	assert.Equal(t, "m0", rec["id"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"initialized"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(Config{Format: "console", Level: "debug"}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	log.Debug("hello")
	assert.Contains(t, buf.String(), "hello")

	_, err = build(Config{Format: "xml"}, zapcore.AddSync(&buf))
	require.Error(t, err)
}
