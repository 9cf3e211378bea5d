package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zannhost/skiplink/config"
)

func TestJSONLogger(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, closeFn := newLogger(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "skiplink",
	}, zapcore.AddSync(buf))

	logger.Debug("Step started", zap.Int("step", 1))
	closeFn()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "skiplink", entry["logger"])
	assert.Equal(t, "Step started", entry["msg"])
	assert.Equal(t, float64(1), entry["step"])
}

func TestLevelFiltering(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, closeFn := newLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(buf))
	logger.Info("dropped")
	logger.Warn("kept")
	closeFn()

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, closeFn := newLogger(config.LoggerConfig{Level: "loud", Format: "console"}, zapcore.AddSync(buf))
	logger.Debug("hidden")
	logger.Info("shown")
	closeFn()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiplink.log")
	console := new(bytes.Buffer)
	logger, closeFn := newLogger(config.LoggerConfig{
		Level:   "info",
		Format:  "console",
		LogFile: path,
		MaxSize: 1,
	}, zapcore.AddSync(console))

	logger.Info("Short link resolved", zap.String("link_go", "https://final-destination.example/x"))
	closeFn()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "file lines are JSON even with a console encoder")
	assert.Equal(t, "https://final-destination.example/x", entry["link_go"])

	assert.Contains(t, console.String(), "Short link resolved")
}
