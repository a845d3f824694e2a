package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/config"
)

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")
	logger, level, err := New(config.LogConfig{Level: "WARN", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	logger.Info("dropped")
	logger.Warn("kept", zap.String("k", "v"))
	_ = logger.Sync()

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"msg":"kept"`)
	assert.NotContains(t, string(body), "dropped")

	level.SetLevel(zapcore.InfoLevel)
	logger.Info("now visible")
	_ = logger.Sync()
	body, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "now visible")
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
