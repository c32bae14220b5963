package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
)

func TestBuild(t *testing.T) {
	t.Run("生产模式输出 JSON", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := build(config.LogConfig{Level: "info"}, &buf)
		require.NoError(t, err)

		log.Info("mail stored", zap.String("address", "alice@tempmail.local"))
		_ = log.Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "mail stored", entry["message"])
		assert.Equal(t, "alice@tempmail.local", entry["address"])
	})

	t.Run("级别过滤", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := build(config.LogConfig{Level: "warn"}, &buf)
		require.NoError(t, err)

		log.Info("hidden")
		assert.Zero(t, buf.Len())
		log.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("非法级别回退到 info", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := build(config.LogConfig{Level: "loud"}, &buf)
		require.NoError(t, err)

		log.Debug("hidden")
		log.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("写入日志文件", func(t *testing.T) {
		var buf bytes.Buffer
		file := filepath.Join(t.TempDir(), "logs", "tempmail.log")
		log, err := build(config.LogConfig{Level: "info", File: file, MaxSize: 1}, &buf)
		require.NoError(t, err)

		log.Info("to file")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
		assert.Contains(t, buf.String(), "to file")
	})
}
