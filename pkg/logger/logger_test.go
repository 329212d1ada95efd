package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "backup.log")
	lg, err := NewLogger(Config{Level: "debug", File: file, Production: true})
	require.NoError(t, err)

	lg.Info("backup finished", zap.Int64(FieldScheduleID, 7))
	_ = lg.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scheduleId":7`)
	assert.Contains(t, string(data), "backup finished")
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	file := filepath.Join(t.TempDir(), "app.log")
	lg, err := NewLogger(Config{Level: "chatty", File: file})
	require.NoError(t, err)

	lg.Debug("hidden")
	lg.Info("shown")
	_ = lg.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
