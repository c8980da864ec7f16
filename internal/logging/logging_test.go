package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/simulator/internal/config"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name          string
		logsDir       string
		appName       string
		want          string
	}{
		{
			name:          "basic path",
			logsDir:       "logs",
			appName:       "linetrace",
			want:          filepath.Join("logs", "linetrace.20260212_213836.log"),
		},
		{
			name:          "relative path with dot",
			logsDir:       "./logs",
			appName:       "linetrace",
			want:          filepath.Join(".", "logs", "linetrace.20260212_213836.log"),
		},
		{
			name:          "absolute path",
			logsDir:       filepath.Join("/var", "log", "linetrace"),
			appName:       "linetrace",
			want:          filepath.Join("/var", "log", "linetrace", "linetrace.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linetrace.log")
	w := RotatingFile(path, config.LogConfig{MaxBackups: 2})

	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestNewGELFHandler(t *testing.T) {
	h, closer, err := NewGELFHandler("127.0.0.1:12201", "warn")
	require.NoError(t, err)
	defer closer.Close()

	assert.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, h.Enabled(t.Context(), slog.LevelError))
}

func TestNewGELFHandler_BadAddress(t *testing.T) {
	_, _, err := NewGELFHandler("not an address", "info")
	assert.Error(t, err)
}
