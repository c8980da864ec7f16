package logging

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/linetrace/simulator/internal/config"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, appName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, sessionStart.Format("20060102_150405")),
	)
}

// RotatingFile opens a size-rotated log file at path.
func RotatingFile(path string, cfg config.LogConfig) io.WriteCloser {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB, // MB
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	if w.MaxSize <= 0 {
		w.MaxSize = 50
	}
	return w
}
