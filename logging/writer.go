package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	openFiles   []*lumberjack.Logger
	openFilesMu sync.Mutex
)

// terminalSyncer writes to stderr; stdout belongs to the host's output.
func terminalSyncer() zapcore.WriteSyncer {
	return zapcore.Lock(zapcore.AddSync(os.Stderr))
}

// fileSyncer returns a rotating writer for one level, e.g. logs/error.log.
func fileSyncer(config Config, level zapcore.Level) zapcore.WriteSyncer {
	if err := os.MkdirAll(config.Director, 0o755); err != nil {
		return zapcore.AddSync(os.Stderr)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(config.Director, level.String()+".log"),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
		LocalTime:  true,
	}

	openFilesMu.Lock()
	openFiles = append(openFiles, writer)
	openFilesMu.Unlock()

	return zapcore.AddSync(writer)
}

// CloseAllWriters closes every rotating file opened by NewLogger.
func CloseAllWriters() error {
	openFilesMu.Lock()
	defer openFilesMu.Unlock()

	var lastErr error
	for _, w := range openFiles {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	openFiles = nil
	return lastErr
}
