// Package logging provides structured logging using zap
package logging

import (
	"fmt"
	"io"
	"os"
)

// NewDefaultLogger creates an INFO level logger writing to stdout
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger replaces the global logger with one at the given level.
// When logFile is empty the logger writes to stdout, otherwise it appends to
// the file. The returned closer releases the file and is never nil.
func InitGlobalLogger(level, logFile string) (io.Closer, error) {
	var (
		output io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
		closer = file
	}

	parsed := ParseLevel(level)
	logger, err := NewZapLogger(LogConfig{Level: parsed, Output: output})
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		Field{"level", parsed.String()},
		Field{"log_file", logFile},
	)

	return closer, nil
}

// MustSync flushes any buffered log entries for zap loggers.
// Call it before application exit.
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
