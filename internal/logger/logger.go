package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.RWMutex
	// Debug flag to control debug logging
	debugEnabled = false
	// The logger instance. A no-op logger until Init is called so that
	// packages can log from tests without setup.
	sugar = zap.NewNop().Sugar()
)

// Init initializes the logger. Format is read from LOG_FORMAT ("json" or
// "console"); debug may also be switched on with LOG_LEVEL=debug.
func Init(debug bool) {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "debug") {
		debug = true
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))) {
	case "console", "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a plain stderr logger rather than running blind.
		base = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stderr),
			zap.DebugLevel,
		), zap.AddCaller(), zap.AddCallerSkip(1))
	}

	mu.Lock()
	debugEnabled = debug
	sugar = base.Sugar()
	mu.Unlock()

	if debug {
		Debug("Debug logging enabled")
	}
}

// SetLogger replaces the underlying logger. Intended for tests that want to
// observe log output.
func SetLogger(l *zap.Logger, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = debug
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug logs a debug message if debug mode is enabled
func Debug(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = current().Sync()
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

// Preview shortens s for log lines.
func Preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
