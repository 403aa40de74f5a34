package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("hello %s", "world")
		Debug("debug %d", 1)
	})
}

func TestSetLoggerCapturesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core), true)
	defer SetLogger(zap.NewNop(), false)

	Info("answered %d questions", 3)
	Warn("skipped %s", "file.bin")
	Error("boom: %v", assert.AnError)

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "answered 3 questions", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	}
	assert.True(t, IsDebugEnabled())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview("abc", 5))
	assert.Equal(t, "ab...", Preview("abc", 2))
	assert.Equal(t, "ñá...", Preview("ñáé", 2))
}
