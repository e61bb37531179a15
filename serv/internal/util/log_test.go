package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestZapLevel(t *testing.T) {
	assert.Equal(t, zap.ErrorLevel, zapLevel("error"))
	assert.Equal(t, zap.WarnLevel, zapLevel("warn"))
	assert.Equal(t, zap.InfoLevel, zapLevel("info"))
	assert.Equal(t, zap.DebugLevel, zapLevel("debug"))
	assert.Equal(t, zap.DebugLevel, zapLevel(""))
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	log := NewLogger(true, "warn")
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.ErrorLevel))

	log = NewLogger(false, "debug")
	assert.True(t, log.Core().Enabled(zap.DebugLevel))
}
