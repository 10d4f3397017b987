package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	assert.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn")
	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	logger, err := NewLogger("loud")
	assert.Error(t, err)
	assert.Nil(t, logger)
}
