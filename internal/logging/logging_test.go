package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
	}{
		{"info", FormatJSON, false},
		{"DEBUG", FormatConsole, false},
		{"warn", "", false},
		{"loud", FormatJSON, true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		logger, err := New(tt.level, tt.format)
		if tt.wantErr {
			assert.Error(t, err, "level=%s format=%s", tt.level, tt.format)
			continue
		}
		require.NoError(t, err, "level=%s format=%s", tt.level, tt.format)
		require.NotNil(t, logger)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	logger, err := New("warn", FormatJSON)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
