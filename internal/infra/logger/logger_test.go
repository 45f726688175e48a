package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New(Config{Development: false, Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Encoding: "xml"})
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_ENCODING", "console")

	cfg := FromEnv()
	assert.False(t, cfg.Development)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "console", cfg.Encoding)
}

func TestLevelColor(t *testing.T) {
	assert.Equal(t, "\x1b[31m", levelColor(zapcore.FatalLevel))
	assert.Equal(t, "\x1b[33m", levelColor(zapcore.WarnLevel))
	assert.Equal(t, "\x1b[32m", levelColor(zapcore.InfoLevel))
}
