package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/guess-who-backend/internal/config"
)

func TestNewLogger(t *testing.T) {
	l, err := newLogger("warn", "console")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger("loud", "json")
	assert.Error(t, err)
}

func TestCmd_InvalidConfigNeverServes(t *testing.T) {
	t.Setenv("GUESSWHO_AUTH_SECRET", "")
	cmd := newCmd(&config.Config{})
	cmd.SetArgs([]string{"--port=0"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
	assert.Contains(t, err.Error(), "--auth-secret is required")
}
