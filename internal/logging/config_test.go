package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "trace level accepted",
			mutate: func(c *Config) { c.Level = "trace" },
		},
		{
			name:    "unknown level",
			mutate:  func(c *Config) { c.Level = "loud" },
			wantErr: "invalid level",
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Format = "xml" },
			wantErr: "format must be",
		},
		{
			name:    "bad stacktrace level",
			mutate:  func(c *Config) { c.StacktraceLevel = "sometimes" },
			wantErr: "invalid stacktrace_level",
		},
		{
			name:    "negative caller skip",
			mutate:  func(c *Config) { c.Caller.Skip = -1 },
			wantErr: "caller skip",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields = map[string]string{"env": ""} },
			wantErr: "empty value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevelFromString(t *testing.T) {
	level, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, level)
	assert.Less(t, TraceLevel, zapcore.DebugLevel)

	level, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, err = LevelFromString("shouting")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Run("json logger with fields", func(t *testing.T) {
		cfg := NewDefaultConfig()
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("hello")
	})

	t.Run("console format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "console"
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Level = "loud"
		_, err := NewLogger(cfg)
		assert.Error(t, err)
	})
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Warn("hook timed out")

	tl.AssertLogged(t, zapcore.WarnLevel, "timed out")
	assert.Equal(t, 1, tl.FilterMessage("hook timed out").Len())
}
