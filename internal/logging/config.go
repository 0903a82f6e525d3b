package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level emitted: trace, debug, info, warn,
	// error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`

	// Caller controls caller annotation on log entries.
	Caller CallerConfig `koanf:"caller"`

	// StacktraceLevel is the level at which stacktraces attach.
	StacktraceLevel string `koanf:"stacktrace_level"`

	// Fields are constant fields attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// CallerConfig controls caller information in logs.
type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// NewDefaultConfig returns production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           "info",
		Format:          "json",
		Caller:          CallerConfig{Enabled: true, Skip: 0},
		StacktraceLevel: "error",
		Fields: map[string]string{
			"service": "convergd",
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if _, err := LevelFromString(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.StacktraceLevel != "" {
		if _, err := LevelFromString(c.StacktraceLevel); err != nil {
			return fmt.Errorf("invalid stacktrace_level %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}

// levels resolves the configured level strings.
func (c *Config) levels() (level, stacktrace zapcore.Level, err error) {
	level, err = LevelFromString(c.Level)
	if err != nil {
		return 0, 0, err
	}
	stacktrace = zapcore.ErrorLevel
	if c.StacktraceLevel != "" {
		stacktrace, err = LevelFromString(c.StacktraceLevel)
		if err != nil {
			return 0, 0, err
		}
	}
	return level, stacktrace, nil
}
