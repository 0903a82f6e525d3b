package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convergd/internal/hook"
)

const minimalYAML = `
workflow:
  mode: adaptive
  max_iterations: 4
  strategies:
    - name: quality
      global_timeout: 5m
      max_parallel: 2
      hooks:
        - name: ruff-check
          command: ["ruff", "check", "."]
          timeout: 30s
        - name: mypy
          command: ["mypy", "."]
executor:
  default_timeout: 90s
tests:
  command: ["pytest", "-q"]
toolproxy:
  failure_threshold: 5
  fallbacks:
    black: ["autopep8"]
logging:
  level: debug
  format: console
`

func writeProjectConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return dir
}

func TestLoad_ProjectFile(t *testing.T) {
	root := writeProjectConfig(t, minimalYAML)

	cfg, err := Load("", root)
	require.NoError(t, err)

	assert.Equal(t, hook.ModeAdaptive, cfg.Workflow.Mode)
	assert.Equal(t, 4, cfg.Workflow.MaxIterations)
	require.Len(t, cfg.Workflow.Strategies, 1)

	s := cfg.Workflow.Strategies[0]
	assert.Equal(t, "quality", s.Name)
	assert.Equal(t, 5*time.Minute, s.GlobalTimeout)
	require.Len(t, s.Hooks, 2)
	assert.Equal(t, []string{"ruff", "check", "."}, s.Hooks[0].Command)
	assert.Equal(t, 30*time.Second, s.Hooks[0].Timeout)

	assert.Equal(t, 90*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, []string{"pytest", "-q"}, cfg.Tests.Command)
	assert.Equal(t, int32(5), cfg.ToolProxy.FailureThreshold)
	assert.Equal(t, []string{"autopep8"}, cfg.ToolProxy.Fallbacks["black"])
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	root := writeProjectConfig(t, minimalYAML)

	cfg, err := Load("", root)
	require.NoError(t, err)

	// Sections absent from the YAML fall back to component defaults.
	assert.Equal(t, root, cfg.Executor.RootPath)
	assert.Equal(t, 60*time.Second, cfg.ToolProxy.CoolDown)
	assert.Equal(t, 30*time.Second, cfg.ToolProxy.HealthTTL)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "convergd", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.Status.Enabled)
	assert.NotEmpty(t, cfg.Status.Addr)
	assert.Positive(t, cfg.Workflow.Thresholds.IndividualFailureLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := writeProjectConfig(t, minimalYAML)
	t.Setenv("CONVERGD_WORKFLOW_MAX_ITERATIONS", "9")
	t.Setenv("CONVERGD_LOGGING_LEVEL", "warn")

	cfg, err := Load("", root)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Workflow.MaxIterations, "environment wins over the file")
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_ExplicitPathMissingIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	assert.Error(t, err)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	t.Run("no strategies", func(t *testing.T) {
		root := writeProjectConfig(t, "workflow:\n  mode: batch\n")
		_, err := Load("", root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "strategy")
	})

	t.Run("bad mode", func(t *testing.T) {
		root := writeProjectConfig(t, `
workflow:
  mode: sideways
  strategies:
    - name: q
      hooks:
        - name: h
          command: ["true"]
`)
		_, err := Load("", root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mode")
	})

	t.Run("bad parser pattern", func(t *testing.T) {
		root := writeProjectConfig(t, `
workflow:
  mode: batch
  strategies:
    - name: q
      hooks:
        - name: h
          command: ["true"]
parsers:
  custom-lint:
    error_pattern: "[unclosed"
`)
		_, err := Load("", root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsers")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		root := writeProjectConfig(t, "workflow: [unclosed")
		_, err := Load("", root)
		assert.Error(t, err)
	})
}

func TestLoad_FileSizeCap(t *testing.T) {
	huge := make([]byte, maxConfigFileSize+1)
	for i := range huge {
		huge[i] = '#'
	}
	root := writeProjectConfig(t, string(huge))

	_, err := Load("", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
