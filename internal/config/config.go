// Package config loads and validates the aggregate convergd
// configuration from YAML and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/convergd/internal/executor"
	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/logging"
	"github.com/fyrsmithlabs/convergd/internal/orchestrator"
	"github.com/fyrsmithlabs/convergd/internal/status"
	"github.com/fyrsmithlabs/convergd/internal/telemetry"
	"github.com/fyrsmithlabs/convergd/internal/toolproxy"
)

// Config is the root configuration. Each section maps to the config
// type of the component that consumes it.
type Config struct {
	Workflow  orchestrator.Config        `koanf:"workflow"`
	Executor  executor.Config            `koanf:"executor"`
	Tests     TestsConfig                `koanf:"tests"`
	ToolProxy toolproxy.Config           `koanf:"toolproxy"`
	Parsers   map[string]hook.ParserSpec `koanf:"parsers"`
	Logging   logging.Config             `koanf:"logging"`
	Telemetry telemetry.Config           `koanf:"telemetry"`
	Status    status.Config              `koanf:"status"`
}

// TestsConfig declares the project test command. An empty command
// means the test phase trivially passes; hooks alone gate convergence.
type TestsConfig struct {
	Command []string      `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
}

// Validate checks every section. The first invalid section wins.
func (c *Config) Validate() error {
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if c.ToolProxy.FailureThreshold < 0 {
		return fmt.Errorf("toolproxy: failure threshold must not be negative")
	}
	for name, spec := range c.Parsers {
		if _, err := hook.NewRegexParser(name, spec); err != nil {
			return fmt.Errorf("parsers: %w", err)
		}
	}
	if c.Executor.DefaultTimeout < 0 {
		return fmt.Errorf("executor: default timeout must not be negative")
	}
	return nil
}
