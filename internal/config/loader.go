package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/convergd/internal/executor"
	"github.com/fyrsmithlabs/convergd/internal/logging"
	"github.com/fyrsmithlabs/convergd/internal/orchestrator"
	"github.com/fyrsmithlabs/convergd/internal/status"
	"github.com/fyrsmithlabs/convergd/internal/telemetry"
	"github.com/fyrsmithlabs/convergd/internal/toolproxy"
)

const (
	// EnvPrefix namespaces convergd environment overrides, e.g.
	// CONVERGD_WORKFLOW_MAX_ITERATIONS -> workflow.max_iterations.
	EnvPrefix = "CONVERGD_"

	// ProjectConfigName is looked up in the project root when no
	// explicit path is given.
	ProjectConfigName = ".convergd.yaml"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration with the following precedence (highest to
// lowest):
//
//  1. CONVERGD_* environment variables
//  2. YAML config file
//  3. Component defaults
//
// When configPath is empty the loader tries .convergd.yaml in rootPath,
// then ~/.config/convergd/config.yaml, and falls back to pure defaults
// when neither exists. An explicit configPath that does not exist is an
// error.
func Load(configPath, rootPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = discoverConfigPath(rootPath)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			if !explicit && os.IsNotExist(err) {
				content = nil
			} else {
				return nil, err
			}
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	// Environment overrides. The first underscore after the prefix
	// separates section from field: CONVERGD_LOGGING_LEVEL maps to
	// logging.level, CONVERGD_EXECUTOR_DEFAULT_TIMEOUT to
	// executor.default_timeout.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg, rootPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// discoverConfigPath returns the first existing default config file,
// or "" when none exists.
func discoverConfigPath(rootPath string) string {
	if rootPath != "" {
		p := filepath.Join(rootPath, ProjectConfigName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".config", "convergd", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// readConfigFile opens the file once and validates size through the
// open descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// applyDefaults fills missing values from each component's defaults.
func applyDefaults(cfg *Config, rootPath string) {
	wd := orchestrator.DefaultConfig()
	if cfg.Workflow.Mode == "" {
		cfg.Workflow.Mode = wd.Mode
	}
	if cfg.Workflow.MaxIterations == 0 {
		cfg.Workflow.MaxIterations = wd.MaxIterations
	}
	if cfg.Workflow.Thresholds.IndividualFailureLimit == 0 {
		cfg.Workflow.Thresholds = wd.Thresholds
	}

	ed := executor.DefaultConfig()
	if cfg.Executor.RootPath == "" {
		cfg.Executor.RootPath = rootPath
	}
	if cfg.Executor.ProgressCadence == 0 {
		cfg.Executor.ProgressCadence = ed.ProgressCadence
	}
	if cfg.Executor.TranscriptLines == 0 {
		cfg.Executor.TranscriptLines = ed.TranscriptLines
	}
	if cfg.Executor.DefaultTimeout == 0 {
		cfg.Executor.DefaultTimeout = ed.DefaultTimeout
	}

	if cfg.Tests.Timeout == 0 {
		cfg.Tests.Timeout = 10 * time.Minute
	}

	pd := toolproxy.DefaultConfig()
	if cfg.ToolProxy.FailureThreshold == 0 {
		cfg.ToolProxy.FailureThreshold = pd.FailureThreshold
	}
	if cfg.ToolProxy.CoolDown == 0 {
		cfg.ToolProxy.CoolDown = pd.CoolDown
	}
	if cfg.ToolProxy.HealthTTL == 0 {
		cfg.ToolProxy.HealthTTL = pd.HealthTTL
	}

	ld := logging.NewDefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = ld.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = ld.Format
	}
	if cfg.Logging.StacktraceLevel == "" {
		cfg.Logging.StacktraceLevel = ld.StacktraceLevel
	}

	td := telemetry.NewDefaultConfig()
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = td.Endpoint
		cfg.Telemetry.Insecure = td.Insecure
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = td.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = td.ServiceVersion
	}
	if cfg.Telemetry.Sampling == 0 {
		cfg.Telemetry.Sampling = td.Sampling
	}
	if cfg.Telemetry.MetricInterval == 0 {
		cfg.Telemetry.MetricInterval = td.MetricInterval
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = td.ShutdownTimeout
	}
	sd := status.NewDefaultConfig()
	if cfg.Status.Addr == "" {
		cfg.Status.Addr = sd.Addr
	}
	if cfg.Status.ShutdownTimeout == 0 {
		cfg.Status.ShutdownTimeout = sd.ShutdownTimeout
	}
}
