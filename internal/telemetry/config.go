package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config controls trace and metric export.
type Config struct {
	// Enabled turns on OTLP export. When false the process runs with
	// no-op providers and instrumented code falls back to the otel
	// globals.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`

	// ServiceName identifies this process in exported telemetry.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is stamped on the resource.
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables TLS on the exporter connection. Only honored
	// for local endpoints.
	Insecure bool `koanf:"insecure"`

	// Sampling is the trace sampling ratio in [0,1].
	Sampling float64 `koanf:"sampling"`

	// MetricInterval is the periodic reader export interval.
	MetricInterval time.Duration `koanf:"metric_interval"`

	// ShutdownTimeout bounds provider shutdown on exit.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns telemetry defaults. Export is off by
// default; enabling it requires an endpoint.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		ServiceName:     "convergd",
		ServiceVersion:  "dev",
		Insecure:        true,
		Sampling:        1.0,
		MetricInterval:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry enabled but endpoint is empty")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Sampling < 0 || c.Sampling > 1 {
		return fmt.Errorf("sampling ratio %f outside [0,1]", c.Sampling)
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure transport not allowed for non-local endpoint %q", c.Endpoint)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := endpoint
	if i := strings.LastIndex(endpoint, ":"); i >= 0 {
		host = endpoint[:i]
	}
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}
