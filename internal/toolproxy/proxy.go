package toolproxy

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/convergd/internal/toolproxy"

// ToolResult is the structured view of one tool invocation's output.
type ToolResult struct {
	ExitCode int
	Issues   int
	Output   string
}

// ToolAdapter is the per-tool integration point: it produces the argv
// for a file set, parses the tool's output, and answers health checks.
type ToolAdapter interface {
	// ExecName returns the executable to invoke. Empty means the tool's
	// registered name.
	ExecName() string

	// CommandArgs returns the argv for checking the given files.
	CommandArgs(files []string) []string

	// ParseOutput converts raw tool output into a ToolResult.
	ParseOutput(text string) ToolResult

	// SupportsJSON reports whether the tool can emit machine-readable
	// output.
	SupportsJSON() bool

	// CheckHealth reports whether the tool is currently usable.
	CheckHealth(ctx context.Context) bool
}

// CommandRunner executes a tool directly and returns its exit code.
// It exists so tests can stub subprocess invocation.
type CommandRunner func(ctx context.Context, name string, args []string) int

// healthStatus is a cached health check for one tool.
type healthStatus struct {
	healthy   bool
	lastCheck time.Time
}

// Outcome describes how a proxied invocation concluded.
type Outcome struct {
	// ExitCode is the exit code of whichever tool ultimately ran, or
	// zero when the invocation was absorbed as advisory.
	ExitCode int

	// UsedFallback names the fallback tool that ran, when one did.
	UsedFallback string

	// Warning carries the advisory message when the primary and every
	// fallback were unavailable or failing. A non-empty warning still
	// counts as success: optional tools never block the pipeline.
	Warning string
}

// Config configures the proxy.
type Config struct {
	// FailureThreshold opens a tool's breaker after this many
	// consecutive failures (default: 3).
	FailureThreshold int32 `koanf:"failure_threshold"`

	// CoolDown is how long an open breaker rejects attempts
	// (default: 60s).
	CoolDown time.Duration `koanf:"cool_down"`

	// HealthTTL is how long a health check result stays cached
	// (default: 30s).
	HealthTTL time.Duration `koanf:"health_ttl"`

	// Fallbacks maps a tool name to its ordered fallback tools.
	Fallbacks map[string][]string `koanf:"fallbacks"`

	// Tools declares command-backed adapters by name.
	Tools map[string]ToolSpec `koanf:"tools"`

	// Advisory lists the tools the workflow runs each iteration
	// alongside the hooks. Their outcomes become report warnings.
	Advisory []string `koanf:"advisory"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		CoolDown:         60 * time.Second,
		HealthTTL:        30 * time.Second,
	}
}

// Proxy routes tool invocations through health checks and circuit
// breakers. A proxy belongs to a single orchestrator instance and
// carries no internal locking beyond the breakers' own atomics.
type Proxy struct {
	config   Config
	adapters map[string]ToolAdapter
	breakers map[string]*CircuitBreaker
	health   map[string]*healthStatus
	runner   CommandRunner
	logger   *zap.Logger

	meter           metric.Meter
	fallbackCounter metric.Int64Counter
	openCounter     metric.Int64Counter
}

// NewProxy creates a proxy. A nil runner gets the direct subprocess
// runner; a nil logger logs nowhere.
func NewProxy(cfg Config, runner CommandRunner, logger *zap.Logger) *Proxy {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultConfig().CoolDown
	}
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = DefaultConfig().HealthTTL
	}
	if runner == nil {
		runner = runDirect
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Proxy{
		config:   cfg,
		adapters: make(map[string]ToolAdapter),
		breakers: make(map[string]*CircuitBreaker),
		health:   make(map[string]*healthStatus),
		runner:   runner,
		logger:   logger,
		meter:    otel.Meter(instrumentationName),
	}
	p.initMetrics()
	return p
}

func (p *Proxy) initMetrics() {
	var err error

	p.fallbackCounter, err = p.meter.Int64Counter(
		"convergd.toolproxy.fallbacks_total",
		metric.WithDescription("Total invocations routed to a fallback tool"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		p.logger.Warn("failed to create fallback counter", zap.Error(err))
	}

	p.openCounter, err = p.meter.Int64Counter(
		"convergd.toolproxy.breaker_opens_total",
		metric.WithDescription("Total circuit breaker open transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		p.logger.Warn("failed to create breaker counter", zap.Error(err))
	}
}

// RegisterAdapter installs the adapter for a tool name.
func (p *Proxy) RegisterAdapter(name string, adapter ToolAdapter) {
	p.adapters[name] = adapter
}

// breaker returns the tool's breaker, creating it lazily.
func (p *Proxy) breaker(name string) *CircuitBreaker {
	cb, ok := p.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(p.config.FailureThreshold, p.config.CoolDown)
		p.breakers[name] = cb
	}
	return cb
}

// Breaker exposes a tool's breaker state for reports and tests.
func (p *Proxy) Breaker(name string) *CircuitBreaker {
	return p.breaker(name)
}

// checkHealth answers the tool's health, serving from the cache while
// the TTL holds. Tools without an adapter are assumed healthy; their
// failures surface through exit codes instead.
func (p *Proxy) checkHealth(ctx context.Context, name string) bool {
	if st, ok := p.health[name]; ok && time.Since(st.lastCheck) < p.config.HealthTTL {
		return st.healthy
	}

	healthy := true
	if adapter, ok := p.adapters[name]; ok {
		healthy = adapter.CheckHealth(ctx)
	}
	p.health[name] = &healthStatus{healthy: healthy, lastCheck: time.Now()}
	return healthy
}

// Execute runs the named tool with the given file set. An open breaker
// inside its cool-down window, or a failing health check, routes the
// call straight to the fallback chain without invoking the tool.
func (p *Proxy) Execute(ctx context.Context, name string, files []string) Outcome {
	cb := p.breaker(name)

	if !cb.ShouldAttempt() {
		p.logger.Info("breaker open, routing to fallbacks",
			zap.String("tool", name),
			zap.Time("next_retry", cb.NextRetry()))
		return p.tryFallbacks(ctx, name, files)
	}

	if !p.checkHealth(ctx, name) {
		p.logger.Warn("tool unhealthy, routing to fallbacks", zap.String("tool", name))
		p.recordFailure(ctx, name, cb)
		return p.tryFallbacks(ctx, name, files)
	}

	exitCode := p.invoke(ctx, name, files)
	if exitCode == 0 {
		cb.RecordSuccess()
		return Outcome{ExitCode: 0}
	}

	p.recordFailure(ctx, name, cb)
	return Outcome{ExitCode: exitCode}
}

// invoke runs the tool through its adapter when present, else as a
// direct subprocess with the files as trailing arguments. The adapter's
// executable name wins over the registered tool name, so a tool keyed
// "typecheck" with a binary of "mypy" really runs mypy.
func (p *Proxy) invoke(ctx context.Context, name string, files []string) int {
	if adapter, ok := p.adapters[name]; ok {
		bin := adapter.ExecName()
		if bin == "" {
			bin = name
		}
		return p.runner(ctx, bin, adapter.CommandArgs(files))
	}
	return p.runner(ctx, name, files)
}

// tryFallbacks attempts the tool's static fallback list in order,
// skipping fallbacks whose own health check fails, and stops at the
// first success. When every fallback fails or none exist, the outcome
// is success-with-warning: an advisory gate never blocks the run.
func (p *Proxy) tryFallbacks(ctx context.Context, name string, files []string) Outcome {
	for _, fb := range p.config.Fallbacks[name] {
		if !p.checkHealth(ctx, fb) {
			p.logger.Debug("fallback unhealthy, skipping",
				zap.String("tool", name),
				zap.String("fallback", fb))
			continue
		}

		if exitCode := p.invoke(ctx, fb, files); exitCode == 0 {
			if p.fallbackCounter != nil {
				p.fallbackCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool", name),
					attribute.String("fallback", fb)))
			}
			p.logger.Info("fallback succeeded",
				zap.String("tool", name),
				zap.String("fallback", fb))
			return Outcome{ExitCode: 0, UsedFallback: fb}
		}
	}

	return Outcome{
		ExitCode: 0,
		Warning:  "tool " + name + " and all fallbacks unavailable; check skipped",
	}
}

// recordFailure records a breaker failure and emits the open metric
// on the closed-to-open transition.
func (p *Proxy) recordFailure(ctx context.Context, name string, cb *CircuitBreaker) {
	wasOpen := cb.IsOpen()
	cb.RecordFailure()
	if !wasOpen && cb.IsOpen() {
		p.logger.Warn("circuit breaker opened",
			zap.String("tool", name),
			zap.Time("next_retry", cb.NextRetry()))
		if p.openCounter != nil {
			p.openCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", name)))
		}
	}
}

// runDirect is the production CommandRunner: a plain subprocess whose
// exit code is the result. Spawn failures read as exit code 1.
func runDirect(ctx context.Context, name string, args []string) int {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}
