// Package executor runs quality-gate hooks as supervised subprocesses.
// Each hook streams stdout and stderr through independent readers into
// a bounded transcript, honors an absolute timeout, and is serialized
// per hook name through the lock manager. Every failure mode (spawn
// error, timeout, parser panic) is absorbed here and converted into a
// structured result; nothing escapes to the caller.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/hook/lock"
	"github.com/fyrsmithlabs/convergd/internal/strategy"
)

const instrumentationName = "github.com/fyrsmithlabs/convergd/internal/executor"

// ProgressFunc receives live snapshots of an in-flight hook. It is
// invoked at most once per cadence window to bound callback overhead.
type ProgressFunc func(snapshot hook.Snapshot)

// Config configures the executor.
type Config struct {
	// RootPath is the working directory for hook subprocesses.
	RootPath string `koanf:"root_path"`

	// SuppressOutput disables live echo of hook output lines, for
	// headless or background execution.
	SuppressOutput bool `koanf:"suppress_output"`

	// ProgressCadence invokes the progress callback every N transcript
	// lines (default: 10).
	ProgressCadence int `koanf:"progress_cadence"`

	// TranscriptLines bounds the per-hook transcript buffer
	// (default: hook.DefaultTranscriptLines).
	TranscriptLines int `koanf:"transcript_lines"`

	// DefaultTimeout applies to hooks without their own timeout
	// (default: 2m).
	DefaultTimeout time.Duration `koanf:"default_timeout"`

	// LaunchDelay paces subprocess launches in batch mode. Zero
	// disables pacing.
	LaunchDelay time.Duration `koanf:"launch_delay"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProgressCadence: 10,
		TranscriptLines: hook.DefaultTranscriptLines,
		DefaultTimeout:  2 * time.Minute,
	}
}

// Executor runs hooks individually or in batches. One executor may be
// shared by concurrent phases; per-hook exclusion comes from the lock
// manager, not the executor itself.
type Executor struct {
	config   Config
	locks    *lock.Manager
	parsers  *hook.ParserRegistry
	progress ProgressFunc
	echo     io.Writer
	logger   *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	execCounter   metric.Int64Counter
	timeoutCount  metric.Int64Counter
	execHistogram metric.Float64Histogram
}

// New creates an executor. A nil lock manager or parser registry gets
// a fresh default; a nil logger logs nowhere.
func New(cfg Config, locks *lock.Manager, parsers *hook.ParserRegistry, logger *zap.Logger) *Executor {
	if locks == nil {
		locks = lock.NewManager()
	}
	if parsers == nil {
		parsers = hook.NewParserRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProgressCadence <= 0 {
		cfg.ProgressCadence = DefaultConfig().ProgressCadence
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}

	e := &Executor{
		config:  cfg,
		locks:   locks,
		parsers: parsers,
		echo:    os.Stdout,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	e.initMetrics()
	return e
}

// OnProgress sets the live-progress callback.
func (e *Executor) OnProgress(fn ProgressFunc) {
	e.progress = fn
}

// SetEchoWriter redirects live output echo, primarily for tests.
func (e *Executor) SetEchoWriter(w io.Writer) {
	e.echo = w
}

// initMetrics creates the OpenTelemetry instruments. Creation errors
// degrade to logging; they never fail construction.
func (e *Executor) initMetrics() {
	var err error

	e.execCounter, err = e.meter.Int64Counter(
		"convergd.executor.hooks_total",
		metric.WithDescription("Total hook executions by status"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		e.logger.Warn("failed to create execution counter", zap.Error(err))
	}

	e.timeoutCount, err = e.meter.Int64Counter(
		"convergd.executor.timeouts_total",
		metric.WithDescription("Total hook executions killed on timeout"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		e.logger.Warn("failed to create timeout counter", zap.Error(err))
	}

	e.execHistogram, err = e.meter.Float64Histogram(
		"convergd.executor.hook_duration_seconds",
		metric.WithDescription("Hook execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		e.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// Execute runs one hook to completion and returns its result. The
// hook's lock is held for the whole execution and released on every
// return path, including panics.
func (e *Executor) Execute(ctx context.Context, def hook.Definition) (result hook.Result) {
	ctx, span := e.tracer.Start(ctx, "executor.Execute",
		trace.WithAttributes(attribute.String("hook.name", def.Name)))
	defer span.End()

	handle := e.locks.Acquire(def.Name)
	defer handle.Release()

	progress := hook.NewProgress(def.Name, e.config.TranscriptLines)

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("hook execution panic",
				zap.String("hook", def.Name),
				zap.Any("panic", rec))
			result = progress.Freeze(hook.StatusError, fmt.Sprintf("internal error: %v", rec))
		}
		e.recordMetrics(ctx, result)
	}()

	result = e.run(ctx, def, progress)
	return result
}

// run spawns the subprocess and supervises it. Split from Execute so
// the panic/metrics bookkeeping wraps exactly one execution.
func (e *Executor) run(ctx context.Context, def hook.Definition, progress *hook.Progress) hook.Result {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, def.Command[0], def.Command[1:]...)
	cmd.Dir = e.config.RootPath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return progress.Freeze(hook.StatusError, fmt.Sprintf("stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return progress.Freeze(hook.StatusError, fmt.Sprintf("stderr pipe: %v", err))
	}

	if err := cmd.Start(); err != nil {
		return progress.Freeze(hook.StatusError, fmt.Sprintf("spawn %q: %v", def.Command[0], err))
	}
	progress.MarkRunning()

	e.logger.Debug("hook started",
		zap.String("hook", def.Name),
		zap.Strings("command", def.Command),
		zap.Duration("timeout", timeout))

	// Drain both streams concurrently. Interleaving across the two
	// readers is not ordered; within one stream, lines arrive in order.
	var wg sync.WaitGroup
	wg.Add(2)
	go e.drainStream(&wg, stdout, progress)
	go e.drainStream(&wg, stderr, progress)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	// On timeout or cancellation an orphaned grandchild can keep the
	// pipes open indefinitely. Wait closes the read ends after reaping
	// the killed process, which unblocks the readers; whatever they
	// gathered up to that point is the partial transcript.
	select {
	case <-drained:
	case <-cmdCtx.Done():
	}
	waitErr := cmd.Wait()
	<-drained

	// Timeout: the process was killed, but the partial transcript
	// gathered so far is preserved as diagnostic context.
	if cmdCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn("hook timed out",
			zap.String("hook", def.Name),
			zap.Duration("timeout", timeout))
		return progress.Freeze(hook.StatusFailed, fmt.Sprintf("timed out after %s", timeout))
	}

	parsed := e.parsers.Parse(def.Name, progress.TranscriptText())
	progress.AddCounts(parsed.Errors, parsed.Warnings)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result := progress.Freeze(hook.StatusFailed,
				fmt.Sprintf("exit code %d", exitErr.ExitCode()))
			result.FilesTouched = parsed.FilesTouched
			return result
		}
		return progress.Freeze(hook.StatusError, fmt.Sprintf("wait: %v", waitErr))
	}

	result := progress.Freeze(hook.StatusPassed, "")
	result.FilesTouched = parsed.FilesTouched
	return result
}

// drainStream reads one stream line by line into the transcript,
// echoing live unless suppressed and firing the progress callback at
// the configured cadence.
func (e *Executor) drainStream(wg *sync.WaitGroup, r io.Reader, progress *hook.Progress) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		total := progress.AppendLine(line)

		if !e.config.SuppressOutput && e.echo != nil {
			fmt.Fprintln(e.echo, line)
		}
		if e.progress != nil && total%e.config.ProgressCadence == 0 {
			e.progress(progress.Snapshot())
		}
	}
}

// recordMetrics emits the per-execution counter and histogram.
func (e *Executor) recordMetrics(ctx context.Context, result hook.Result) {
	attrs := metric.WithAttributes(
		attribute.String("hook", result.Name),
		attribute.String("status", string(result.Status)),
	)
	if e.execCounter != nil {
		e.execCounter.Add(ctx, 1, attrs)
	}
	if e.execHistogram != nil {
		e.execHistogram.Record(ctx, result.Duration.Seconds(), attrs)
	}
	if e.timeoutCount != nil && result.Status == hook.StatusFailed &&
		strings.HasPrefix(result.Error, "timed out") {
		e.timeoutCount.Add(ctx, 1, attrs)
	}
}

// ExecuteGroup runs one group plan in the given mode. Batch mode runs
// hooks concurrently up to the group's parallelism bound; individual
// and selective modes run them one at a time in plan order. Results
// come back in plan order regardless of completion order.
func (e *Executor) ExecuteGroup(ctx context.Context, group strategy.GroupPlan, mode hook.Mode) []hook.Result {
	if group.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, group.GlobalTimeout)
		defer cancel()
	}

	if mode != hook.ModeBatch {
		results := make([]hook.Result, 0, len(group.Hooks))
		for _, def := range group.Hooks {
			results = append(results, e.Execute(ctx, def))
		}
		return results
	}

	maxParallel := group.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	results := make([]hook.Result, len(group.Hooks))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, def := range group.Hooks {
		if e.config.LaunchDelay > 0 && i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.config.LaunchDelay):
			}
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, def hook.Definition) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, def)
		}(i, def)
	}
	wg.Wait()

	return results
}
