package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convergd/internal/config"
	"github.com/fyrsmithlabs/convergd/internal/executor"
	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/hook/lock"
	"github.com/fyrsmithlabs/convergd/internal/logging"
	"github.com/fyrsmithlabs/convergd/internal/orchestrator"
	"github.com/fyrsmithlabs/convergd/internal/status"
	"github.com/fyrsmithlabs/convergd/internal/telemetry"
	"github.com/fyrsmithlabs/convergd/internal/toolproxy"
)

var (
	changedFiles []string
	quiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the convergence workflow",
	Long: `Run hooks, tests, and the AI-fix loop until every gate passes in a
single iteration or the iteration budget runs out.

Examples:
  # Run against the current directory
  convergd run

  # Run against another project with an explicit change set
  convergd run --root ../svc --changed cmd/main.go --changed api/api.go`,
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringArrayVar(&changedFiles, "changed", nil, "changed file (repeatable; default: git detection)")
	runCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress live hook output")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}
	if quiet {
		cfg.Executor.SuppressOutput = true
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	// SIGINT/SIGTERM cancel the run context; in-flight hooks are killed
	// through their command contexts and the final report still emits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, &cfg.Telemetry, logger.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	parsers := hook.NewDefaultParserRegistry()
	if err := parsers.RegisterSpecs(cfg.Parsers); err != nil {
		return fmt.Errorf("configure parsers: %w", err)
	}
	exe := executor.New(cfg.Executor, lock.NewManager(), parsers, logger.Named("executor"))

	proxy := toolproxy.NewProxy(cfg.ToolProxy, nil, logger.Named("toolproxy"))
	proxy.RegisterSpecs(cfg.ToolProxy.Tools)

	opts := []orchestrator.Option{
		orchestrator.WithAdvisoryTools(proxy, cfg.ToolProxy.Advisory),
	}
	var statusSrv *status.Server
	if cfg.Status.Enabled {
		statusSrv, err = status.NewServer(&cfg.Status, logger.Named("status"))
		if err != nil {
			return fmt.Errorf("initialize status server: %w", err)
		}
		go func() {
			if err := statusSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("status server stopped", zap.Error(err))
			}
		}()
		opts = append(opts, orchestrator.WithProgressSink(statusSrv))
	}

	tests := newTestManager(cfg.Tests, root, logger.Named("tests"))

	orch, err := orchestrator.New(cfg.Workflow, exe, tests, nil, logger.Named("workflow"), opts...)
	if err != nil {
		return err
	}
	exe.OnProgress(orch.HookProgress)

	report, runErr := orch.Run(ctx, orchestrator.RunOptions{
		RootPath:     root,
		ChangedFiles: changedFiles,
	})

	if statusSrv != nil {
		if err := statusSrv.Shutdown(context.Background()); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	printReport(cmd, report)
	if !report.Success {
		return fmt.Errorf("workflow exhausted after %d iterations", report.Iterations)
	}
	return nil
}

func printReport(cmd *cobra.Command, report orchestrator.RunReport) {
	out := cmd.OutOrStdout()

	outcome := "EXHAUSTED"
	if report.Success {
		outcome = "CONVERGED"
	}
	fmt.Fprintf(out, "\n%s in %d iteration(s), %s (mode: %s)\n",
		outcome, report.Iterations, report.Duration.Round(10*time.Millisecond), report.FinalMode)

	for _, r := range report.HookResults {
		marker := "ok"
		if r.Failed() {
			marker = "FAIL"
		}
		fmt.Fprintf(out, "  %-4s %-28s %s", marker, r.Name, r.Duration.Round(time.Millisecond))
		if r.IssuesCount > 0 {
			fmt.Fprintf(out, "  issues=%d", r.IssuesCount)
		}
		fmt.Fprintln(out)
	}
	if len(report.FailedTests) > 0 {
		fmt.Fprintf(out, "  failed tests: %s\n", strings.Join(report.FailedTests, ", "))
	}
	if len(report.ProblematicHooks) > 0 {
		fmt.Fprintf(out, "  problematic hooks: %s\n", strings.Join(report.ProblematicHooks, ", "))
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}

// commandTestManager runs the configured test command as the TESTS
// phase. No configured command means the phase trivially passes.
type commandTestManager struct {
	cfg    config.TestsConfig
	root   string
	logger *zap.Logger
}

func newTestManager(cfg config.TestsConfig, root string, logger *zap.Logger) orchestrator.TestManager {
	return &commandTestManager{cfg: cfg, root: root, logger: logger}
}

func (m *commandTestManager) RunTests(ctx context.Context, opts orchestrator.TestOptions) (orchestrator.TestRunResult, error) {
	if len(m.cfg.Command) == 0 {
		return orchestrator.TestRunResult{Success: true}, nil
	}

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	m.logger.Info("running test command",
		zap.Strings("command", m.cfg.Command),
		zap.String("mode", string(opts.Mode)))

	cmd := exec.CommandContext(ctx, m.cfg.Command[0], m.cfg.Command[1:]...)
	cmd.Dir = m.root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return orchestrator.TestRunResult{
				Success:     false,
				FailedTests: []string{m.cfg.Command[0]},
			}, nil
		}
		return orchestrator.TestRunResult{}, fmt.Errorf("run test command: %w", err)
	}
	return orchestrator.TestRunResult{Success: true}, nil
}
