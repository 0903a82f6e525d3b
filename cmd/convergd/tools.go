package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/convergd/internal/logging"
	"github.com/fyrsmithlabs/convergd/internal/toolproxy"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Run optional quality tools through the circuit-breaker proxy",
}

var toolsRunCmd = &cobra.Command{
	Use:   "run <tool> [files...]",
	Short: "Invoke a tool with health checks and fallback substitution",
	Long: `Invoke a configured tool through the proxy. An unhealthy or repeatedly
failing tool routes to its configured fallbacks; when every fallback is
unavailable the check is skipped with a warning rather than failing.

Examples:
  convergd tools run ruff src/a.py src/b.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTool,
}

func init() {
	toolsCmd.AddCommand(toolsRunCmd)
}

func runTool(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	proxy := toolproxy.NewProxy(cfg.ToolProxy, nil, logger.Named("toolproxy"))
	proxy.RegisterSpecs(cfg.ToolProxy.Tools)

	outcome := proxy.Execute(cmd.Context(), args[0], args[1:])

	out := cmd.OutOrStdout()
	switch {
	case outcome.Warning != "":
		fmt.Fprintf(out, "warning: %s\n", outcome.Warning)
	case outcome.UsedFallback != "":
		fmt.Fprintf(out, "ok (via fallback %s)\n", outcome.UsedFallback)
	case outcome.ExitCode == 0:
		fmt.Fprintln(out, "ok")
	default:
		return fmt.Errorf("tool %s exited with code %d", args[0], outcome.ExitCode)
	}
	return nil
}
