// Package main implements the convergd CLI: a convergence-driven
// workflow runner for automated code-quality pipelines.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/convergd/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	rootPath   string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "convergd",
	Short: "Convergence-driven code-quality workflow runner",
	Long: `convergd runs configurable quality gates ("hooks") against a codebase,
adapts its execution strategy across iterations, and repeats until every
gate passes or the iteration budget is exhausted.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"convergd by Fyrsmith Labs\nVersion:    {{.Version}}\nCommit:     %s\nBuild Date: %s\n",
		gitCommit, buildDate))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: .convergd.yaml in the project root)")
	rootCmd.PersistentFlags().StringVar(&rootPath, "root", ".", "project root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(toolsCmd)
}

// loadConfig resolves the project root and loads the aggregate config.
func loadConfig() (*config.Config, string, error) {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, "", fmt.Errorf("resolve root path: %w", err)
	}

	cfg, err := config.Load(configPath, root)
	if err != nil {
		return nil, "", err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, root, nil
}
