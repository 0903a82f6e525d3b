package toolproxy

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
)

// ToolSpec declares a command-backed tool in configuration.
type ToolSpec struct {
	// Binary is the executable name; defaults to the tool's map key.
	Binary string `koanf:"binary"`

	// Args precede the file arguments.
	Args []string `koanf:"args"`

	// IssuePattern counts issues in the tool's output. Empty means
	// every non-blank output line is one issue.
	IssuePattern string `koanf:"issue_pattern"`

	// JSON marks tools that emit machine-readable output.
	JSON bool `koanf:"json"`
}

// CommandAdapter is the built-in adapter: a command template plus an
// issue-counting pattern. Health is binary presence on PATH.
type CommandAdapter struct {
	Binary   string
	BaseArgs []string
	IssueRe  *regexp.Regexp
	JSONOut  bool
}

// NewCommandAdapter builds an adapter from a spec. An invalid issue
// pattern falls back to line counting.
func NewCommandAdapter(name string, spec ToolSpec) *CommandAdapter {
	binary := spec.Binary
	if binary == "" {
		binary = name
	}
	var re *regexp.Regexp
	if spec.IssuePattern != "" {
		re, _ = regexp.Compile(spec.IssuePattern)
	}
	return &CommandAdapter{
		Binary:   binary,
		BaseArgs: spec.Args,
		IssueRe:  re,
		JSONOut:  spec.JSON,
	}
}

// ExecName returns the configured binary.
func (a *CommandAdapter) ExecName() string { return a.Binary }

func (a *CommandAdapter) CommandArgs(files []string) []string {
	args := make([]string, 0, len(a.BaseArgs)+len(files))
	args = append(args, a.BaseArgs...)
	args = append(args, files...)
	return args
}

func (a *CommandAdapter) ParseOutput(text string) ToolResult {
	issues := 0
	for _, line := range strings.Split(text, "\n") {
		switch {
		case a.IssueRe != nil:
			if a.IssueRe.MatchString(line) {
				issues++
			}
		case strings.TrimSpace(line) != "":
			issues++
		}
	}
	exit := 0
	if issues > 0 {
		exit = 1
	}
	return ToolResult{ExitCode: exit, Issues: issues, Output: text}
}

func (a *CommandAdapter) SupportsJSON() bool { return a.JSONOut }

// CheckHealth reports whether the binary resolves on PATH.
func (a *CommandAdapter) CheckHealth(_ context.Context) bool {
	_, err := exec.LookPath(a.Binary)
	return err == nil
}

// RegisterSpecs installs a CommandAdapter for every configured tool.
func (p *Proxy) RegisterSpecs(specs map[string]ToolSpec) {
	for name, spec := range specs {
		p.RegisterAdapter(name, NewCommandAdapter(name, spec))
	}
}
