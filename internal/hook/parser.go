package hook

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ParseResult holds the counts and file set derived from a hook's
// output transcript.
type ParseResult struct {
	Errors       int
	Warnings     int
	FilesTouched []string
}

// OutputParser classifies one tool's output transcript.
type OutputParser interface {
	// Name returns the hook name this parser is registered under.
	Name() string

	// Parse derives error/warning counts and touched files from the
	// full transcript text.
	Parse(text string) ParseResult
}

// ParserRegistry dispatches transcripts to hook-name-keyed parsers.
// Lookup is exact-match; unknown hook names fall back to the generic
// line heuristic.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]OutputParser
	generic OutputParser
}

// NewParserRegistry creates a registry seeded with the generic
// fallback parser.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		parsers: make(map[string]OutputParser),
		generic: genericParser{},
	}
}

// Register adds or replaces the parser for its hook name.
func (r *ParserRegistry) Register(p OutputParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Name()] = p
}

// Parse runs the parser registered for the hook name, or the generic
// fallback when none is registered. A panicking parser degrades to the
// generic heuristic rather than failing the hook.
func (r *ParserRegistry) Parse(hookName, text string) (res ParseResult) {
	r.mu.RLock()
	p, ok := r.parsers[hookName]
	r.mu.RUnlock()

	if !ok {
		return r.generic.Parse(text)
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = r.generic.Parse(text)
		}
	}()
	return p.Parse(text)
}

// genericParser classifies lines containing "error"/"fail" as errors
// and lines containing "warning" as warnings. It is the fallback for
// hooks without a registered parser.
type genericParser struct{}

func (genericParser) Name() string { return "generic" }

func (genericParser) Parse(text string) ParseResult {
	var res ParseResult
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "fail"):
			res.Errors++
		case strings.Contains(lower, "warning"):
			res.Warnings++
		}
	}
	return res
}

// RegexParser counts matches of error/warning patterns and extracts
// file paths via an optional file pattern. It covers the common
// lint/type tool shapes without reproducing any tool's wire format.
type RegexParser struct {
	HookName  string
	ErrorRe   *regexp.Regexp
	WarningRe *regexp.Regexp
	FileRe    *regexp.Regexp // first capture group is the path
}

func (p RegexParser) Name() string { return p.HookName }

// ParserSpec declares a regex parser in configuration. Empty patterns
// disable their dimension.
type ParserSpec struct {
	ErrorPattern   string `koanf:"error_pattern"`
	WarningPattern string `koanf:"warning_pattern"`
	FilePattern    string `koanf:"file_pattern"`
}

// NewRegexParser compiles a spec into a parser for the named hook.
func NewRegexParser(name string, spec ParserSpec) (RegexParser, error) {
	p := RegexParser{HookName: name}
	var err error
	if spec.ErrorPattern != "" {
		if p.ErrorRe, err = regexp.Compile(spec.ErrorPattern); err != nil {
			return RegexParser{}, fmt.Errorf("parser %q: error pattern: %w", name, err)
		}
	}
	if spec.WarningPattern != "" {
		if p.WarningRe, err = regexp.Compile(spec.WarningPattern); err != nil {
			return RegexParser{}, fmt.Errorf("parser %q: warning pattern: %w", name, err)
		}
	}
	if spec.FilePattern != "" {
		if p.FileRe, err = regexp.Compile(spec.FilePattern); err != nil {
			return RegexParser{}, fmt.Errorf("parser %q: file pattern: %w", name, err)
		}
	}
	return p, nil
}

// RegisterSpecs compiles and installs every configured parser,
// replacing built-ins of the same name.
func (r *ParserRegistry) RegisterSpecs(specs map[string]ParserSpec) error {
	for name, spec := range specs {
		p, err := NewRegexParser(name, spec)
		if err != nil {
			return err
		}
		r.Register(p)
	}
	return nil
}

// builtinParsers covers the output shapes of the common lint and type
// tools, keyed by the conventional hook names.
var builtinParsers = map[string]ParserSpec{
	"ruff-check": {
		ErrorPattern: `^\S+:\d+:\d+: [A-Z]+\d+`,
		FilePattern:  `^(\S+):\d+:\d+:`,
	},
	"mypy": {
		ErrorPattern:   `:\d+: error:`,
		WarningPattern: `:\d+: (warning|note):`,
		FilePattern:    `^([^\s:]+):\d+:`,
	},
	"black-format": {
		ErrorPattern: `^would reformat `,
		FilePattern:  `^would reformat (.+)$`,
	},
	"pytest-unit": {
		ErrorPattern: `^FAILED `,
		FilePattern:  `^FAILED ([^:]+)::`,
	},
	"bandit-scan": {
		ErrorPattern: `^>> Issue:`,
	},
	"eslint": {
		ErrorPattern:   `^\s+\d+:\d+\s+error\s`,
		WarningPattern: `^\s+\d+:\d+\s+warning\s`,
	},
	"golangci-lint": {
		ErrorPattern: `^\S+\.go:\d+:\d+:`,
		FilePattern:  `^(\S+\.go):\d+:\d+:`,
	},
	"go-vet": {
		ErrorPattern: `^\S+\.go:\d+:\d+:`,
		FilePattern:  `^(\S+\.go):\d+:\d+:`,
	},
}

// NewDefaultParserRegistry returns a registry preloaded with the
// built-in parsers. The built-in patterns are static and compile.
func NewDefaultParserRegistry() *ParserRegistry {
	r := NewParserRegistry()
	if err := r.RegisterSpecs(builtinParsers); err != nil {
		panic(err)
	}
	return r
}

func (p RegexParser) Parse(text string) ParseResult {
	var res ParseResult
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		if p.ErrorRe != nil && p.ErrorRe.MatchString(line) {
			res.Errors++
		} else if p.WarningRe != nil && p.WarningRe.MatchString(line) {
			res.Warnings++
		}
		if p.FileRe != nil {
			if m := p.FileRe.FindStringSubmatch(line); len(m) > 1 && !seen[m[1]] {
				seen[m[1]] = true
				res.FilesTouched = append(res.FilesTouched, m[1])
			}
		}
	}
	return res
}
