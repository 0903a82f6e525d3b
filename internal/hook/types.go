package hook

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status represents the terminal outcome of a hook execution.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"

	// StatusRunning appears only in live Progress snapshots, never in a
	// frozen Result.
	StatusRunning Status = "running"
)

// Mode is the concurrency/granularity mode for running a hook group.
type Mode string

const (
	// ModeBatch runs all hooks of a group concurrently.
	ModeBatch Mode = "batch"

	// ModeIndividual runs hooks one at a time for maximum visibility.
	ModeIndividual Mode = "individual"

	// ModeSelective runs only the hooks relevant to the current change set.
	ModeSelective Mode = "selective"

	// ModeAdaptive defers the decision to the strategy selector.
	ModeAdaptive Mode = "adaptive"
)

// Definition describes a single quality-gate hook. Definitions are
// loaded from configuration and immutable for the duration of a run.
type Definition struct {
	// Name identifies the hook. It is also the mutual-exclusion key:
	// two executions with the same name never overlap.
	Name string `koanf:"name"`

	// Command is the argv to execute, relative to the run root.
	Command []string `koanf:"command"`

	// Timeout is the absolute budget for one execution. Zero means the
	// group's global timeout applies.
	Timeout time.Duration `koanf:"timeout"`

	// Retries caps how many later iterations may re-attempt the hook
	// after a failure; once spent the hook is skipped for the rest of
	// the run. Zero means re-attempt every iteration. Hooks are never
	// retried within an iteration.
	Retries int `koanf:"retries"`
}

// Validate checks the definition for configuration errors.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("hook name cannot be empty")
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("hook %q has no command", d.Name)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("hook %q has negative timeout", d.Name)
	}
	if d.Retries < 0 {
		return fmt.Errorf("hook %q has negative retries", d.Name)
	}
	return nil
}

// Strategy is a named ordered sequence of hook definitions plus the
// execution limits that apply to the group as a whole. A Strategy is an
// immutable snapshot used for one phase.
type Strategy struct {
	Name          string        `koanf:"name"`
	Hooks         []Definition  `koanf:"hooks"`
	GlobalTimeout time.Duration `koanf:"global_timeout"`
	MaxParallel   int           `koanf:"max_parallel"`
}

// Validate checks the strategy and every hook it contains.
func (s Strategy) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}
	if len(s.Hooks) == 0 {
		return fmt.Errorf("strategy %q has no hooks", s.Name)
	}
	seen := make(map[string]bool, len(s.Hooks))
	for _, h := range s.Hooks {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("strategy %q: %w", s.Name, err)
		}
		if seen[h.Name] {
			return fmt.Errorf("strategy %q: duplicate hook %q", s.Name, h.Name)
		}
		seen[h.Name] = true
	}
	if s.MaxParallel < 0 {
		return fmt.Errorf("strategy %q: max_parallel must be >= 0", s.Name)
	}
	return nil
}

// HookNames returns the hook names in strategy order.
func (s Strategy) HookNames() []string {
	names := make([]string, len(s.Hooks))
	for i, h := range s.Hooks {
		names[i] = h.Name
	}
	return names
}

// Result captures the outcome of one hook execution. Results are
// created once at completion and never mutated afterward.
type Result struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Duration     time.Duration `json:"duration"`
	IssuesCount  int           `json:"issues_count"`
	Errors       int           `json:"errors"`
	Warnings     int           `json:"warnings"`
	FilesTouched []string      `json:"files_touched,omitempty"`
	Error        string        `json:"error,omitempty"`
	Transcript   []string      `json:"transcript,omitempty"`
}

// Failed reports whether the result represents a failing gate.
func (r Result) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusError
}

// Progress is the mutable live-tracking record for an in-flight hook.
// It is owned by the executor for the hook's lifetime and frozen into a
// Result at completion. The transcript buffer is bounded: once full,
// the oldest lines are dropped.
type Progress struct {
	mu         sync.Mutex
	name       string
	status     Status
	startedAt  time.Time
	endedAt    time.Time
	transcript []string
	maxLines   int
	dropped    int
	errors     int
	warnings   int
}

// NewProgress creates a progress record for the named hook with the
// given transcript capacity. A capacity of zero or less falls back to
// DefaultTranscriptLines.
func NewProgress(name string, maxLines int) *Progress {
	if maxLines <= 0 {
		maxLines = DefaultTranscriptLines
	}
	return &Progress{
		name:      name,
		status:    StatusRunning,
		startedAt: time.Now(),
		maxLines:  maxLines,
	}
}

// DefaultTranscriptLines bounds the in-memory transcript per hook.
const DefaultTranscriptLines = 2000

// AppendLine adds one output line to the bounded transcript and
// returns the total number of lines seen so far (including dropped).
func (p *Progress) AppendLine(line string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.transcript) >= p.maxLines {
		p.transcript = p.transcript[1:]
		p.dropped++
	}
	p.transcript = append(p.transcript, line)
	return len(p.transcript) + p.dropped
}

// AddCounts accumulates parsed error/warning counts.
func (p *Progress) AddCounts(errors, warnings int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors += errors
	p.warnings += warnings
}

// Transcript returns a copy of the buffered output lines.
func (p *Progress) Transcript() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.transcript))
	copy(out, p.transcript)
	return out
}

// TranscriptText returns the buffered output joined with newlines.
func (p *Progress) TranscriptText() string {
	return strings.Join(p.Transcript(), "\n")
}

// Freeze converts the progress record into an immutable Result.
// Failed and errored hooks are coerced to IssuesCount >= 1 so a parser
// blind spot can never hide a real failure behind a zero count.
func (p *Progress) Freeze(status Status, errText string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = status
	p.endedAt = time.Now()

	issues := p.errors + p.warnings
	if (status == StatusFailed || status == StatusError) && issues < 1 {
		issues = 1
	}

	transcript := make([]string, len(p.transcript))
	copy(transcript, p.transcript)

	return Result{
		Name:        p.name,
		Status:      status,
		Duration:    p.endedAt.Sub(p.startedAt),
		IssuesCount: issues,
		Errors:      p.errors,
		Warnings:    p.warnings,
		Error:       errText,
		Transcript:  transcript,
	}
}

// Snapshot is a point-in-time view of an in-flight hook, safe to hand
// to progress sinks without exposing the live record.
type Snapshot struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Lines     int       `json:"lines"`
	Errors    int       `json:"errors"`
	Warnings  int       `json:"warnings"`
}

// Snapshot returns the current state of the progress record.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Name:      p.name,
		Status:    p.status,
		StartedAt: p.startedAt,
		Lines:     len(p.transcript) + p.dropped,
		Errors:    p.errors,
		Warnings:  p.warnings,
	}
}

// MarkRunning flips the progress status once the subprocess has spawned.
func (p *Progress) MarkRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusRunning
}
