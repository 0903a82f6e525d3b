package strategy

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// ExecutionContext carries the per-run state the selector and planner
// decide from. It is created once per invocation; Iteration is the
// only field mutated between loop turns.
type ExecutionContext struct {
	// RunID identifies the run in logs, events, and metrics.
	RunID string

	// RootPath is the working directory hooks execute in.
	RootPath string

	// Iteration is the current loop turn, starting at 1.
	Iteration int

	// PreviousFailures holds the distinct hook names that failed in
	// the previous iteration.
	PreviousFailures []string

	// ChangedFiles is the known change set, when available. An empty
	// slice with ChangedFilesKnown true means "nothing changed"; an
	// unknown change set disables SELECTIVE narrowing by files.
	ChangedFiles      []string
	ChangedFilesKnown bool

	// FileCount and TestCount are project-size heuristics derived
	// once from the root path.
	FileCount int
	TestCount int
}

// sourceExtensions are the file types counted toward project size.
var sourceExtensions = map[string]bool{
	".py": true, ".go": true, ".js": true, ".ts": true,
	".rb": true, ".rs": true, ".java": true,
}

// MeasureProject walks the root once and fills the project-size
// heuristics. Walk errors are ignored: an unreadable subtree lowers
// the counts, which only makes the selector more conservative.
func (c *ExecutionContext) MeasureProject() {
	_ = filepath.WalkDir(c.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		c.FileCount++
		if IsTestPath(path) {
			c.TestCount++
		}
		return nil
	})
}

// IsTestPath reports whether a path looks like test code.
func IsTestPath(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.go") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "tests" || part == "test" {
			return true
		}
	}
	return false
}

// IsPackagingPath reports whether a path is a packaging/dependency
// manifest.
func IsPackagingPath(path string) bool {
	switch filepath.Base(path) {
	case "pyproject.toml", "setup.py", "setup.cfg", "requirements.txt",
		"go.mod", "go.sum", "package.json", "package-lock.json", "Pipfile":
		return true
	}
	return false
}
