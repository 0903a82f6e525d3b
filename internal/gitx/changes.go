// Package gitx derives the change set for a run from the repository's
// worktree status, so SELECTIVE narrowing works without the caller
// supplying changed files explicitly.
package gitx

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
)

// ChangedFiles returns the paths with uncommitted changes (staged,
// unstaged, or untracked) relative to the repository root. A path that
// is not a git repository is not an error for the workflow; callers
// treat the returned error as "change set unknown".
func ChangedFiles(repoPath string) ([]string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", repoPath, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	var files []string
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}
