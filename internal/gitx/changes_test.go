package gitx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangedFiles_NotARepository(t *testing.T) {
	_, err := ChangedFiles(t.TempDir())
	assert.Error(t, err, "a plain directory yields change-set-unknown")
}

func TestChangedFiles_UntrackedAndModified(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	write("committed.py", "print('v1')\n")
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("committed.py")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	write("committed.py", "print('v2')\n")
	write("untracked.py", "pass\n")

	files, err := ChangedFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"committed.py", "untracked.py"}, files,
		"modified and untracked paths, sorted")
}
