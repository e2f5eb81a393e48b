package codeflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: strict
max_review_iterations: 5
max_task_review_iterations: 2
retry:
  max_retries: 4
  base_delay: 500ms
  max_delay: 10s
auto_approve: "total_tasks <= 2"
model: some-model
`), 0644))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "strict", profile.Name)
	require.Equal(t, 5, profile.MaxReviewIterations)
	require.Equal(t, 2, profile.MaxTaskReviewIterations)
	require.Equal(t, "total_tasks <= 2", profile.AutoApprove)
	require.Equal(t, "some-model", profile.Model)

	policy := profile.Retry.Policy()
	require.Equal(t, 4, policy.MaxRetries)
	require.Equal(t, 500*time.Millisecond, policy.BaseDelay)
	require.Equal(t, 10*time.Second, policy.MaxDelay)
}

func TestLoadProfileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_approve: \"false\"\n"), 0644))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "default", profile.Name)
	require.Equal(t, 3, profile.MaxReviewIterations)
	require.Equal(t, 3, profile.MaxTaskReviewIterations)

	policy := profile.Retry.Policy()
	require.Equal(t, 3, policy.MaxRetries)
	require.Equal(t, time.Second, policy.BaseDelay)
	require.Equal(t, 30*time.Second, policy.MaxDelay)
}

func TestLoadProfileErrors(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0644))
	_, err = LoadProfile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse profile")
}

func TestLoadWorkspaceProfile(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		workspace := t.TempDir()
		profile, err := LoadWorkspaceProfile(workspace)
		require.NoError(t, err)
		require.Equal(t, "default", profile.Name)
		require.Equal(t, workspace, profile.Workspace)
	})

	t.Run("reads the workspace profile file", func(t *testing.T) {
		workspace := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(workspace, ProfileFileName), []byte(`
name: project
max_review_iterations: 7
`), 0644))

		profile, err := LoadWorkspaceProfile(workspace)
		require.NoError(t, err)
		require.Equal(t, "project", profile.Name)
		require.Equal(t, 7, profile.MaxReviewIterations)
		require.Equal(t, workspace, profile.Workspace)
	})
}
