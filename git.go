package codeflow

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitCommitter commits workspace changes with the system git binary.
type GitCommitter struct{}

func NewGitCommitter() *GitCommitter {
	return &GitCommitter{}
}

// Commit stages everything under the workspace and commits it. Returns
// (false, nil) when the workspace has no pending changes.
func (g *GitCommitter) Commit(ctx context.Context, workspace, message string) (bool, error) {
	addCmd := exec.CommandContext(ctx, "git", "-C", workspace, "add", "-A")
	if output, err := addCmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("git add failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	commitCmd := exec.CommandContext(ctx, "git", "-C", workspace, "commit", "-m", message)
	output, err := commitCmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return false, nil
		}
		return false, fmt.Errorf("git commit failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return true, nil
}
