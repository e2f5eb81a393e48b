package codeflow

import "regexp"

// Task progress is pure logic over the checkpointed state. The only code
// paths that mutate the underlying counters are ExecutionState.RecordReview
// and ExecutionState.AdvanceTask.

// taskMarkerPattern matches the structural task headings of a plan artifact,
// e.g. "## Task 1: wire the parser" or "### Task 12".
var taskMarkerPattern = regexp.MustCompile(`(?m)^#{2,3}\s+Task\s+\d+\b`)

// DeriveTotalTasks counts the task markers in a plan artifact. A plan with no
// markers returns nil, which selects single-unit mode: the whole plan is
// produced and reviewed as one unit and the task loop never fires.
func DeriveTotalTasks(planArtifact string) *int {
	markers := taskMarkerPattern.FindAllStringIndex(planArtifact, -1)
	if len(markers) == 0 {
		return nil
	}
	n := len(markers)
	return &n
}

// ShouldAdvanceTask reports whether the run should move on to the next task:
// the review approved the current task and more tasks remain.
func ShouldAdvanceTask(cp *Checkpoint) bool {
	if cp.TotalTasks == nil {
		return false
	}
	if cp.LastReview == nil || !cp.LastReview.Approved {
		return false
	}
	return cp.CurrentTaskIndex+1 < *cp.TotalTasks
}

// IsLastTask reports whether the current task is the final one.
func IsLastTask(cp *Checkpoint) bool {
	if cp.TotalTasks == nil {
		return true
	}
	return cp.CurrentTaskIndex+1 == *cp.TotalTasks
}
