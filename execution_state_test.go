package codeflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecutionStateReviewCounters(t *testing.T) {
	t.Run("single-unit mode increments the run counter", func(t *testing.T) {
		state := newExecutionState("wf_1", "goal")
		state.RecordReview(&ReviewResult{Approved: false})
		state.RecordReview(&ReviewResult{Approved: false})

		cp := state.Snapshot()
		require.Equal(t, 2, cp.ReviewIteration)
		require.Equal(t, 0, cp.TaskReviewIteration)
	})

	t.Run("task mode increments the per-task counter", func(t *testing.T) {
		state := newExecutionState("wf_1", "goal")
		state.SetTotalTasks(intPtr(3))
		state.RecordReview(&ReviewResult{Approved: false})
		state.RecordReview(&ReviewResult{Approved: true})

		cp := state.Snapshot()
		require.Equal(t, 2, cp.TaskReviewIteration)
		require.Equal(t, 0, cp.ReviewIteration)
	})
}

func TestExecutionStateAdvanceTask(t *testing.T) {
	state := newExecutionState("wf_1", "goal")
	state.SetTotalTasks(intPtr(3))
	state.SetSessionToken("sess-1")
	state.RecordReview(&ReviewResult{Approved: true})

	state.AdvanceTask()

	cp := state.Snapshot()
	require.Equal(t, 1, cp.CurrentTaskIndex)
	require.Equal(t, 0, cp.TaskReviewIteration)
	require.Equal(t, "", cp.SessionToken)
}

func TestExecutionStateSnapshotIsIsolated(t *testing.T) {
	state := newExecutionState("wf_1", "goal")
	state.SetPlan("the plan", []string{"a.go"})
	state.SetHumanApproved(true)
	state.SetTotalTasks(intPtr(2))

	cp := state.Snapshot()
	*cp.HumanApproved = false
	*cp.TotalTasks = 99
	cp.KeyFiles[0] = "mutated.go"

	fresh := state.Snapshot()
	require.True(t, *fresh.HumanApproved)
	require.Equal(t, 2, *fresh.TotalTasks)
	require.Equal(t, []string{"a.go"}, fresh.KeyFiles)
}

func TestExecutionStateRestore(t *testing.T) {
	cp := sampleCheckpoint("wf_restored")

	state := newExecutionState("wf_other", "other goal")
	state.Restore(cp)

	require.Equal(t, "wf_restored", state.WorkflowID())
	require.Equal(t, StageReview, state.Stage())
	require.Equal(t, cp.Goal, state.Goal())
	require.True(t, state.TaskMode())
	require.Equal(t, 1, state.CurrentTaskIndex())
	require.Equal(t, "sess-42", state.SessionToken())

	review := state.LastReview()
	require.NotNil(t, review)
	require.False(t, review.Approved)
	require.Equal(t, "needs tests", review.Comments)
}
