package codeflow

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func createRecord(t *testing.T, store WorkflowStore, status WorkflowStatus) *WorkflowRecord {
	t.Helper()
	now := time.Now()
	record := &WorkflowRecord{
		ID:        NewWorkflowID(),
		Goal:      "goal",
		Workspace: t.TempDir(),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateWorkflow(context.Background(), record))
	return record
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()
	emitter := NewCollectingEmitter()
	orchestrator, _ := testOrchestrator(t, store, checkpointer, emitter, approvingReviewer())

	inProgress := createRecord(t, store, WorkflowStatusInProgress)
	blocked := createRecord(t, store, WorkflowStatusBlocked)
	pending := createRecord(t, store, WorkflowStatusPending)
	completed := createRecord(t, store, WorkflowStatusCompleted)
	failed := createRecord(t, store, WorkflowStatusFailed)

	// The interrupted workflow has a checkpoint that recovery must leave
	// alone.
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, &Checkpoint{
		WorkflowID: inProgress.ID,
		Stage:      StageProduce,
		Goal:       inProgress.Goal,
	}))

	require.NoError(t, orchestrator.RecoverInterrupted(ctx))

	t.Run("in-progress becomes failed and recoverable", func(t *testing.T) {
		record, err := store.GetWorkflow(ctx, inProgress.ID)
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusFailed, record.Status)
		require.Equal(t, "process restarted mid-execution", record.FailureReason)
		require.True(t, record.Recoverable)

		failures := emitter.EventsOfType(EventWorkflowFailed)
		require.Len(t, failures, 1)
		require.Equal(t, inProgress.ID, failures[0].WorkflowID)
		require.Equal(t, true, failures[0].Payload["recoverable"])

		// The checkpoint survives for resume.
		cp, err := checkpointer.LoadCheckpoint(ctx, inProgress.ID)
		require.NoError(t, err)
		require.NotNil(t, cp)
		require.Equal(t, StageProduce, cp.Stage)
	})

	t.Run("blocked re-announces approval without mutation", func(t *testing.T) {
		record, err := store.GetWorkflow(ctx, blocked.ID)
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusBlocked, record.Status)

		approvals := emitter.EventsOfType(EventApprovalRequired)
		require.Len(t, approvals, 1)
		require.Equal(t, blocked.ID, approvals[0].WorkflowID)
	})

	t.Run("other statuses untouched", func(t *testing.T) {
		for _, r := range []*WorkflowRecord{pending, completed, failed} {
			record, err := store.GetWorkflow(ctx, r.ID)
			require.NoError(t, err)
			require.Equal(t, r.Status, record.Status)
		}
	})

	t.Run("recovery is idempotent for blocked announcements", func(t *testing.T) {
		require.NoError(t, orchestrator.RecoverInterrupted(ctx))
		approvals := emitter.EventsOfType(EventApprovalRequired)
		require.Len(t, approvals, 2)
		for _, e := range approvals {
			require.Equal(t, blocked.ID, e.WorkflowID)
		}
	})
}

func TestRecoverInterruptedLogsSummary(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Workflows: NewMemoryWorkflowStore(),
		Logger:    slog.New(slog.NewTextHandler(&buf, nil)),
		Collaborators: Collaborators{
			Planner:  staticPlanner("plan"),
			Producer: &recordingProducer{},
			Reviewer: approvingReviewer(),
		},
	})
	require.NoError(t, err)

	// The sweep reports its result even when there is nothing to recover,
	// so "nothing found" is distinguishable from "never ran".
	require.NoError(t, orchestrator.RecoverInterrupted(ctx))
	require.Contains(t, buf.String(), "workflow recovery sweep complete")
	require.Contains(t, buf.String(), "interrupted=0")
	require.Contains(t, buf.String(), "awaiting_approval=0")
}

func TestResumePreconditions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()
	orchestrator, _ := testOrchestrator(t, store, checkpointer, NewNullEmitter(), approvingReviewer())

	t.Run("unknown workflow", func(t *testing.T) {
		err := orchestrator.Resume(ctx, "wf_missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not failed", func(t *testing.T) {
		record := createRecord(t, store, WorkflowStatusCompleted)
		err := orchestrator.Resume(ctx, record.ID)
		require.True(t, IsConflict(err))

		after, err2 := store.GetWorkflow(ctx, record.ID)
		require.NoError(t, err2)
		require.Equal(t, WorkflowStatusCompleted, after.Status)
	})

	t.Run("failed without checkpoint", func(t *testing.T) {
		record := createRecord(t, store, WorkflowStatusFailed)
		err := orchestrator.Resume(ctx, record.ID)
		require.True(t, IsConflict(err))

		after, err2 := store.GetWorkflow(ctx, record.ID)
		require.NoError(t, err2)
		require.Equal(t, WorkflowStatusFailed, after.Status)
	})

	t.Run("workspace busy", func(t *testing.T) {
		record := createRecord(t, store, WorkflowStatusFailed)
		require.NoError(t, checkpointer.SaveCheckpoint(ctx, &Checkpoint{
			WorkflowID: record.ID,
			Stage:      StageProduce,
			Goal:       record.Goal,
		}))
		require.True(t, orchestrator.registry.Acquire(record.Workspace, "wf_other"))

		err := orchestrator.Resume(ctx, record.ID)
		require.True(t, IsConflict(err))

		after, err2 := store.GetWorkflow(ctx, record.ID)
		require.NoError(t, err2)
		require.Equal(t, WorkflowStatusFailed, after.Status)
	})
}

func TestResumeRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()
	emitter := NewCollectingEmitter()
	orchestrator, producer := testOrchestrator(t, store, checkpointer, emitter, approvingReviewer())

	approved := true
	record := createRecord(t, store, WorkflowStatusFailed)
	_, err := store.UpdateWorkflow(ctx, record.ID, func(r *WorkflowRecord) error {
		r.FailureReason = "process restarted mid-execution"
		r.Recoverable = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, &Checkpoint{
		WorkflowID:    record.ID,
		Stage:         StageProduce,
		Goal:          record.Goal,
		PlanArtifact:  "finish the feature",
		HumanApproved: &approved,
	}))

	require.NoError(t, orchestrator.Resume(ctx, record.ID))
	orchestrator.Wait()

	final, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, final.Status)
	require.Empty(t, final.FailureReason)
	require.Len(t, producer.instructions, 1)

	starts := emitter.EventsOfType(EventWorkflowStarted)
	require.Len(t, starts, 1)
	require.Equal(t, true, starts[0].Payload["resumed"])
}
