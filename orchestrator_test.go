package codeflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testOrchestrator(t *testing.T, store WorkflowStore, checkpointer Checkpointer, emitter Emitter, reviewer Reviewer) (*Orchestrator, *recordingProducer) {
	t.Helper()
	producer := &recordingProducer{}
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Workflows:    store,
		Checkpointer: checkpointer,
		Emitter:      emitter,
		Collaborators: Collaborators{
			Planner:  staticPlanner("do the thing"),
			Producer: producer,
			Reviewer: reviewer,
		},
		LoadProfile: func(workspace string) (*Profile, error) {
			return &Profile{
				Name:                    "test",
				Workspace:               workspace,
				MaxReviewIterations:     3,
				MaxTaskReviewIterations: 3,
				Retry: RetrySettings{
					MaxRetries: 1,
					BaseDelay:  time.Millisecond,
					MaxDelay:   time.Millisecond,
				},
			}, nil
		},
	})
	require.NoError(t, err)
	return orchestrator, producer
}

func TestOrchestratorApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()
	emitter := NewCollectingEmitter()
	orchestrator, producer := testOrchestrator(t, store, checkpointer, emitter, approvingReviewer())

	record, err := orchestrator.StartWorkflow(ctx, "add pagination", t.TempDir())
	require.NoError(t, err)
	orchestrator.Wait()

	// The workflow parks at the approval gate.
	blocked, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusBlocked, blocked.Status)
	require.Len(t, emitter.EventsOfType(EventApprovalRequired), 1)
	require.Empty(t, producer.instructions)

	require.NoError(t, orchestrator.SupplyApproval(ctx, record.ID, true))
	orchestrator.Wait()

	final, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, final.Status)
	require.Len(t, producer.instructions, 1)
}

func TestOrchestratorDenial(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()
	orchestrator, producer := testOrchestrator(t, store, checkpointer, NewNullEmitter(), approvingReviewer())

	record, err := orchestrator.StartWorkflow(ctx, "add pagination", t.TempDir())
	require.NoError(t, err)
	orchestrator.Wait()

	require.NoError(t, orchestrator.SupplyApproval(ctx, record.ID, false))
	orchestrator.Wait()

	final, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFailed, final.Status)
	require.Equal(t, "plan rejected by approver", final.FailureReason)
	require.False(t, final.Recoverable)
	require.Empty(t, producer.instructions)
}

func TestOrchestratorSupplyApprovalPreconditions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	orchestrator, _ := testOrchestrator(t, store, NewMemoryCheckpointer(), NewNullEmitter(), approvingReviewer())

	t.Run("unknown workflow", func(t *testing.T) {
		err := orchestrator.SupplyApproval(ctx, "wf_missing", true)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("workflow not blocked", func(t *testing.T) {
		record := &WorkflowRecord{
			ID:        NewWorkflowID(),
			Goal:      "goal",
			Workspace: t.TempDir(),
			Status:    WorkflowStatusPending,
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.CreateWorkflow(ctx, record))

		err := orchestrator.SupplyApproval(ctx, record.ID, true)
		require.True(t, IsConflict(err))
	})

	t.Run("blocked workflow without checkpoint", func(t *testing.T) {
		record := &WorkflowRecord{
			ID:        NewWorkflowID(),
			Goal:      "goal",
			Workspace: t.TempDir(),
			Status:    WorkflowStatusBlocked,
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.CreateWorkflow(ctx, record))

		err := orchestrator.SupplyApproval(ctx, record.ID, true)
		require.True(t, IsConflict(err))
	})
}

func TestOrchestratorWorkspaceExclusion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()

	// A reviewer that never answers keeps the first workflow running while
	// the second tries to claim the same workspace.
	release := make(chan struct{})
	slowReviewer := ReviewerFunc(func(ctx context.Context, changeDescription, instruction, sessionToken string) (*ReviewOutcome, error) {
		<-release
		return &ReviewOutcome{Approved: true}, nil
	})
	orchestrator, _ := testOrchestrator(t, store, checkpointer, NewNullEmitter(), slowReviewer)

	workspace := t.TempDir()
	first, err := orchestrator.StartWorkflow(ctx, "first goal", workspace)
	require.NoError(t, err)
	orchestrator.Wait()

	// Approve so the relaunched execution holds the workspace while it
	// produces and waits in review.
	require.NoError(t, orchestrator.SupplyApproval(ctx, first.ID, true))

	require.Eventually(t, func() bool {
		holder, busy := orchestrator.registry.ActiveWorkflow(workspace)
		return busy && holder == first.ID
	}, 5*time.Second, 10*time.Millisecond)

	_, err = orchestrator.StartWorkflow(ctx, "second goal", workspace)
	require.True(t, IsConflict(err))

	// A different workspace is unaffected.
	_, err = orchestrator.StartWorkflow(ctx, "second goal", t.TempDir())
	require.NoError(t, err)

	close(release)
	orchestrator.Wait()

	// After the first workflow finishes its workspace is free again.
	_, err = orchestrator.StartWorkflow(ctx, "third goal", workspace)
	require.NoError(t, err)
	orchestrator.Wait()
}

func TestOrchestratorAutoApprovalPolicy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()
	emitter := NewCollectingEmitter()
	producer := &recordingProducer{}

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Workflows:    store,
		Checkpointer: checkpointer,
		Emitter:      emitter,
		Collaborators: Collaborators{
			Planner:  staticPlanner("small change"),
			Producer: producer,
			Reviewer: approvingReviewer(),
		},
		LoadProfile: func(workspace string) (*Profile, error) {
			return &Profile{
				Name:                    "auto",
				Workspace:               workspace,
				MaxReviewIterations:     3,
				MaxTaskReviewIterations: 3,
				AutoApprove:             `total_tasks == 0`,
			}, nil
		},
	})
	require.NoError(t, err)

	record, err := orchestrator.StartWorkflow(ctx, "tiny fix", t.TempDir())
	require.NoError(t, err)
	orchestrator.Wait()

	final, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, final.Status)
	require.Empty(t, emitter.EventsOfType(EventApprovalRequired))
	require.Len(t, emitter.EventsOfType(EventApprovalGranted), 1)
	require.Len(t, producer.instructions, 1)
}

func TestOrchestratorCancel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	checkpointer := NewMemoryCheckpointer()

	started := make(chan struct{})
	blocking := PlannerFunc(func(ctx context.Context, goal string) (*PlanResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	producer := &recordingProducer{}
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Workflows:    store,
		Checkpointer: checkpointer,
		Collaborators: Collaborators{
			Planner:  blocking,
			Producer: producer,
			Reviewer: approvingReviewer(),
		},
		LoadProfile: func(workspace string) (*Profile, error) {
			return DefaultProfile(), nil
		},
	})
	require.NoError(t, err)

	record, err := orchestrator.StartWorkflow(ctx, "goal", t.TempDir())
	require.NoError(t, err)
	<-started

	require.True(t, orchestrator.Cancel(record.ID))
	orchestrator.Wait()

	final, err := store.GetWorkflow(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFailed, final.Status)
	require.Equal(t, "cancelled", final.FailureReason)
	require.True(t, final.Recoverable)

	require.False(t, orchestrator.Cancel(record.ID))
}
