package codeflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Collaborators bundles the agents an orchestrator hands to each execution.
type Collaborators struct {
	Planner   Planner
	Producer  Producer
	Reviewer  Reviewer
	Committer Committer
}

// OrchestratorOptions configures a new orchestrator.
type OrchestratorOptions struct {
	Workflows     WorkflowStore
	Checkpointer  Checkpointer
	Emitter       Emitter
	Logger        *slog.Logger
	Collaborators Collaborators

	// LoadProfile resolves the profile for a workspace. Defaults to
	// LoadWorkspaceProfile.
	LoadProfile func(workspace string) (*Profile, error)
}

// Orchestrator owns the workflow lifecycle: it creates records, launches
// executions on goroutines, enforces per-workspace mutual exclusion, fields
// approval decisions, and resumes failed workflows. One orchestrator is
// intended to exist per process.
type Orchestrator struct {
	workflows     WorkflowStore
	checkpointer  Checkpointer
	emitter       Emitter
	logger        *slog.Logger
	collaborators Collaborators
	loadProfile   func(workspace string) (*Profile, error)
	registry      *WorkspaceRegistry

	mutex   sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with an empty workspace registry.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Workflows == nil {
		return nil, fmt.Errorf("workflow store is required")
	}
	if opts.Collaborators.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if opts.Collaborators.Producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if opts.Collaborators.Reviewer == nil {
		return nil, fmt.Errorf("reviewer is required")
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.Emitter == nil {
		opts.Emitter = NewNullEmitter()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.LoadProfile == nil {
		opts.LoadProfile = LoadWorkspaceProfile
	}
	return &Orchestrator{
		workflows:     opts.Workflows,
		checkpointer:  opts.Checkpointer,
		emitter:       opts.Emitter,
		logger:        opts.Logger,
		collaborators: opts.Collaborators,
		loadProfile:   opts.LoadProfile,
		registry:      NewWorkspaceRegistry(),
		cancels:       map[string]context.CancelFunc{},
	}, nil
}

// StartWorkflow creates a new workflow for the goal and launches it. Returns
// a conflict error when another workflow already holds the workspace.
func (o *Orchestrator) StartWorkflow(ctx context.Context, goal, workspace string) (*WorkflowRecord, error) {
	if goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	if workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}

	profile, err := o.loadProfile(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	id := NewWorkflowID()
	if !o.registry.Acquire(workspace, id) {
		holder, _ := o.registry.ActiveWorkflow(workspace)
		return nil, NewConflictError("workspace %q is busy with workflow %q", workspace, holder)
	}

	now := time.Now()
	record := &WorkflowRecord{
		ID:         id,
		Goal:       goal,
		Workspace:  workspace,
		ProfileRef: profile.Name,
		Status:     WorkflowStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.workflows.CreateWorkflow(ctx, record); err != nil {
		o.registry.Release(workspace, id)
		return nil, err
	}

	o.launch(record, profile, func(execCtx context.Context, execution *Execution) error {
		return execution.Run(execCtx)
	})
	return record.Copy(), nil
}

// SupplyApproval records a human approval decision for a blocked workflow
// and relaunches it. Approval and denial share the relaunch path: the
// execution resumes at the approval gate and routes on the stored decision.
func (o *Orchestrator) SupplyApproval(ctx context.Context, id string, approved bool) error {
	record, err := o.workflows.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != WorkflowStatusBlocked {
		return NewConflictError("workflow %q is not awaiting approval (status %q)", id, record.Status)
	}

	cp, err := o.checkpointer.LoadCheckpoint(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return NewConflictError("workflow %q has no checkpoint", id)
	}

	// Persist the decision before unblocking, so a crash after this point
	// still resumes with the decision intact.
	decision := approved
	cp.HumanApproved = &decision
	cp.UpdatedAt = time.Now()
	if err := o.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if !o.registry.Acquire(record.Workspace, id) {
		holder, _ := o.registry.ActiveWorkflow(record.Workspace)
		return NewConflictError("workspace %q is busy with workflow %q", record.Workspace, holder)
	}

	updated, err := o.workflows.UpdateWorkflow(ctx, id, func(r *WorkflowRecord) error {
		if !r.Status.CanTransitionTo(WorkflowStatusInProgress) {
			return NewConflictError("cannot unblock workflow in status %q", r.Status)
		}
		r.Status = WorkflowStatusInProgress
		return nil
	})
	if err != nil {
		o.registry.Release(record.Workspace, id)
		return err
	}

	profile, err := o.loadProfile(updated.Workspace)
	if err != nil {
		o.registry.Release(record.Workspace, id)
		return fmt.Errorf("failed to load profile: %w", err)
	}

	o.launch(updated, profile, func(execCtx context.Context, execution *Execution) error {
		return execution.Resume(execCtx)
	})
	return nil
}

// launch runs an execution on its own goroutine. The workspace claim is
// released when the execution returns, whatever the outcome.
func (o *Orchestrator) launch(record *WorkflowRecord, profile *Profile, run func(context.Context, *Execution) error) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mutex.Lock()
	o.cancels[record.ID] = cancel
	o.mutex.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.registry.Release(record.Workspace, record.ID)
		defer func() {
			o.mutex.Lock()
			delete(o.cancels, record.ID)
			o.mutex.Unlock()
			cancel()
		}()

		execution, err := NewExecution(ExecutionOptions{
			Record:         record,
			Profile:        profile,
			Planner:        o.collaborators.Planner,
			Producer:       o.collaborators.Producer,
			Reviewer:       o.collaborators.Reviewer,
			Committer:      o.collaborators.Committer,
			Workflows:      o.workflows,
			Checkpointer:   o.checkpointer,
			Emitter:        o.emitter,
			Logger:         o.logger,
			ApprovalPolicy: o.approvalPolicy(profile),
		})
		if err != nil {
			o.logger.Error("failed to build execution", "workflow_id", record.ID, "error", err)
			return
		}
		if err := run(ctx, execution); err != nil {
			o.logger.Error("execution ended with error", "workflow_id", record.ID, "error", err)
		}
	}()
}

// approvalPolicy compiles the profile's auto-approval script, if any. A
// script that fails to compile is treated as absent so the workflow falls
// back to human approval.
func (o *Orchestrator) approvalPolicy(profile *Profile) *ApprovalPolicy {
	if profile.AutoApprove == "" {
		return nil
	}
	policy, err := CompileApprovalPolicy(context.Background(), profile.AutoApprove)
	if err != nil {
		o.logger.Warn("failed to compile approval policy, requiring human approval",
			"profile", profile.Name, "error", err)
		return nil
	}
	return policy
}

// Cancel stops a running execution. The execution observes the cancellation
// at its next stage boundary and marks the workflow Failed and recoverable.
func (o *Orchestrator) Cancel(id string) bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	cancel, ok := o.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all launched executions have returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
