package codeflow

import (
	"context"
	"fmt"
	"time"
)

// RecoverInterrupted reconciles workflow records with reality after a
// process restart. Any workflow still marked InProgress was interrupted
// mid-execution: its process died, so it is moved to Failed and flagged
// recoverable, leaving the last checkpoint intact for resume. Blocked
// workflows are still validly waiting on a human; their approval request is
// re-announced so a fresh listener hears it, but the records are untouched.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) error {
	records, err := o.workflows.ListWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	var interrupted, blocked int
	for _, record := range records {
		switch record.Status {
		case WorkflowStatusInProgress:
			now := time.Now()
			if _, err := o.workflows.UpdateWorkflow(ctx, record.ID, func(r *WorkflowRecord) error {
				if r.Status != WorkflowStatusInProgress {
					return nil
				}
				r.Status = WorkflowStatusFailed
				r.FailureReason = "process restarted mid-execution"
				r.Recoverable = true
				r.CompletedAt = now
				return nil
			}); err != nil {
				o.logger.Error("failed to mark interrupted workflow", "workflow_id", record.ID, "error", err)
				continue
			}
			o.emitter.Emit(ctx, Event{
				Type:       EventWorkflowFailed,
				WorkflowID: record.ID,
				Timestamp:  time.Now(),
				Payload: map[string]any{
					"reason":      "process restarted mid-execution",
					"recoverable": true,
				},
			})
			interrupted++
		case WorkflowStatusBlocked:
			o.emitter.Emit(ctx, Event{
				Type:       EventApprovalRequired,
				WorkflowID: record.ID,
				Timestamp:  time.Now(),
			})
			blocked++
		}
	}

	o.logger.Info("workflow recovery sweep complete",
		"interrupted", interrupted, "awaiting_approval", blocked)
	return nil
}

// Resume restarts a failed workflow from its last checkpoint. Preconditions
// are checked in order: the workflow must exist, must be Failed, must have a
// checkpoint, and its workspace must be free. Precondition failures leave
// the record unchanged.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	record, err := o.workflows.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != WorkflowStatusFailed {
		return NewConflictError("workflow %q is not failed (status %q)", id, record.Status)
	}

	cp, err := o.checkpointer.LoadCheckpoint(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return NewConflictError("workflow %q is not resumable: no checkpoint", id)
	}

	if !o.registry.Acquire(record.Workspace, id) {
		holder, _ := o.registry.ActiveWorkflow(record.Workspace)
		return NewConflictError("workspace %q is busy with workflow %q", record.Workspace, holder)
	}

	updated, err := o.workflows.UpdateWorkflow(ctx, id, func(r *WorkflowRecord) error {
		if !r.Status.CanTransitionTo(WorkflowStatusInProgress) {
			return NewConflictError("cannot resume workflow in status %q", r.Status)
		}
		r.Status = WorkflowStatusInProgress
		r.clearFailure()
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

	o.emitter.Emit(ctx, Event{
		Type:       EventWorkflowStarted,
		WorkflowID: id,
		Timestamp:  time.Now(),
		Payload:    map[string]any{"resumed": true},
	})
	o.launch(updated, profile, func(execCtx context.Context, execution *Execution) error {
		return execution.Resume(execCtx)
	})
	return nil
}
