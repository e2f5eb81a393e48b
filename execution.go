package codeflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/codeflow/retry"
)

// ExecutionOptions configures a new execution.
type ExecutionOptions struct {
	Record         *WorkflowRecord
	Profile        *Profile
	Planner        Planner
	Producer       Producer
	Reviewer       Reviewer
	Committer      Committer
	Workflows      WorkflowStore
	Checkpointer   Checkpointer
	Emitter        Emitter
	Logger         *slog.Logger
	ApprovalPolicy *ApprovalPolicy
}

// Execution drives a single workflow through the stage graph, checkpointing
// after every stage transition. An execution ends in one of three ways: the
// workflow reaches a terminal status, it suspends waiting for human
// approval, or an unclassifiable failure marks it Failed.
type Execution struct {
	record         *WorkflowRecord
	profile        *Profile
	state          *ExecutionState
	planner        Planner
	producer       Producer
	reviewer       Reviewer
	committer      Committer
	workflows      WorkflowStore
	checkpointer   Checkpointer
	emitter        Emitter
	logger         *slog.Logger
	approvalPolicy *ApprovalPolicy
	retryPolicy    retry.Policy

	mutex   sync.Mutex
	started bool
}

// NewExecution creates an execution for the given workflow record.
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.Record == nil {
		return nil, fmt.Errorf("workflow record is required")
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if opts.Producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if opts.Reviewer == nil {
		return nil, fmt.Errorf("reviewer is required")
	}
	if opts.Workflows == nil {
		return nil, fmt.Errorf("workflow store is required")
	}
	if opts.Profile == nil {
		opts.Profile = DefaultProfile()
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.Emitter == nil {
		opts.Emitter = &NullEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Execution{
		record:         opts.Record,
		profile:        opts.Profile,
		state:          newExecutionState(opts.Record.ID, opts.Record.Goal),
		planner:        opts.Planner,
		producer:       opts.Producer,
		reviewer:       opts.Reviewer,
		committer:      opts.Committer,
		workflows:      opts.Workflows,
		checkpointer:   opts.Checkpointer,
		emitter:        opts.Emitter,
		logger:         opts.Logger.With("workflow_id", opts.Record.ID),
		approvalPolicy: opts.ApprovalPolicy,
		retryPolicy:    opts.Profile.Retry.Policy(),
	}, nil
}

// ID returns the workflow ID this execution drives.
func (e *Execution) ID() string {
	return e.record.ID
}

func (e *Execution) start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.started {
		return fmt.Errorf("execution already started")
	}
	e.started = true
	return nil
}

// Run starts a fresh execution from the Plan stage.
func (e *Execution) Run(ctx context.Context) error {
	if err := e.start(); err != nil {
		return err
	}
	if _, err := e.workflows.UpdateWorkflow(ctx, e.record.ID, func(r *WorkflowRecord) error {
		if !r.Status.CanTransitionTo(WorkflowStatusInProgress) {
			return NewConflictError("cannot start workflow in status %q", r.Status)
		}
		r.Status = WorkflowStatusInProgress
		r.CurrentStage = StagePlan
		return nil
	}); err != nil {
		return err
	}
	e.emit(ctx, EventWorkflowStarted, nil)
	return e.run(ctx)
}

// Resume continues a workflow from its persisted checkpoint. The caller has
// already verified the resume preconditions and moved the record back to
// InProgress.
func (e *Execution) Resume(ctx context.Context) error {
	if err := e.start(); err != nil {
		return err
	}
	cp, err := e.checkpointer.LoadCheckpoint(ctx, e.record.ID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return NewConflictError("workflow %q has no checkpoint to resume from", e.record.ID)
	}
	e.state.Restore(cp)
	e.logger.Info("resuming workflow from checkpoint", "stage", cp.Stage)
	return e.run(ctx)
}

// run loops over the stage graph until a terminal outcome or suspension.
func (e *Execution) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return e.failWorkflow(ctx, "cancelled", true)
		}

		stage := e.state.Stage()
		e.emitStage(ctx, EventStageStarted, stage, map[string]any{"stage": string(stage)})

		outcome, err := e.step(ctx, stage)
		if err != nil {
			return e.handleStepError(ctx, stage, err)
		}

		if outcome.Kind == OutcomeSuspended {
			// runApprove persisted the checkpoint and blocked the record
			// before announcing the approval request.
			e.logger.Info("workflow suspended awaiting approval")
			return nil
		}

		// The position advances before the checkpoint is written: a snapshot
		// taken after a completed stage must resume at the next one, never
		// replay the work that produced it.
		switch outcome.Kind {
		case OutcomeContinue:
			e.state.SetStage(outcome.Next)
			if _, err := e.workflows.UpdateWorkflow(ctx, e.record.ID, func(r *WorkflowRecord) error {
				r.CurrentStage = outcome.Next
				return nil
			}); err != nil {
				return err
			}
		case OutcomeTerminal:
		default:
			return fmt.Errorf("unknown outcome kind %q", outcome.Kind)
		}

		if err := e.saveCheckpoint(ctx); err != nil {
			e.logger.Error("failed to save checkpoint", "stage", stage, "error", err)
			return e.failWorkflow(ctx, fmt.Sprintf("checkpoint save failed at stage %s", stage), true)
		}
		e.emitStage(ctx, EventStageCompleted, stage, map[string]any{"stage": string(stage)})

		if outcome.Kind == OutcomeTerminal {
			return e.finish(ctx, outcome.Result)
		}
	}
}

// step dispatches one stage. The switch is exhaustive over the stage graph.
func (e *Execution) step(ctx context.Context, stage Stage) (*StepOutcome, error) {
	switch stage {
	case StagePlan:
		return e.runPlan(ctx)
	case StageValidate:
		return e.runValidate(ctx)
	case StageApprove:
		return e.runApprove(ctx)
	case StageProduce:
		return e.runProduce(ctx)
	case StageReview:
		return e.runReview(ctx)
	case StageNextTask:
		return e.runNextTask(ctx)
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

func (e *Execution) runPlan(ctx context.Context) (*StepOutcome, error) {
	result, err := retry.DoValue(ctx, e.retryPolicy, func(ctx context.Context) (*PlanResult, error) {
		return e.planner.Plan(ctx, e.state.Goal())
	})
	if err != nil {
		return nil, err
	}
	e.state.SetPlan(result.PlanArtifact, result.KeyFiles)
	e.logger.Info("plan produced", "key_files", len(result.KeyFiles))
	return continueTo(StageValidate), nil
}

func (e *Execution) runValidate(ctx context.Context) (*StepOutcome, error) {
	totalTasks := DeriveTotalTasks(e.state.PlanArtifact())
	e.state.SetTotalTasks(totalTasks)
	if totalTasks != nil {
		e.logger.Info("plan validated", "total_tasks", *totalTasks)
	} else {
		e.logger.Info("plan validated", "total_tasks", "none")
	}
	return continueTo(StageApprove), nil
}

func (e *Execution) runApprove(ctx context.Context) (*StepOutcome, error) {
	approved := e.state.HumanApproved()

	if approved == nil && e.approvalPolicy != nil {
		ok, err := e.approvalPolicy.Evaluate(ctx, e.state.Snapshot())
		if err != nil {
			e.logger.Warn("approval policy evaluation failed", "error", err)
		} else if ok {
			e.logger.Info("approval granted by policy")
			e.state.SetHumanApproved(true)
			approved = e.state.HumanApproved()
		}
	}

	if approved == nil {
		// Persist the pending decision before anyone is told about it, so a
		// crash between the two cannot lose an announced approval request.
		if err := e.saveCheckpoint(ctx); err != nil {
			return nil, err
		}
		if _, err := e.workflows.UpdateWorkflow(ctx, e.record.ID, func(r *WorkflowRecord) error {
			if !r.Status.CanTransitionTo(WorkflowStatusBlocked) {
				return NewConflictError("cannot block workflow in status %q", r.Status)
			}
			r.Status = WorkflowStatusBlocked
			return nil
		}); err != nil {
			return nil, err
		}
		e.emit(ctx, EventApprovalRequired, map[string]any{"plan": e.state.PlanArtifact()})
		return suspended(), nil
	}

	if !*approved {
		return terminalFailure("plan rejected by approver", false), nil
	}
	e.emit(ctx, EventApprovalGranted, nil)
	return continueTo(StageProduce), nil
}

func (e *Execution) runProduce(ctx context.Context) (*StepOutcome, error) {
	instruction := e.produceInstruction()

	if e.state.TaskMode() && e.state.TaskReviewIteration() == 0 {
		e.emitStage(ctx, EventTaskStarted, StageProduce, map[string]any{"task_index": e.state.CurrentTaskIndex()})
	}

	result, err := retry.DoValue(ctx, e.retryPolicy, func(ctx context.Context) (*ProduceResult, error) {
		return e.producer.Produce(ctx, instruction, e.state.SessionToken())
	})
	if err != nil {
		return nil, err
	}
	e.state.SetSessionToken(result.SessionToken)
	e.state.SetLastChange(result.ChangeDescription)
	return continueTo(StageReview), nil
}

// produceInstruction builds the producer prompt. In task mode the
// instruction scopes the producer to the current task within the plan; the
// reviewer later judges the change against this same instruction.
func (e *Execution) produceInstruction() string {
	if e.state.TaskMode() {
		instruction := fmt.Sprintf("Implement task %d of the following plan. Do not work ahead on later tasks.\n\nGoal: %s\n\nPlan:\n%s",
			e.state.CurrentTaskIndex()+1, e.state.Goal(), e.state.PlanArtifact())
		if review := e.state.LastReview(); review != nil && !review.Approved {
			instruction += fmt.Sprintf("\n\nA previous attempt was rejected in review. Address this feedback:\n%s", review.Comments)
		}
		return instruction
	}
	instruction := fmt.Sprintf("Implement the following plan in full.\n\nGoal: %s\n\nPlan:\n%s",
		e.state.Goal(), e.state.PlanArtifact())
	if review := e.state.LastReview(); review != nil && !review.Approved {
		instruction += fmt.Sprintf("\n\nA previous attempt was rejected in review. Address this feedback:\n%s", review.Comments)
	}
	return instruction
}

func (e *Execution) runReview(ctx context.Context) (*StepOutcome, error) {
	instruction := e.produceInstruction()
	outcome, err := retry.DoValue(ctx, e.retryPolicy, func(ctx context.Context) (*ReviewOutcome, error) {
		return e.reviewer.Review(ctx, e.state.LastChange(), instruction, e.state.SessionToken())
	})
	if err != nil {
		return nil, err
	}
	e.state.RecordReview(&ReviewResult{
		Approved: outcome.Approved,
		Comments: outcome.Comments,
		Severity: outcome.Severity,
	})

	route := routeAfterReview(e.state.Snapshot(), e.profile.MaxReviewIterations, e.profile.MaxTaskReviewIterations)
	e.logger.Info("review recorded", "approved", outcome.Approved, "route", route.String())

	switch route {
	case RouteSuccess:
		if e.state.TaskMode() {
			e.emitStage(ctx, EventTaskCompleted, StageReview, map[string]any{"task_index": e.state.CurrentTaskIndex()})
		}
		return terminalSuccess(), nil
	case RouteNextTask:
		e.emitStage(ctx, EventTaskCompleted, StageReview, map[string]any{"task_index": e.state.CurrentTaskIndex()})
		return continueTo(StageNextTask), nil
	case RouteRetryProduce:
		return continueTo(StageProduce), nil
	case RouteFailure:
		if e.state.TaskMode() {
			e.emitStage(ctx, EventTaskFailed, StageReview, map[string]any{"task_index": e.state.CurrentTaskIndex()})
		}
		// The failure checkpoint points back at Produce so a resume
		// re-attempts the frozen unit instead of re-judging the rejected
		// change.
		e.state.SetStage(StageProduce)
		return terminalFailure("review iterations exhausted", true), nil
	default:
		return nil, fmt.Errorf("unknown review route %q", route)
	}
}

func (e *Execution) runNextTask(ctx context.Context) (*StepOutcome, error) {
	if e.committer != nil {
		message := fmt.Sprintf("Complete task %d: %s", e.state.CurrentTaskIndex()+1, e.state.Goal())
		committed, err := e.committer.Commit(ctx, e.record.Workspace, message)
		if err != nil {
			// Commit failures do not sink the workflow; the change survives
			// in the workspace and the next commit picks it up.
			e.logger.Warn("task commit failed", "error", err)
		} else if committed {
			e.logger.Info("task committed", "task_index", e.state.CurrentTaskIndex())
		}
	}
	e.state.AdvanceTask()
	return continueTo(StageProduce), nil
}

// handleStepError classifies a collaborator failure and marks the workflow
// Failed. Transient exhaustion stays recoverable; permanent errors do not.
func (e *Execution) handleStepError(ctx context.Context, stage Stage, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return e.failWorkflow(ctx, "cancelled", true)
	}
	classified := ClassifyError(err)
	e.logger.Error("stage failed", "stage", stage, "type", classified.Type, "error", err)

	if _, updateErr := e.workflows.UpdateWorkflow(ctx, e.record.ID, func(r *WorkflowRecord) error {
		r.ConsecutiveErrors++
		r.LastErrorContext = string(stage)
		return nil
	}); updateErr != nil {
		e.logger.Error("failed to record error context", "error", updateErr)
	}
	return e.failWorkflow(ctx, err.Error(), classified.Transient())
}

// failWorkflow moves the record to Failed and emits the failure event. The
// checkpoint is left in place so a recoverable failure can resume.
func (e *Execution) failWorkflow(ctx context.Context, reason string, recoverable bool) error {
	// The failure must be recorded even when the cause is the context
	// being cancelled.
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	if _, err := e.workflows.UpdateWorkflow(ctx, e.record.ID, func(r *WorkflowRecord) error {
		if !r.Status.CanTransitionTo(WorkflowStatusFailed) {
			return NewConflictError("cannot fail workflow in status %q", r.Status)
		}
		r.Status = WorkflowStatusFailed
		r.FailureReason = reason
		r.Recoverable = recoverable
		r.CompletedAt = now
		return nil
	}); err != nil {
		return err
	}
	if err := e.saveCheckpoint(ctx); err != nil {
		e.logger.Error("failed to save checkpoint after failure", "error", err)
	}
	e.emit(ctx, EventWorkflowFailed, map[string]any{
		"reason":      reason,
		"recoverable": recoverable,
	})
	return fmt.Errorf("workflow failed: %s", reason)
}

// finish applies a terminal outcome to the workflow record.
func (e *Execution) finish(ctx context.Context, result *TerminalResult) error {
	if result.Status == WorkflowStatusFailed {
		return e.failWorkflow(ctx, result.Reason, result.Recoverable)
	}

	now := time.Now()
	if _, err := e.workflows.UpdateWorkflow(ctx, e.record.ID, func(r *WorkflowRecord) error {
		if !r.Status.CanTransitionTo(WorkflowStatusCompleted) {
			return NewConflictError("cannot complete workflow in status %q", r.Status)
		}
		r.Status = WorkflowStatusCompleted
		r.CompletedAt = now
		return nil
	}); err != nil {
		return err
	}
	if e.committer != nil {
		message := fmt.Sprintf("Complete workflow: %s", e.state.Goal())
		if _, err := e.committer.Commit(ctx, e.record.Workspace, message); err != nil {
			e.logger.Warn("final commit failed", "error", err)
		}
	}
	if err := e.saveCheckpoint(ctx); err != nil {
		e.logger.Error("failed to save final checkpoint", "error", err)
	}
	e.emit(ctx, EventWorkflowCompleted, nil)
	e.logger.Info("workflow completed")
	return nil
}

func (e *Execution) saveCheckpoint(ctx context.Context) error {
	return e.checkpointer.SaveCheckpoint(ctx, e.state.Snapshot())
}

func (e *Execution) emit(ctx context.Context, eventType EventType, payload map[string]any) {
	e.emitter.Emit(ctx, Event{
		Type:       eventType,
		WorkflowID: e.record.ID,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}

// agentLabels attributes events to the collaborator driving each stage.
// Stages with no collaborator carry no label.
var agentLabels = map[Stage]string{
	StagePlan:     "planner",
	StageProduce:  "producer",
	StageReview:   "reviewer",
	StageNextTask: "committer",
}

func (e *Execution) emitStage(ctx context.Context, eventType EventType, stage Stage, payload map[string]any) {
	e.emitter.Emit(ctx, Event{
		Type:       eventType,
		WorkflowID: e.record.ID,
		Timestamp:  time.Now(),
		AgentLabel: agentLabels[stage],
		Payload:    payload,
	})
}
