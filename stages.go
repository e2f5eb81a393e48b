package codeflow

// Stage identifies a node of the execution graph. Every workflow moves
// through the same graph: Plan, Validate, Approve, then the Produce/Review
// loop, with NextTask bridging task boundaries in multi-task mode.
type Stage string

const (
	StagePlan     Stage = "plan"
	StageValidate Stage = "validate"
	StageApprove  Stage = "approve"
	StageProduce  Stage = "produce"
	StageReview   Stage = "review"
	StageNextTask Stage = "next_task"
)

// OutcomeKind classifies how a stage handler ended.
type OutcomeKind string

const (
	// OutcomeContinue moves to the next stage.
	OutcomeContinue OutcomeKind = "continue"

	// OutcomeSuspended parks the execution; the workflow is Blocked and a
	// later process picks it up from its checkpoint.
	OutcomeSuspended OutcomeKind = "suspended"

	// OutcomeTerminal ends the workflow with the attached result.
	OutcomeTerminal OutcomeKind = "terminal"
)

// TerminalResult carries the final disposition of a terminal outcome.
type TerminalResult struct {
	Status      WorkflowStatus
	Reason      string
	Recoverable bool
}

// StepOutcome is what a stage handler returns on success.
type StepOutcome struct {
	Kind   OutcomeKind
	Next   Stage
	Result *TerminalResult
}

func continueTo(next Stage) *StepOutcome {
	return &StepOutcome{Kind: OutcomeContinue, Next: next}
}

func suspended() *StepOutcome {
	return &StepOutcome{Kind: OutcomeSuspended}
}

func terminalSuccess() *StepOutcome {
	return &StepOutcome{
		Kind:   OutcomeTerminal,
		Result: &TerminalResult{Status: WorkflowStatusCompleted},
	}
}

func terminalFailure(reason string, recoverable bool) *StepOutcome {
	return &StepOutcome{
		Kind: OutcomeTerminal,
		Result: &TerminalResult{
			Status:      WorkflowStatusFailed,
			Reason:      reason,
			Recoverable: recoverable,
		},
	}
}

// ReviewRoute is the decision taken after a review lands.
type ReviewRoute int

const (
	// RouteSuccess completes the workflow.
	RouteSuccess ReviewRoute = iota

	// RouteNextTask advances to the next task.
	RouteNextTask

	// RouteRetryProduce sends the current unit back to Produce with the
	// reviewer's feedback.
	RouteRetryProduce

	// RouteFailure fails the workflow with review iterations exhausted.
	RouteFailure
)

func (r ReviewRoute) String() string {
	switch r {
	case RouteSuccess:
		return "success"
	case RouteNextTask:
		return "next_task"
	case RouteRetryProduce:
		return "retry_produce"
	case RouteFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// routeAfterReview decides the transition out of the Review stage from
// checkpointed state alone. In task mode an approved review either advances
// to the next task or, on the last task, completes the workflow; a rejection
// retries the current task until its iteration budget runs out. Single-unit
// mode is the same loop without task boundaries.
func routeAfterReview(cp *Checkpoint, maxReviewIterations, maxTaskReviewIterations int) ReviewRoute {
	approved := cp.LastReview != nil && cp.LastReview.Approved

	if cp.TotalTasks != nil {
		if approved {
			if cp.CurrentTaskIndex+1 < *cp.TotalTasks {
				return RouteNextTask
			}
			return RouteSuccess
		}
		if cp.TaskReviewIteration < maxTaskReviewIterations {
			return RouteRetryProduce
		}
		return RouteFailure
	}

	if approved {
		return RouteSuccess
	}
	if cp.ReviewIteration < maxReviewIterations {
		return RouteRetryProduce
	}
	return RouteFailure
}
