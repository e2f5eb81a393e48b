package codeflow

import "context"

// Collaborator contracts. The orchestration core treats each collaborator as
// an opaque asynchronous operation returning a typed result or an error;
// errors are classified by the retry wrapper before the stage executor acts
// on them.

// PlanResult is the output of the planning collaborator.
type PlanResult struct {
	PlanArtifact string
	KeyFiles     []string
}

// Planner produces an implementation plan for a goal.
type Planner interface {
	Plan(ctx context.Context, goal string) (*PlanResult, error)
}

// ProduceResult is the output of the producer collaborator.
type ProduceResult struct {
	ChangeDescription string

	// SessionToken is an opaque continuation handle for a follow-up call.
	// Empty means the collaborator offers no continuation.
	SessionToken string
}

// Producer implements one unit of work. The session token may be empty to
// start a fresh, context-isolated attempt.
type Producer interface {
	Produce(ctx context.Context, instruction, sessionToken string) (*ProduceResult, error)
}

// ReviewOutcome is the output of the reviewer collaborator.
type ReviewOutcome struct {
	Approved     bool
	Comments     string
	Severity     string
	SessionToken string
}

// Reviewer evaluates a produced change-set against its instruction.
type Reviewer interface {
	Review(ctx context.Context, changeDescription, instruction, sessionToken string) (*ReviewOutcome, error)
}

// Committer stages and commits pending workspace changes. Committing nothing
// is not an error: (false, nil) means there was nothing to commit.
type Committer interface {
	Commit(ctx context.Context, workspace, message string) (bool, error)
}

// Function adapters, for tests and lightweight wiring.

type PlannerFunc func(ctx context.Context, goal string) (*PlanResult, error)

func (f PlannerFunc) Plan(ctx context.Context, goal string) (*PlanResult, error) {
	return f(ctx, goal)
}

type ProducerFunc func(ctx context.Context, instruction, sessionToken string) (*ProduceResult, error)

func (f ProducerFunc) Produce(ctx context.Context, instruction, sessionToken string) (*ProduceResult, error) {
	return f(ctx, instruction, sessionToken)
}

type ReviewerFunc func(ctx context.Context, changeDescription, instruction, sessionToken string) (*ReviewOutcome, error)

func (f ReviewerFunc) Review(ctx context.Context, changeDescription, instruction, sessionToken string) (*ReviewOutcome, error) {
	return f(ctx, changeDescription, instruction, sessionToken)
}

type CommitterFunc func(ctx context.Context, workspace, message string) (bool, error)

func (f CommitterFunc) Commit(ctx context.Context, workspace, message string) (bool, error) {
	return f(ctx, workspace, message)
}
