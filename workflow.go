package codeflow

import (
	"time"
)

// WorkflowStatus represents the lifecycle status of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusBlocked    WorkflowStatus = "blocked"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// statusTransitions is the allow-list of lifecycle transitions. Failed to
// InProgress is only reachable through Orchestrator.Resume, which validates
// the preconditions before applying it.
var statusTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusPending:    {WorkflowStatusInProgress, WorkflowStatusFailed},
	WorkflowStatusInProgress: {WorkflowStatusBlocked, WorkflowStatusCompleted, WorkflowStatusFailed},
	WorkflowStatusBlocked:    {WorkflowStatusInProgress, WorkflowStatusFailed},
	WorkflowStatusCompleted:  {},
	WorkflowStatusFailed:     {WorkflowStatusInProgress},
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is a terminal lifecycle state.
// Failed is terminal for execution purposes but may still be resumed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// WorkflowRecord is the durable record for one workflow instance. The record
// tracks lifecycle status and failure bookkeeping; the execution position
// lives in the checkpoint, keyed by the same ID. CurrentStage is advisory
// only and must never be used to decide where to resume.
type WorkflowRecord struct {
	ID                string         `json:"id"`
	Goal              string         `json:"goal"`
	Workspace         string         `json:"workspace"`
	ProfileRef        string         `json:"profile_ref,omitempty"`
	Status            WorkflowStatus `json:"status"`
	CurrentStage      Stage          `json:"current_stage,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Recoverable       bool           `json:"recoverable,omitempty"`
	ConsecutiveErrors int            `json:"consecutive_errors,omitempty"`
	LastErrorContext  string         `json:"last_error_context,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       time.Time      `json:"completed_at,omitzero"`
}

// Copy returns a copy of the record.
func (r *WorkflowRecord) Copy() *WorkflowRecord {
	c := *r
	return &c
}

// clearFailure resets failure bookkeeping. Called on resume.
func (r *WorkflowRecord) clearFailure() {
	r.FailureReason = ""
	r.Recoverable = false
	r.ConsecutiveErrors = 0
	r.LastErrorContext = ""
	r.CompletedAt = time.Time{}
}

// WorkflowSummary provides a summary view of a workflow for listings.
type WorkflowSummary struct {
	ID            string         `json:"id"`
	Goal          string         `json:"goal"`
	Workspace     string         `json:"workspace"`
	Status        WorkflowStatus `json:"status"`
	CurrentStage  Stage          `json:"current_stage,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Recoverable   bool           `json:"recoverable,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   time.Time      `json:"completed_at,omitzero"`
}

// Summary returns the summary view of the record.
func (r *WorkflowRecord) Summary() *WorkflowSummary {
	return &WorkflowSummary{
		ID:            r.ID,
		Goal:          r.Goal,
		Workspace:     r.Workspace,
		Status:        r.Status,
		CurrentStage:  r.CurrentStage,
		FailureReason: r.FailureReason,
		Recoverable:   r.Recoverable,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}
