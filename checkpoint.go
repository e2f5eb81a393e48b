package codeflow

import "time"

// ReviewResult is the outcome of one reviewer pass.
type ReviewResult struct {
	Approved bool   `json:"approved"`
	Comments string `json:"comments,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Checkpoint is the durable snapshot of execution position for one workflow,
// keyed by workflow ID. There is at most one live checkpoint per workflow;
// saving replaces the previous one. Loading a checkpoint and resuming must
// reproduce the same next-transition decision the original run would have
// made, so every field that routing reads is here.
type Checkpoint struct {
	WorkflowID          string        `json:"workflow_id"`
	Stage               Stage         `json:"stage"`
	Goal                string        `json:"goal"`
	PlanArtifact        string        `json:"plan_artifact,omitempty"`
	KeyFiles            []string      `json:"key_files,omitempty"`
	HumanApproved       *bool         `json:"human_approved,omitempty"`
	TotalTasks          *int          `json:"total_tasks,omitempty"`
	CurrentTaskIndex    int           `json:"current_task_index"`
	TaskReviewIteration int           `json:"task_review_iteration"`
	ReviewIteration     int           `json:"review_iteration"`
	LastReview          *ReviewResult `json:"last_review,omitempty"`
	SessionToken        string        `json:"session_token,omitempty"`
	LastChange          string        `json:"last_change,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	cp := *c
	if c.HumanApproved != nil {
		v := *c.HumanApproved
		cp.HumanApproved = &v
	}
	if c.TotalTasks != nil {
		v := *c.TotalTasks
		cp.TotalTasks = &v
	}
	if c.LastReview != nil {
		v := *c.LastReview
		cp.LastReview = &v
	}
	if c.KeyFiles != nil {
		cp.KeyFiles = append([]string(nil), c.KeyFiles...)
	}
	return &cp
}
