package codeflow

import (
	"sync"
	"time"
)

// ExecutionState is the mutable payload threaded through the stage graph.
// It is exclusively owned by one Execution during a run and snapshotted into
// the checkpoint store after every stage transition.
//
// Two invariants are enforced here rather than in callers: the review
// iteration counters are only ever incremented by RecordReview, and the
// task-advance triple (index, task review iteration, session token) is only
// ever changed together by AdvanceTask.
type ExecutionState struct {
	mutex sync.RWMutex

	workflowID          string
	stage               Stage
	goal                string
	planArtifact        string
	keyFiles            []string
	humanApproved       *bool
	totalTasks          *int
	currentTaskIndex    int
	taskReviewIteration int
	reviewIteration     int
	lastReview          *ReviewResult
	sessionToken        string
	lastChange          string
}

// newExecutionState creates state for a fresh run, positioned at Plan.
func newExecutionState(workflowID, goal string) *ExecutionState {
	return &ExecutionState{
		workflowID: workflowID,
		goal:       goal,
		stage:      StagePlan,
	}
}

// WorkflowID returns the owning workflow's ID.
func (s *ExecutionState) WorkflowID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.workflowID
}

// Stage returns the current graph position.
func (s *ExecutionState) Stage() Stage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.stage
}

// SetStage moves the graph position.
func (s *ExecutionState) SetStage(stage Stage) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stage = stage
}

// Goal returns the workflow goal.
func (s *ExecutionState) Goal() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.goal
}

// SetPlan records the planning outputs.
func (s *ExecutionState) SetPlan(planArtifact string, keyFiles []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.planArtifact = planArtifact
	s.keyFiles = append([]string(nil), keyFiles...)
}

// PlanArtifact returns the plan artifact produced by the planner.
func (s *ExecutionState) PlanArtifact() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.planArtifact
}

// SetTotalTasks records the task count derived from the plan. A nil value
// means single-unit mode: the task loop never fires.
func (s *ExecutionState) SetTotalTasks(totalTasks *int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.totalTasks = totalTasks
}

// TaskMode reports whether the run is in multi-task mode.
func (s *ExecutionState) TaskMode() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.totalTasks != nil
}

// CurrentTaskIndex returns the 0-indexed current task.
func (s *ExecutionState) CurrentTaskIndex() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.currentTaskIndex
}

// TaskReviewIteration returns the review attempts on the current task.
func (s *ExecutionState) TaskReviewIteration() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.taskReviewIteration
}

// HumanApproved returns the approval decision: nil while undecided.
func (s *ExecutionState) HumanApproved() *bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.humanApproved == nil {
		return nil
	}
	v := *s.humanApproved
	return &v
}

// SetHumanApproved records the approval decision.
func (s *ExecutionState) SetHumanApproved(approved bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.humanApproved = &approved
}

// SessionToken returns the producer continuation handle, empty for a fresh
// context.
func (s *ExecutionState) SessionToken() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.sessionToken
}

// SetSessionToken stores the continuation handle returned by a collaborator.
func (s *ExecutionState) SetSessionToken(token string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessionToken = token
}

// SetLastChange stores the change description produced by the producer.
func (s *ExecutionState) SetLastChange(change string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastChange = change
}

// LastChange returns the change description from the most recent Produce.
func (s *ExecutionState) LastChange() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastChange
}

// LastReview returns the most recent review result, nil if none.
func (s *ExecutionState) LastReview() *ReviewResult {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.lastReview == nil {
		return nil
	}
	v := *s.lastReview
	return &v
}

// RecordReview stores a review result and increments the iteration counter
// appropriate to the mode: taskReviewIteration in task mode, reviewIteration
// in single-unit mode. This is the only code path that increments either.
func (s *ExecutionState) RecordReview(result *ReviewResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastReview = result
	if s.totalTasks != nil {
		s.taskReviewIteration++
	} else {
		s.reviewIteration++
	}
}

// AdvanceTask applies the task-boundary reset atomically: the task index
// increments, the per-task review counter returns to zero, and the session
// token clears so the next Produce starts from a fresh context. This is the
// only code path that writes these three fields together.
func (s *ExecutionState) AdvanceTask() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.currentTaskIndex++
	s.taskReviewIteration = 0
	s.sessionToken = ""
}

// Snapshot captures the state as an immutable checkpoint.
func (s *ExecutionState) Snapshot() *Checkpoint {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cp := &Checkpoint{
		WorkflowID:          s.workflowID,
		Stage:               s.stage,
		Goal:                s.goal,
		PlanArtifact:        s.planArtifact,
		KeyFiles:            append([]string(nil), s.keyFiles...),
		CurrentTaskIndex:    s.currentTaskIndex,
		TaskReviewIteration: s.taskReviewIteration,
		ReviewIteration:     s.reviewIteration,
		SessionToken:        s.sessionToken,
		LastChange:          s.lastChange,
		UpdatedAt:           time.Now(),
	}
	if s.humanApproved != nil {
		v := *s.humanApproved
		cp.HumanApproved = &v
	}
	if s.totalTasks != nil {
		v := *s.totalTasks
		cp.TotalTasks = &v
	}
	if s.lastReview != nil {
		v := *s.lastReview
		cp.LastReview = &v
	}
	return cp
}

// Restore loads the state from a checkpoint.
func (s *ExecutionState) Restore(cp *Checkpoint) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workflowID = cp.WorkflowID
	s.stage = cp.Stage
	s.goal = cp.Goal
	s.planArtifact = cp.PlanArtifact
	s.keyFiles = append([]string(nil), cp.KeyFiles...)
	s.currentTaskIndex = cp.CurrentTaskIndex
	s.taskReviewIteration = cp.TaskReviewIteration
	s.reviewIteration = cp.ReviewIteration
	s.sessionToken = cp.SessionToken
	s.lastChange = cp.LastChange
	s.humanApproved = nil
	if cp.HumanApproved != nil {
		v := *cp.HumanApproved
		s.humanApproved = &v
	}
	s.totalTasks = nil
	if cp.TotalTasks != nil {
		v := *cp.TotalTasks
		s.totalTasks = &v
	}
	s.lastReview = nil
	if cp.LastReview != nil {
		v := *cp.LastReview
		s.lastReview = &v
	}
}
