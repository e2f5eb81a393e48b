package codeflow

import (
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/codeflow/retry"
)

// Error type constants for collaborator failure classification
const (
	// ErrorTypeTransient marks failures worth retrying: network timeouts,
	// rate limits, upstream overload.
	ErrorTypeTransient = "transient"

	// ErrorTypePermanent marks failures that must not be retried: invalid
	// input, auth failures, validation errors.
	ErrorTypePermanent = "permanent"
)

// ErrNotFound indicates the referenced workflow does not exist.
var ErrNotFound = errors.New("workflow not found")

// ConflictError indicates an operation's preconditions were not met. The
// caller's state is left unchanged.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// NewConflictError creates a ConflictError with the given reason.
func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a precondition conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// WorkflowError is a classified collaborator failure. Raw collaborator errors
// never reach the stage executor; they are wrapped here first so routing only
// ever sees the taxonomy.
type WorkflowError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// Transient reports whether the failure is worth retrying.
func (e *WorkflowError) Transient() bool {
	return e.Type == ErrorTypeTransient
}

// NewWorkflowError creates a WorkflowError with an explicit type.
func NewWorkflowError(errorType, cause string) *WorkflowError {
	return &WorkflowError{Type: errorType, Cause: cause}
}

// ClassifyError classifies an error into the transient/permanent taxonomy.
// Errors already carrying a classification keep it; otherwise the retry
// package heuristics decide.
func ClassifyError(err error) *WorkflowError {
	var workflowError *WorkflowError
	if errors.As(err, &workflowError) {
		return workflowError
	}
	errorType := ErrorTypePermanent
	if retry.IsRecoverable(err) {
		errorType = ErrorTypeTransient
	}
	return &WorkflowError{
		Type:    errorType,
		Cause:   err.Error(),
		Wrapped: err,
	}
}
