package codeflow

import (
	"context"
)

// Checkpointer persists execution checkpoints keyed by workflow ID.
// Implementations must make SaveCheckpoint atomic per key: a concurrent
// LoadCheckpoint observes either the previous or the new snapshot, never a
// partial write.
type Checkpointer interface {
	// SaveCheckpoint stores the checkpoint, replacing any previous one for
	// the same workflow.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the live checkpoint for a workflow, or
	// (nil, nil) when none exists.
	LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for a workflow.
	DeleteCheckpoint(ctx context.Context, workflowID string) error
}
