package codeflow

import (
	"context"
	"sync"
)

// MemoryCheckpointer keeps checkpoints in process memory. Useful for tests
// and for runs that do not need durability.
type MemoryCheckpointer struct {
	mutex       sync.RWMutex
	checkpoints map[string]*Checkpoint
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: map[string]*Checkpoint{}}
}

func (c *MemoryCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checkpoints[checkpoint.WorkflowID] = checkpoint.Copy()
	return nil
}

func (c *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	checkpoint, ok := c.checkpoints[workflowID]
	if !ok {
		return nil, nil
	}
	return checkpoint.Copy(), nil
}

func (c *MemoryCheckpointer) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.checkpoints, workflowID)
	return nil
}
