package codeflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileCheckpointer persists checkpoints as JSON files on disk, one file per
// workflow. Writes go through a temp file and rename so a crash mid-write
// never leaves a torn checkpoint behind.
type FileCheckpointer struct {
	dataDir string
}

// NewFileCheckpointer creates a file-based checkpointer rooted at dataDir.
// An empty dataDir defaults to ~/.codeflow/checkpoints.
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".codeflow", "checkpoints")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointer{dataDir: dataDir}, nil
}

func (c *FileCheckpointer) checkpointPath(workflowID string) string {
	return filepath.Join(c.dataDir, workflowID+".json")
}

// SaveCheckpoint writes the checkpoint, replacing any previous one.
func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	if checkpoint.WorkflowID == "" {
		return fmt.Errorf("checkpoint workflow id is required")
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	finalPath := c.checkpointPath(checkpoint.WorkflowID)
	tmpFile, err := os.CreateTemp(c.dataDir, checkpoint.WorkflowID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the live checkpoint for a workflow, returning
// (nil, nil) when no checkpoint exists.
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	data, err := os.ReadFile(c.checkpointPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint for a workflow.
func (c *FileCheckpointer) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	if err := os.Remove(c.checkpointPath(workflowID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}
