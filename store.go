package codeflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WorkflowStore is the durable table of workflow records, keyed by ID.
// UpdateWorkflow is the only mutation path for existing records and must be
// atomic per key: the read, the update function, and the write happen as one
// operation with respect to other callers. No implementation may hold a lock
// across a collaborator call; the executor only uses short read-modify-write
// sections.
type WorkflowStore interface {
	// CreateWorkflow inserts a new record. Fails if the ID already exists.
	CreateWorkflow(ctx context.Context, record *WorkflowRecord) error

	// GetWorkflow returns the record, or ErrNotFound.
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)

	// UpdateWorkflow applies update atomically to the record and returns the
	// result. An error from update aborts the write and is returned as-is.
	UpdateWorkflow(ctx context.Context, id string, update func(*WorkflowRecord) error) (*WorkflowRecord, error)

	// ListWorkflows returns all records ordered by creation time, newest
	// first.
	ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error)
}

// MemoryWorkflowStore is an in-memory WorkflowStore.
type MemoryWorkflowStore struct {
	mutex   sync.Mutex
	records map[string]*WorkflowRecord
}

func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{records: map[string]*WorkflowRecord{}}
}

func (s *MemoryWorkflowStore) CreateWorkflow(ctx context.Context, record *WorkflowRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return NewConflictError("workflow %q already exists", record.ID)
	}
	s.records[record.ID] = record.Copy()
	return nil
}

func (s *MemoryWorkflowStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Copy(), nil
}

func (s *MemoryWorkflowStore) UpdateWorkflow(ctx context.Context, id string, update func(*WorkflowRecord) error) (*WorkflowRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := record.Copy()
	if err := update(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now()
	s.records[id] = updated
	return updated.Copy(), nil
}

func (s *MemoryWorkflowStore) ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	records := make([]*WorkflowRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Copy())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
