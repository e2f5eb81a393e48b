package codeflow

import "sync"

// WorkspaceRegistry enforces mutual exclusion per target workspace: at most
// one active execution may hold a workspace at a time. The registry is
// advisory, process-local state. It is rebuilt empty on every process start
// and never persisted, which is why resume re-validates exclusivity instead
// of trusting stale registry contents.
type WorkspaceRegistry struct {
	mutex  sync.Mutex
	active map[string]string // workspace -> workflow id
}

func NewWorkspaceRegistry() *WorkspaceRegistry {
	return &WorkspaceRegistry{active: map[string]string{}}
}

// Acquire claims the workspace for a workflow with insert-if-absent
// semantics. Re-acquiring a workspace already held by the same workflow
// succeeds.
func (r *WorkspaceRegistry) Acquire(workspace, workflowID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if holder, exists := r.active[workspace]; exists {
		return holder == workflowID
	}
	r.active[workspace] = workflowID
	return true
}

// Release frees the workspace if it is held by the given workflow.
func (r *WorkspaceRegistry) Release(workspace, workflowID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if holder, exists := r.active[workspace]; exists && holder == workflowID {
		delete(r.active, workspace)
	}
}

// ActiveWorkflow returns the workflow currently holding the workspace.
func (r *WorkspaceRegistry) ActiveWorkflow(workspace string) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	holder, exists := r.active[workspace]
	return holder, exists
}
