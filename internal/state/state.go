package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/workflow"
)

// MemoryStore keeps execution state in process. It backs tests and
// single-node deployments; the database package provides the durable
// implementation behind the same interface.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*workflow.WorkflowExecution
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{execs: make(map[string]*workflow.WorkflowExecution)}
}

// CreateExecution stores a new execution.
func (s *MemoryStore) CreateExecution(ctx context.Context, exec *workflow.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; ok {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	s.execs[exec.ID] = cloneExecution(exec)
	return nil
}

// GetExecution returns a copy of the stored execution.
func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	return cloneExecution(exec), nil
}

// UpdateExecutionStatus records a status transition.
func (s *MemoryStore) UpdateExecutionStatus(ctx context.Context, executionID string, status workflow.ExecutionStatus, execErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	exec.Status = status
	exec.Error = execErr
	if status.Terminal() && exec.CompletedAt == nil {
		now := time.Now().UTC()
		exec.CompletedAt = &now
	}
	return nil
}

// UpdateStepStatus records a step transition and its output.
func (s *MemoryStore) UpdateStepStatus(ctx context.Context, executionID, stepID string, status workflow.StepStatus, output map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	exec.StepStatuses[stepID] = status
	if output != nil {
		exec.StepOutputs[stepID] = output
	}
	return nil
}

// ListExecutions returns stored executions, optionally filtered by
// workflow id.
func (s *MemoryStore) ListExecutions(ctx context.Context, workflowID string) ([]*workflow.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.WorkflowExecution
	for _, exec := range s.execs {
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		out = append(out, cloneExecution(exec))
	}
	return out, nil
}

func cloneExecution(exec *workflow.WorkflowExecution) *workflow.WorkflowExecution {
	clone := *exec
	clone.StepStatuses = make(map[string]workflow.StepStatus, len(exec.StepStatuses))
	for k, v := range exec.StepStatuses {
		clone.StepStatuses[k] = v
	}
	clone.StepOutputs = make(map[string]map[string]interface{}, len(exec.StepOutputs))
	for k, v := range exec.StepOutputs {
		clone.StepOutputs[k] = v
	}
	return &clone
}
