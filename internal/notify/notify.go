package notify

import (
	"context"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/workflow"
)

// EventType distinguishes execution-level from step-level events.
type EventType string

const (
	EventExecutionStatus EventType = "execution.status"
	EventStepStatus      EventType = "step.status"
)

// Event is the wire shape of a progress notification. The same payload
// goes out over NATS and over websockets.
type Event struct {
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	StepID      string                 `json:"step_id,omitempty"`
	Status      string                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func executionEvent(exec *workflow.WorkflowExecution) Event {
	return Event{
		Type:        EventExecutionStatus,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      string(exec.Status),
		Error:       exec.Error,
		Timestamp:   time.Now().UTC(),
	}
}

func stepEvent(executionID, stepID string, status workflow.StepStatus, output map[string]interface{}) Event {
	return Event{
		Type:        EventStepStatus,
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      string(status),
		Output:      output,
		Timestamp:   time.Now().UTC(),
	}
}

// MemoryNotifier collects events in process. Tests and embedded setups use
// it in place of NATS.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryNotifier creates an empty in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) NotifyExecutionStatus(ctx context.Context, exec *workflow.WorkflowExecution) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, executionEvent(exec))
	return nil
}

func (n *MemoryNotifier) NotifyStepStatus(ctx context.Context, executionID, stepID string, status workflow.StepStatus, output map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, stepEvent(executionID, stepID, status, output))
	return nil
}

// Events returns a copy of everything recorded so far.
func (n *MemoryNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// Fanout forwards every notification to each of its targets, collecting
// the first error. The engine wires one of these when progress should go
// to both NATS and connected websockets.
type Fanout struct {
	targets []workflow.Notifier
}

// NewFanout creates a notifier that forwards to all targets.
func NewFanout(targets ...workflow.Notifier) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) NotifyExecutionStatus(ctx context.Context, exec *workflow.WorkflowExecution) error {
	var firstErr error
	for _, target := range f.targets {
		if err := target.NotifyExecutionStatus(ctx, exec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Fanout) NotifyStepStatus(ctx context.Context, executionID, stepID string, status workflow.StepStatus, output map[string]interface{}) error {
	var firstErr error
	for _, target := range f.targets {
		if err := target.NotifyStepStatus(ctx, executionID, stepID, status, output); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
