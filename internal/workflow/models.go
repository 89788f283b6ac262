package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType identifies what a step does when it runs.
type StepType string

const (
	StepServiceAction StepType = "service_action"
	StepCondition     StepType = "condition"
	StepDelay         StepType = "delay"
	StepWebhook       StepType = "webhook"
	StepDataTransform StepType = "data_transform"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
	StatusPaused    ExecutionStatus = "PAUSED"
)

// Terminal reports whether the execution can no longer make progress.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the lifecycle state of a single step within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// TransformOp selects the data_transform behavior.
type TransformOp string

const (
	TransformFilter    TransformOp = "filter"
	TransformMap       TransformOp = "map"
	TransformAggregate TransformOp = "aggregate"
)

// TransformSpec configures a data_transform step.
type TransformSpec struct {
	Operation TransformOp `yaml:"operation"`
	// filter: keep items where item[Field] Op Value holds
	Field    string      `yaml:"field,omitempty"`
	Operator string      `yaml:"operator,omitempty"`
	Value    interface{} `yaml:"value,omitempty"`
	// map: project each item down to these fields
	Fields []string `yaml:"fields,omitempty"`
	// aggregate: sum, count, avg, min, max over Field
	Func string `yaml:"func,omitempty"`
}

// Step is one node in a workflow graph. Type-specific configuration lives
// in the dedicated fields; Params are inputs resolved at run time and may
// reference outputs of completed steps.
type Step struct {
	ID              string
	Name            string
	Type            StepType
	DependsOn       []string
	Params          map[string]ParamValue
	ContinueOnError bool
	Timeout         time.Duration

	// service_action
	Service string
	Action  string

	// condition
	Condition string

	// delay
	Delay time.Duration

	// webhook
	URL    string
	Method string

	// data_transform
	Transform *TransformSpec
}

// Workflow is a validated step graph ready for execution.
type Workflow struct {
	ID          string
	Name        string
	Description string
	AgentID     string
	WorkspaceID string
	Steps       []*Step
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// WorkflowExecution is one run of a workflow. Step statuses and outputs are
// keyed by step id; Output aggregates the outputs of completed steps.
type WorkflowExecution struct {
	ID           string
	WorkflowID   string
	Status       ExecutionStatus
	TriggerData  map[string]interface{}
	StepStatuses map[string]StepStatus
	StepOutputs  map[string]map[string]interface{}
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// NewExecution creates a pending execution with every step marked PENDING.
func NewExecution(wf *Workflow, triggerData map[string]interface{}) *WorkflowExecution {
	exec := &WorkflowExecution{
		ID:           fmt.Sprintf("wfex-%s", uuid.New().String()[:8]),
		WorkflowID:   wf.ID,
		Status:       StatusPending,
		TriggerData:  triggerData,
		StepStatuses: make(map[string]StepStatus, len(wf.Steps)),
		StepOutputs:  make(map[string]map[string]interface{}),
		StartedAt:    time.Now().UTC(),
	}
	for _, step := range wf.Steps {
		exec.StepStatuses[step.ID] = StepPending
	}
	return exec
}

// Output returns the merged outputs of all steps keyed by step id.
func (e *WorkflowExecution) Output() map[string]interface{} {
	out := make(map[string]interface{}, len(e.StepOutputs))
	for stepID, output := range e.StepOutputs {
		out[stepID] = output
	}
	return out
}
