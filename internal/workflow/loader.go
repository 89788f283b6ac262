package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// workflowDoc is the on-disk YAML shape of a workflow definition.
type workflowDoc struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	AgentID     string    `yaml:"agent_id"`
	WorkspaceID string    `yaml:"workspace_id"`
	Steps       []stepDoc `yaml:"steps"`
}

type stepDoc struct {
	ID              string                 `yaml:"id"`
	Name            string                 `yaml:"name"`
	Type            string                 `yaml:"type"`
	DependsOn       []string               `yaml:"depends_on"`
	ContinueOnError bool                   `yaml:"continue_on_error"`
	Timeout         string                 `yaml:"timeout"`
	Params          map[string]interface{} `yaml:"params"`

	Service   string         `yaml:"service"`
	Action    string         `yaml:"action"`
	Condition string         `yaml:"condition"`
	Delay     string         `yaml:"delay"`
	URL       string         `yaml:"url"`
	Method    string         `yaml:"method"`
	Transform *TransformSpec `yaml:"transform"`
}

// ParseWorkflow decodes a YAML workflow definition and validates its step
// graph. Param strings of the form "{{step_id.field}}" become output
// references.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var doc workflowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewValidationError("workflow", "invalid YAML: %v", err)
	}
	if doc.ID == "" {
		return nil, NewValidationError("workflow.id", "workflow id must not be empty")
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}

	wf := &Workflow{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		AgentID:     doc.AgentID,
		WorkspaceID: doc.WorkspaceID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	for _, sd := range doc.Steps {
		step, err := sd.toStep()
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, step)
	}

	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (sd stepDoc) toStep() (*Step, error) {
	step := &Step{
		ID:              sd.ID,
		Name:            sd.Name,
		Type:            StepType(sd.Type),
		DependsOn:       sd.DependsOn,
		ContinueOnError: sd.ContinueOnError,
		Params:          ParseParams(sd.Params),
		Service:         sd.Service,
		Action:          sd.Action,
		Condition:       sd.Condition,
		URL:             sd.URL,
		Method:          sd.Method,
		Transform:       sd.Transform,
	}
	if sd.Timeout != "" {
		d, err := time.ParseDuration(sd.Timeout)
		if err != nil {
			return nil, NewValidationError("step.timeout", "step %q has bad timeout %q", sd.ID, sd.Timeout)
		}
		step.Timeout = d
	}
	if sd.Delay != "" {
		d, err := time.ParseDuration(sd.Delay)
		if err != nil {
			return nil, NewValidationError("step.delay", "step %q has bad delay %q", sd.ID, sd.Delay)
		}
		step.Delay = d
	}
	return step, nil
}

// LoadWorkflowFile reads and parses one definition file.
func LoadWorkflowFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return wf, nil
}

// LoadWorkflowDir loads every .yaml/.yml file in dir, sorted by filename.
func LoadWorkflowDir(dir string) ([]*Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	workflows := make([]*Workflow, 0, len(paths))
	for _, path := range paths {
		wf, err := LoadWorkflowFile(path)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}
