package workflow

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/metrics"
	"github.com/stewardhq/steward/internal/telemetry"
)

// StateManager persists execution and step state. The engine writes state
// before emitting any notification, so observers never see progress the
// store does not have.
type StateManager interface {
	CreateExecution(ctx context.Context, exec *WorkflowExecution) error
	GetExecution(ctx context.Context, executionID string) (*WorkflowExecution, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, status ExecutionStatus, execErr string) error
	UpdateStepStatus(ctx context.Context, executionID, stepID string, status StepStatus, output map[string]interface{}) error
}

// Notifier receives execution progress after it has been persisted.
// Notification failures are logged and never affect the execution.
type Notifier interface {
	NotifyExecutionStatus(ctx context.Context, exec *WorkflowExecution) error
	NotifyStepStatus(ctx context.Context, executionID, stepID string, status StepStatus, output map[string]interface{}) error
}

// Config tunes the engine.
type Config struct {
	// MaxConcurrentSteps bounds in-flight steps across all executions.
	MaxConcurrentSteps int
	// DefaultStepTimeout applies to steps that set no timeout of their own.
	DefaultStepTimeout time.Duration
	Retry              RetryPolicy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSteps: 5,
		DefaultStepTimeout: 30 * time.Second,
		Retry:              DefaultRetryPolicy(),
	}
}

// Engine runs workflow executions. Steps whose dependencies are satisfied
// run concurrently under a shared semaphore; control requests (pause,
// cancel) take effect at the checkpoint between step completions.
type Engine struct {
	cfg        Config
	state      StateManager
	notifier   Notifier
	actions    *ActionRegistry
	httpClient *http.Client
	prom       *metrics.Metrics

	mu      sync.Mutex
	active  map[string]*WorkflowExecution
	cancels map[string]bool
	pauses  map[string]bool

	sem chan struct{}
}

// NewEngine creates an engine. A nil notifier disables notifications.
func NewEngine(cfg Config, state StateManager, notifier Notifier, actions *ActionRegistry) *Engine {
	if cfg.MaxConcurrentSteps <= 0 {
		cfg.MaxConcurrentSteps = 5
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if actions == nil {
		actions = NewActionRegistry()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		cfg:        cfg,
		state:      state,
		notifier:   notifier,
		actions:    actions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		prom:       metrics.NewMetrics(),
		active:     make(map[string]*WorkflowExecution),
		cancels:    make(map[string]bool),
		pauses:     make(map[string]bool),
		sem:        make(chan struct{}, cfg.MaxConcurrentSteps),
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyExecutionStatus(context.Context, *WorkflowExecution) error { return nil }
func (noopNotifier) NotifyStepStatus(context.Context, string, string, StepStatus, map[string]interface{}) error {
	return nil
}

// Execute validates wf, persists a new execution, and runs it to a resting
// state (COMPLETED, FAILED, CANCELLED, or PAUSED). The returned execution
// reflects that state.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, triggerData map[string]interface{}) (*WorkflowExecution, error) {
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	exec := NewExecution(wf, triggerData)
	if err := e.state.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	log.Printf("[Engine] Starting execution %s of workflow %s (%d steps)", exec.ID, wf.ID, len(wf.Steps))

	e.register(exec)
	defer e.unregister(exec.ID)

	e.runGraph(ctx, wf, exec)
	return exec, nil
}

// Start begins an execution in the background and returns it immediately
// in PENDING state.
func (e *Engine) Start(ctx context.Context, wf *Workflow, triggerData map[string]interface{}) (*WorkflowExecution, error) {
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	exec := NewExecution(wf, triggerData)
	if err := e.state.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.register(exec)
	go func() {
		defer e.unregister(exec.ID)
		e.runGraph(context.WithoutCancel(ctx), wf, exec)
	}()
	return exec, nil
}

// Resume continues a paused execution. Completed steps keep their outputs
// and are not rerun; steps caught mid-flight by the pause go back to
// PENDING. Resuming an execution that is not paused returns its current
// state unchanged.
func (e *Engine) Resume(ctx context.Context, wf *Workflow, executionID string) (*WorkflowExecution, error) {
	exec, err := e.state.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	if exec.Status != StatusPaused {
		return exec, nil
	}

	for stepID, status := range exec.StepStatuses {
		if status == StepRunning {
			exec.StepStatuses[stepID] = StepPending
		}
	}

	log.Printf("[Engine] Resuming execution %s", exec.ID)
	e.register(exec)
	defer e.unregister(exec.ID)

	e.runGraph(ctx, wf, exec)
	return exec, nil
}

// Pause requests a pause. The execution stops launching steps at the next
// checkpoint, waits for in-flight steps, and persists PAUSED.
func (e *Engine) Pause(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[executionID]; !ok {
		return fmt.Errorf("no active execution %s", executionID)
	}
	e.pauses[executionID] = true
	return nil
}

// Cancel requests cancellation. In-flight steps run to completion; no new
// steps launch, and the execution persists CANCELLED.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[executionID]; !ok {
		return fmt.Errorf("no active execution %s", executionID)
	}
	e.cancels[executionID] = true
	return nil
}

// ActiveExecutions returns the ids of executions currently running.
func (e *Engine) ActiveExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) register(exec *WorkflowExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[exec.ID] = exec
}

func (e *Engine) unregister(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, executionID)
	delete(e.cancels, executionID)
	delete(e.pauses, executionID)
}

func (e *Engine) cancelRequested(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[executionID]
}

func (e *Engine) pauseRequested(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauses[executionID]
}

type stepResult struct {
	stepID string
	output map[string]interface{}
	err    error
}

// runGraph drives one execution to a resting state. Only this goroutine
// mutates exec; step goroutines report through the results channel.
func (e *Engine) runGraph(ctx context.Context, wf *Workflow, exec *WorkflowExecution) {
	start := time.Now()
	e.setExecutionStatus(ctx, exec, StatusRunning, "")
	telemetry.Count(ctx, telemetry.WorkflowsStarted, 1)

	results := make(chan stepResult)
	running := 0
	// blocked holds transitive dependents of hard-failed steps. Independent
	// branches keep running; blocked steps stay PENDING.
	blocked := make(map[string]bool)
	failed := false
	var execErr string

	finishRunning := func() {
		for running > 0 {
			res := <-results
			running--
			e.applyResult(ctx, wf, exec, res, &failed, &execErr, blocked)
		}
	}

	for {
		if e.cancelRequested(exec.ID) || ctx.Err() != nil {
			finishRunning()
			log.Printf("[Engine] Execution %s cancelled", exec.ID)
			e.setExecutionStatus(ctx, exec, StatusCancelled, "cancelled")
			e.prom.WorkflowExecutions.WithLabelValues(string(StatusCancelled)).Inc()
			return
		}
		if e.pauseRequested(exec.ID) {
			finishRunning()
			log.Printf("[Engine] Execution %s paused", exec.ID)
			e.setExecutionStatus(ctx, exec, StatusPaused, "")
			return
		}

		for _, step := range wf.Steps {
			if exec.StepStatuses[step.ID] != StepPending || blocked[step.ID] {
				continue
			}
			if !depsReady(wf, exec, step) {
				continue
			}

			// Resolve inputs on this goroutine so step workers never read
			// the shared output map.
			params := ResolveParams(step.Params, exec.StepOutputs)
			outputs := snapshotOutputs(exec.StepOutputs)

			exec.StepStatuses[step.ID] = StepRunning
			e.persistStep(ctx, exec, step.ID, StepRunning, nil)
			running++
			go func(step *Step) {
				output, err := e.runStep(ctx, step, params, exec.TriggerData, outputs)
				results <- stepResult{stepID: step.ID, output: output, err: err}
			}(step)
		}

		if running == 0 {
			break
		}
		res := <-results
		running--
		e.applyResult(ctx, wf, exec, res, &failed, &execErr, blocked)
	}

	duration := time.Since(start)
	if failed {
		e.setExecutionStatus(ctx, exec, StatusFailed, execErr)
		telemetry.Count(ctx, telemetry.WorkflowsFailed, 1)
		e.prom.WorkflowExecutions.WithLabelValues(string(StatusFailed)).Inc()
		log.Printf("[Engine] Execution %s failed after %s: %s", exec.ID, duration, execErr)
	} else {
		now := time.Now().UTC()
		exec.CompletedAt = &now
		e.setExecutionStatus(ctx, exec, StatusCompleted, "")
		telemetry.Count(ctx, telemetry.WorkflowsCompleted, 1)
		e.prom.WorkflowExecutions.WithLabelValues(string(StatusCompleted)).Inc()
		log.Printf("[Engine] Execution %s completed in %s", exec.ID, duration)
	}
	e.prom.WorkflowDuration.WithLabelValues(wf.ID).Observe(duration.Seconds())
}

func (e *Engine) applyResult(ctx context.Context, wf *Workflow, exec *WorkflowExecution, res stepResult, failed *bool, execErr *string, blocked map[string]bool) {
	step := wf.StepByID(res.stepID)
	if res.err != nil {
		output := map[string]interface{}{"error": res.err.Error()}
		exec.StepStatuses[res.stepID] = StepFailed
		exec.StepOutputs[res.stepID] = output
		e.persistStep(ctx, exec, res.stepID, StepFailed, output)
		if step != nil && step.ContinueOnError {
			log.Printf("[Engine] Step %s failed (continuing): %v", res.stepID, res.err)
			return
		}
		log.Printf("[Engine] Step %s failed: %v", res.stepID, res.err)
		if !*failed {
			*failed = true
			*execErr = fmt.Sprintf("step %s failed: %v", res.stepID, res.err)
		}
		blockDependents(wf, res.stepID, blocked)
		return
	}

	exec.StepStatuses[res.stepID] = StepCompleted
	exec.StepOutputs[res.stepID] = res.output
	e.persistStep(ctx, exec, res.stepID, StepCompleted, res.output)
}

// runStep executes one step under the shared semaphore, retrying transient
// failures with exponential backoff.
func (e *Engine) runStep(ctx context.Context, step *Step, params, triggerData map[string]interface{}, outputs map[string]map[string]interface{}) (map[string]interface{}, error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	e.prom.StepsInflight.Inc()
	defer e.prom.StepsInflight.Dec()

	start := time.Now()
	var output map[string]interface{}
	var err error
	for attempt := 0; attempt < e.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleepCtx(ctx, e.cfg.Retry.Delay(attempt-1)); serr != nil {
				err = serr
				break
			}
			log.Printf("[Engine] Retrying step %s (attempt %d/%d)", step.ID, attempt+1, e.cfg.Retry.MaxAttempts)
			telemetry.Count(ctx, telemetry.StepRetries, 1)
			e.prom.StepRetries.WithLabelValues(string(step.Type)).Inc()
		}
		output, err = e.attemptStep(ctx, step, params, triggerData, outputs)
		if err == nil || !IsRetryable(err) {
			break
		}
	}

	result := "completed"
	if err != nil {
		result = "failed"
	}
	elapsed := time.Since(start)
	e.prom.RecordStep(string(step.Type), result, elapsed.Seconds())
	telemetry.Observe(ctx, telemetry.StepDuration, float64(elapsed.Milliseconds()))
	return output, err
}

// attemptStep runs a single attempt with the step timeout applied. Panics
// inside a step become plain failures instead of taking the engine down.
func (e *Engine) attemptStep(ctx context.Context, step *Step, params, triggerData map[string]interface{}, outputs map[string]map[string]interface{}) (output map[string]interface{}, err error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", step.ID, r)
		}
	}()

	return e.executeStep(ctx, step, params, triggerData, outputs)
}

// setExecutionStatus updates in-memory state, persists it, then notifies.
func (e *Engine) setExecutionStatus(ctx context.Context, exec *WorkflowExecution, status ExecutionStatus, execErr string) {
	exec.Status = status
	exec.Error = execErr
	if err := e.state.UpdateExecutionStatus(ctx, exec.ID, status, execErr); err != nil {
		log.Printf("[Engine] Warning: failed to persist status %s for execution %s: %v", status, exec.ID, err)
	}
	if err := e.notifier.NotifyExecutionStatus(ctx, exec); err != nil {
		log.Printf("[Engine] Warning: failed to notify status for execution %s: %v", exec.ID, err)
	}
}

func (e *Engine) persistStep(ctx context.Context, exec *WorkflowExecution, stepID string, status StepStatus, output map[string]interface{}) {
	if err := e.state.UpdateStepStatus(ctx, exec.ID, stepID, status, output); err != nil {
		log.Printf("[Engine] Warning: failed to persist step %s/%s: %v", exec.ID, stepID, err)
	}
	if err := e.notifier.NotifyStepStatus(ctx, exec.ID, stepID, status, output); err != nil {
		log.Printf("[Engine] Warning: failed to notify step %s/%s: %v", exec.ID, stepID, err)
	}
}

// depsReady reports whether every dependency has finished in a way that
// lets this step run. Failed dependencies count only when the dependency
// opted into continue_on_error.
func depsReady(wf *Workflow, exec *WorkflowExecution, step *Step) bool {
	for _, dep := range step.DependsOn {
		switch exec.StepStatuses[dep] {
		case StepCompleted:
		case StepFailed:
			depStep := wf.StepByID(dep)
			if depStep == nil || !depStep.ContinueOnError {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// blockDependents marks every transitive dependent of stepID so it never
// launches.
func blockDependents(wf *Workflow, stepID string, blocked map[string]bool) {
	queue := []string{stepID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, step := range wf.Steps {
			if blocked[step.ID] {
				continue
			}
			for _, dep := range step.DependsOn {
				if dep == current {
					blocked[step.ID] = true
					queue = append(queue, step.ID)
					break
				}
			}
		}
	}
}

func snapshotOutputs(outputs map[string]map[string]interface{}) map[string]map[string]interface{} {
	snap := make(map[string]map[string]interface{}, len(outputs))
	for k, v := range outputs {
		snap[k] = v
	}
	return snap
}

// ValidateWorkflow checks the step graph: unique non-empty ids, known
// dependencies, no cycles, per-type configuration, and output references
// that point at declared (transitive) dependencies.
func ValidateWorkflow(wf *Workflow) error {
	if wf == nil {
		return NewValidationError("workflow", "workflow is nil")
	}

	ids := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		if step.ID == "" {
			return NewValidationError("step.id", "step id must not be empty")
		}
		if ids[step.ID] {
			return NewValidationError("step.id", "duplicate step id %q", step.ID)
		}
		ids[step.ID] = true
	}

	for _, step := range wf.Steps {
		for _, dep := range step.DependsOn {
			if !ids[dep] {
				return NewValidationError("step.depends_on", "step %q depends on unknown step %q", step.ID, dep)
			}
			if dep == step.ID {
				return NewValidationError("step.depends_on", "step %q depends on itself", step.ID)
			}
		}
		if err := validateStepConfig(step); err != nil {
			return err
		}
	}

	if cycle := findCycle(wf); cycle != "" {
		return NewValidationError("workflow", "dependency cycle through step %q", cycle)
	}

	for _, step := range wf.Steps {
		ancestors := ancestorSet(wf, step)
		for _, ref := range ReferencedSteps(step.Params) {
			if !ids[ref] {
				return NewValidationError("step.params", "step %q references unknown step %q", step.ID, ref)
			}
			if !ancestors[ref] {
				return NewValidationError("step.params", "step %q references %q which is not a dependency", step.ID, ref)
			}
		}
	}
	return nil
}

func validateStepConfig(step *Step) error {
	switch step.Type {
	case StepServiceAction:
		if step.Service == "" || step.Action == "" {
			return NewValidationError("step.action", "step %q requires service and action", step.ID)
		}
	case StepCondition:
		if err := ValidateCondition(step.Condition); err != nil {
			return err
		}
	case StepDelay:
		if step.Delay <= 0 {
			return NewValidationError("step.delay", "step %q requires a positive delay", step.ID)
		}
	case StepWebhook:
		if step.URL == "" {
			if _, ok := step.Params["url"]; !ok {
				return NewValidationError("step.url", "step %q requires a url", step.ID)
			}
		}
	case StepDataTransform:
		if step.Transform == nil {
			return NewValidationError("step.transform", "step %q requires a transform spec", step.ID)
		}
	default:
		return NewValidationError("step.type", "step %q has unknown type %q", step.ID, step.Type)
	}
	return nil
}

func findCycle(wf *Workflow) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(wf.Steps))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		if step := wf.StepByID(id); step != nil {
			for _, dep := range step.DependsOn {
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}
	for _, step := range wf.Steps {
		if hit := visit(step.ID); hit != "" {
			return hit
		}
	}
	return ""
}

func ancestorSet(wf *Workflow, step *Step) map[string]bool {
	ancestors := make(map[string]bool)
	queue := append([]string(nil), step.DependsOn...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if ancestors[current] {
			continue
		}
		ancestors[current] = true
		if s := wf.StepByID(current); s != nil {
			queue = append(queue, s.DependsOn...)
		}
	}
	return ancestors
}
