package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stewardhq/steward/internal/workflow"
)

// CreateExecution persists a new workflow execution.
func (d *Database) CreateExecution(ctx context.Context, exec *workflow.WorkflowExecution) error {
	triggerData, err := json.Marshal(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to encode trigger data: %w", err)
	}
	stepStatuses, err := json.Marshal(exec.StepStatuses)
	if err != nil {
		return fmt.Errorf("failed to encode step statuses: %w", err)
	}
	stepOutputs, err := json.Marshal(exec.StepOutputs)
	if err != nil {
		return fmt.Errorf("failed to encode step outputs: %w", err)
	}

	query := `
		INSERT INTO workflow_executions
			(id, workflow_id, status, trigger_data, step_statuses, step_outputs, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, rebind(query),
		exec.ID,
		exec.WorkflowID,
		string(exec.Status),
		triggerData,
		stepStatuses,
		stepOutputs,
		exec.Error,
		exec.StartedAt,
	)
	return err
}

// GetExecution loads an execution with its step state.
func (d *Database) GetExecution(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, trigger_data, step_statuses, step_outputs, error, started_at, completed_at
		FROM workflow_executions
		WHERE id = ?
	`

	exec := &workflow.WorkflowExecution{}
	var triggerData, stepStatuses, stepOutputs []byte
	var execErr sql.NullString
	var completedAt sql.NullTime
	err := d.db.QueryRowContext(ctx, rebind(query), executionID).Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.Status,
		&triggerData,
		&stepStatuses,
		&stepOutputs,
		&execErr,
		&exec.StartedAt,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", executionID)
	}
	if err != nil {
		return nil, err
	}

	if execErr.Valid {
		exec.Error = execErr.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &exec.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to decode trigger data for %s: %w", executionID, err)
		}
	}
	exec.StepStatuses = make(map[string]workflow.StepStatus)
	if len(stepStatuses) > 0 {
		if err := json.Unmarshal(stepStatuses, &exec.StepStatuses); err != nil {
			return nil, fmt.Errorf("failed to decode step statuses for %s: %w", executionID, err)
		}
	}
	exec.StepOutputs = make(map[string]map[string]interface{})
	if len(stepOutputs) > 0 {
		if err := json.Unmarshal(stepOutputs, &exec.StepOutputs); err != nil {
			return nil, fmt.Errorf("failed to decode step outputs for %s: %w", executionID, err)
		}
	}
	return exec, nil
}

// UpdateExecutionStatus records a status transition; terminal statuses set
// completed_at.
func (d *Database) UpdateExecutionStatus(ctx context.Context, executionID string, status workflow.ExecutionStatus, execErr string) error {
	var completedAt interface{}
	if status.Terminal() {
		completedAt = time.Now().UTC()
	}

	query := `
		UPDATE workflow_executions
		SET status = ?, error = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`
	res, err := d.db.ExecContext(ctx, rebind(query), string(status), execErr, completedAt, executionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution not found: %s", executionID)
	}
	return nil
}

// UpdateStepStatus records a step transition and merges its output into
// the execution's output map.
func (d *Database) UpdateStepStatus(ctx context.Context, executionID, stepID string, status workflow.StepStatus, output map[string]interface{}) error {
	statusJSON, err := json.Marshal(string(status))
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET step_statuses = jsonb_set(step_statuses, ?, ?::jsonb)
		WHERE id = ?
	`
	path := fmt.Sprintf("{%s}", stepID)
	res, err := d.db.ExecContext(ctx, rebind(query), path, statusJSON, executionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution not found: %s", executionID)
	}

	if output != nil {
		outputJSON, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("failed to encode step output: %w", err)
		}
		query = `
			UPDATE workflow_executions
			SET step_outputs = jsonb_set(step_outputs, ?, ?::jsonb)
			WHERE id = ?
		`
		if _, err := d.db.ExecContext(ctx, rebind(query), path, outputJSON, executionID); err != nil {
			return err
		}
	}
	return nil
}

// ListExecutions returns executions, newest first, optionally filtered by
// workflow id.
func (d *Database) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.WorkflowExecution, error) {
	query := `
		SELECT id
		FROM workflow_executions
		WHERE 1=1
	`
	args := []interface{}{}
	if workflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, workflowID)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*workflow.WorkflowExecution, 0, len(ids))
	for _, id := range ids {
		exec, err := d.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}
