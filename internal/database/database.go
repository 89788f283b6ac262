package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Database wraps the PostgreSQL connection and implements the governance
// store, the agent store, and the workflow state manager.
type Database struct {
	db *sql.DB
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// NewPostgres opens a PostgreSQL connection and initializes the schema.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Health pings the database.
func (d *Database) Health() error {
	return d.db.Ping()
}

// initSchema creates the steward tables.
func (d *Database) initSchema() error {
	schema := `
	-- Agent records; maturity status and confidence are written by the
	-- training/evaluation process, read here.
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		owner_user_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Audit trail of every blocked trigger decision
	CREATE TABLE IF NOT EXISTS blocked_trigger_contexts (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		maturity TEXT NOT NULL,
		confidence_at_block REAL NOT NULL,
		trigger_source TEXT NOT NULL,
		trigger_type TEXT,
		trigger_context JSONB,
		routing_decision TEXT NOT NULL,
		block_reason TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT false,
		proposal_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		proposal_type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		reasoning TEXT,
		status TEXT NOT NULL DEFAULT 'PROPOSED',
		proposed_by TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS supervision_sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		supervisor_id TEXT,
		status TEXT NOT NULL DEFAULT 'RUNNING',
		should_supervise BOOLEAN NOT NULL DEFAULT false,
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Workflow execution state; step statuses and outputs are JSON maps
	-- keyed by step id.
	CREATE TABLE IF NOT EXISTS workflow_executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		trigger_data JSONB,
		step_statuses JSONB NOT NULL DEFAULT '{}',
		step_outputs JSONB NOT NULL DEFAULT '{}',
		error TEXT,
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_agents_workspace_id ON agents(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_blocked_triggers_agent_id ON blocked_trigger_contexts(agent_id);
	CREATE INDEX IF NOT EXISTS idx_blocked_triggers_resolved ON blocked_trigger_contexts(resolved);
	CREATE INDEX IF NOT EXISTS idx_blocked_triggers_created_at ON blocked_trigger_contexts(created_at);
	CREATE INDEX IF NOT EXISTS idx_proposals_agent_id ON proposals(agent_id);
	CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON supervision_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON workflow_executions(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON workflow_executions(status);
	`

	_, err := d.db.Exec(schema)
	return err
}
