package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stewardhq/steward/internal/governance"
)

// GetAgent loads an agent record.
func (d *Database) GetAgent(ctx context.Context, agentID string) (*governance.Agent, error) {
	query := `
		SELECT id, name, workspace_id, status, confidence, owner_user_id
		FROM agents
		WHERE id = ?
	`

	agent := &governance.Agent{}
	var owner sql.NullString
	err := d.db.QueryRowContext(ctx, rebind(query), agentID).Scan(
		&agent.ID,
		&agent.Name,
		&agent.WorkspaceID,
		&agent.Status,
		&agent.Confidence,
		&owner,
	)
	if err == sql.ErrNoRows {
		return nil, governance.NewAgentNotFound(agentID)
	}
	if err != nil {
		return nil, err
	}
	if owner.Valid {
		agent.OwnerUserID = owner.String
	}
	return agent, nil
}

// UpsertAgent inserts or updates an agent record.
func (d *Database) UpsertAgent(ctx context.Context, agent *governance.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent cannot be nil")
	}
	query := `
		INSERT INTO agents (id, name, workspace_id, status, confidence, owner_user_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			workspace_id = excluded.workspace_id,
			status = excluded.status,
			confidence = excluded.confidence,
			owner_user_id = excluded.owner_user_id,
			updated_at = excluded.updated_at
	`

	var owner interface{}
	if agent.OwnerUserID != "" {
		owner = agent.OwnerUserID
	}
	_, err := d.db.ExecContext(ctx, rebind(query),
		agent.ID,
		agent.Name,
		agent.WorkspaceID,
		agent.Status,
		agent.Confidence,
		owner,
		time.Now().UTC(),
	)
	return err
}

// CreateBlockedTrigger persists an audit record.
func (d *Database) CreateBlockedTrigger(ctx context.Context, blocked *governance.BlockedTriggerContext) error {
	triggerContext, err := json.Marshal(blocked.TriggerContext)
	if err != nil {
		return fmt.Errorf("failed to encode trigger context: %w", err)
	}

	query := `
		INSERT INTO blocked_trigger_contexts
			(id, agent_id, agent_name, maturity, confidence_at_block, trigger_source,
			 trigger_type, trigger_context, routing_decision, block_reason, resolved, proposal_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var proposalID interface{}
	if blocked.ProposalID != "" {
		proposalID = blocked.ProposalID
	}
	_, err = d.db.ExecContext(ctx, rebind(query),
		blocked.ID,
		blocked.AgentID,
		blocked.AgentName,
		string(blocked.Maturity),
		blocked.ConfidenceScoreAtBlock,
		string(blocked.TriggerSource),
		blocked.TriggerType,
		triggerContext,
		string(blocked.Decision),
		blocked.BlockReason,
		blocked.Resolved,
		proposalID,
		blocked.CreatedAt,
	)
	return err
}

// LinkBlockedTriggerProposal records the proposal spawned by a blocked
// trigger.
func (d *Database) LinkBlockedTriggerProposal(ctx context.Context, blockedID, proposalID string) error {
	query := `UPDATE blocked_trigger_contexts SET proposal_id = ? WHERE id = ?`
	_, err := d.db.ExecContext(ctx, rebind(query), proposalID, blockedID)
	return err
}

// ResolveBlockedTrigger marks an audit record as resolved.
func (d *Database) ResolveBlockedTrigger(ctx context.Context, blockedID string) error {
	query := `UPDATE blocked_trigger_contexts SET resolved = true WHERE id = ?`
	_, err := d.db.ExecContext(ctx, rebind(query), blockedID)
	return err
}

// ListBlockedTriggers returns audit records, newest first.
func (d *Database) ListBlockedTriggers(ctx context.Context, agentID string, unresolvedOnly bool) ([]*governance.BlockedTriggerContext, error) {
	query := `
		SELECT id, agent_id, agent_name, maturity, confidence_at_block, trigger_source,
		       trigger_type, trigger_context, routing_decision, block_reason, resolved, proposal_id, created_at
		FROM blocked_trigger_contexts
		WHERE 1=1
	`
	args := []interface{}{}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	if unresolvedOnly {
		query += " AND resolved = false"
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*governance.BlockedTriggerContext
	for rows.Next() {
		blocked := &governance.BlockedTriggerContext{}
		var triggerType, proposalID sql.NullString
		var triggerContext []byte
		err := rows.Scan(
			&blocked.ID,
			&blocked.AgentID,
			&blocked.AgentName,
			&blocked.Maturity,
			&blocked.ConfidenceScoreAtBlock,
			&blocked.TriggerSource,
			&triggerType,
			&triggerContext,
			&blocked.Decision,
			&blocked.BlockReason,
			&blocked.Resolved,
			&proposalID,
			&blocked.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if triggerType.Valid {
			blocked.TriggerType = triggerType.String
		}
		if proposalID.Valid {
			blocked.ProposalID = proposalID.String
		}
		if len(triggerContext) > 0 {
			if err := json.Unmarshal(triggerContext, &blocked.TriggerContext); err != nil {
				return nil, fmt.Errorf("failed to decode trigger context for %s: %w", blocked.ID, err)
			}
		}
		out = append(out, blocked)
	}
	return out, rows.Err()
}

// CreateProposal persists a proposal.
func (d *Database) CreateProposal(ctx context.Context, proposal *governance.Proposal) error {
	query := `
		INSERT INTO proposals (id, agent_id, proposal_type, title, description, reasoning, status, proposed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, rebind(query),
		proposal.ID,
		proposal.AgentID,
		string(proposal.Type),
		proposal.Title,
		proposal.Description,
		proposal.Reasoning,
		string(proposal.Status),
		proposal.ProposedBy,
		proposal.CreatedAt,
	)
	return err
}

// ListProposals returns proposals for an agent, newest first.
func (d *Database) ListProposals(ctx context.Context, agentID string) ([]*governance.Proposal, error) {
	query := `
		SELECT id, agent_id, proposal_type, title, description, reasoning, status, proposed_by, created_at
		FROM proposals
		WHERE 1=1
	`
	args := []interface{}{}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*governance.Proposal
	for rows.Next() {
		proposal := &governance.Proposal{}
		err := rows.Scan(
			&proposal.ID,
			&proposal.AgentID,
			&proposal.Type,
			&proposal.Title,
			&proposal.Description,
			&proposal.Reasoning,
			&proposal.Status,
			&proposal.ProposedBy,
			&proposal.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, proposal)
	}
	return out, rows.Err()
}

// CreateSupervisionSession persists a supervision session.
func (d *Database) CreateSupervisionSession(ctx context.Context, session *governance.SupervisionSession) error {
	query := `
		INSERT INTO supervision_sessions (id, agent_id, workspace_id, supervisor_id, status, should_supervise, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var supervisor interface{}
	if session.SupervisorID != "" {
		supervisor = session.SupervisorID
	}
	_, err := d.db.ExecContext(ctx, rebind(query),
		session.ID,
		session.AgentID,
		session.WorkspaceID,
		supervisor,
		string(session.Status),
		session.ShouldSupervise,
		session.StartedAt,
	)
	return err
}

// ListSupervisionSessions returns sessions for an agent, newest first.
func (d *Database) ListSupervisionSessions(ctx context.Context, agentID string) ([]*governance.SupervisionSession, error) {
	query := `
		SELECT id, agent_id, workspace_id, supervisor_id, status, should_supervise, started_at
		FROM supervision_sessions
		WHERE 1=1
	`
	args := []interface{}{}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY started_at DESC"

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*governance.SupervisionSession
	for rows.Next() {
		session := &governance.SupervisionSession{}
		var supervisor sql.NullString
		err := rows.Scan(
			&session.ID,
			&session.AgentID,
			&session.WorkspaceID,
			&supervisor,
			&session.Status,
			&session.ShouldSupervise,
			&session.StartedAt,
		)
		if err != nil {
			return nil, err
		}
		if supervisor.Valid {
			session.SupervisorID = supervisor.String
		}
		out = append(out, session)
	}
	return out, rows.Err()
}
