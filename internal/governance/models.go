package governance

import (
	"time"
)

// MaturityLevel represents how much autonomy an agent is granted.
type MaturityLevel string

const (
	MaturityStudent    MaturityLevel = "STUDENT"    // Learning only, never executes automated triggers
	MaturityIntern     MaturityLevel = "INTERN"     // Generates proposals instead of executing
	MaturitySupervised MaturityLevel = "SUPERVISED" // Executes with real-time human monitoring
	MaturityAutonomous MaturityLevel = "AUTONOMOUS" // Executes without supervision
)

// Valid reports whether the level is one of the four known maturity levels.
func (m MaturityLevel) Valid() bool {
	switch m {
	case MaturityStudent, MaturityIntern, MaturitySupervised, MaturityAutonomous:
		return true
	}
	return false
}

// TriggerSource identifies the origin of an automated action request.
type TriggerSource string

const (
	TriggerSourceManual         TriggerSource = "MANUAL"
	TriggerSourceWorkflowEngine TriggerSource = "WORKFLOW_ENGINE"
	TriggerSourceDataSync       TriggerSource = "DATA_SYNC"
	TriggerSourceAICoordinator  TriggerSource = "AI_COORDINATOR"
)

// DecisionType is the outcome of trigger interception.
type DecisionType string

const (
	DecisionExecution   DecisionType = "EXECUTION"
	DecisionSupervision DecisionType = "SUPERVISION"
	DecisionProposal    DecisionType = "PROPOSAL"
	DecisionTraining    DecisionType = "TRAINING"
)

// ProposalType distinguishes training proposals from action proposals.
type ProposalType string

const (
	ProposalTypeTraining ProposalType = "training"
	ProposalTypeAction   ProposalType = "action"
)

// ProposalStatus represents the approval state of a proposal.
type ProposalStatus string

const (
	ProposalStatusProposed    ProposalStatus = "PROPOSED"
	ProposalStatusApproved    ProposalStatus = "APPROVED"
	ProposalStatusRejected    ProposalStatus = "REJECTED"
	ProposalStatusImplemented ProposalStatus = "IMPLEMENTED"
)

// SessionStatus represents the lifecycle state of a supervision session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Agent is the read-only view of an agent record. Maturity status and
// confidence are mutated by a separate training/evaluation process.
type Agent struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	WorkspaceID string  `json:"workspace_id"`
	Status      string  `json:"status"`     // Explicit maturity override; empty when confidence-derived
	Confidence  float64 `json:"confidence"` // 0.0 - 1.0
	OwnerUserID string  `json:"owner_user_id,omitempty"`
}

// TriggerEvent is the ephemeral input to a routing decision. It is not
// persisted; blocked decisions persist a BlockedTriggerContext instead.
type TriggerEvent struct {
	AgentID string                 `json:"agent_id"`
	Source  TriggerSource          `json:"source"`
	Context map[string]interface{} `json:"context,omitempty"`
	UserID  string                 `json:"user_id,omitempty"`
}

// TriggerType extracts the action type from the trigger context, if present.
func (t *TriggerEvent) TriggerType() string {
	if t.Context == nil {
		return ""
	}
	if v, ok := t.Context["action_type"].(string); ok {
		return v
	}
	return ""
}

// RoutingDecision is the output of trigger interception. A blocked decision
// is not an error: Execute is false and Reason explains the gate.
type RoutingDecision struct {
	Execute         bool                   `json:"execute"`
	Decision        DecisionType           `json:"routing_decision"`
	Reason          string                 `json:"reason"`
	AgentMaturity   MaturityLevel          `json:"agent_maturity"`
	ConfidenceScore float64                `json:"confidence_score"`
	ShouldSupervise bool                   `json:"should_supervise,omitempty"`
	BlockedContext  *BlockedTriggerContext `json:"blocked_context,omitempty"`
	Proposal        *Proposal              `json:"proposal,omitempty"`
	Session         *SupervisionSession    `json:"session,omitempty"`
	DecidedAt       time.Time              `json:"decided_at"`
}

// BlockedTriggerContext is the audit record persisted whenever a trigger is
// not immediately executed. The core only ever sets Resolved and ProposalID
// after creation; rows are never deleted here.
type BlockedTriggerContext struct {
	ID                     string                 `json:"id"`
	AgentID                string                 `json:"agent_id"`
	AgentName              string                 `json:"agent_name"`
	Maturity               MaturityLevel          `json:"maturity"`
	ConfidenceScoreAtBlock float64                `json:"confidence_score_at_block"`
	TriggerSource          TriggerSource          `json:"trigger_source"`
	TriggerType            string                 `json:"trigger_type"`
	TriggerContext         map[string]interface{} `json:"trigger_context,omitempty"`
	Decision               DecisionType           `json:"routing_decision"`
	BlockReason            string                 `json:"block_reason"`
	Resolved               bool                   `json:"resolved"`
	ProposalID             string                 `json:"proposal_id,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
}

// Proposal is created for INTERN agents (action proposals) and STUDENT
// agents routed to training. Approval transitions happen outside the core.
type Proposal struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Type        ProposalType   `json:"proposal_type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Reasoning   string         `json:"reasoning"`
	Status      ProposalStatus `json:"status"`
	ProposedBy  string         `json:"proposed_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SupervisionSession pairs a SUPERVISED agent's execution with a human
// monitor. Creation is part of the core contract; the rest of the lifecycle
// (interventions, closing) is external.
type SupervisionSession struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	WorkspaceID     string        `json:"workspace_id"`
	SupervisorID    string        `json:"supervisor_id,omitempty"`
	Status          SessionStatus `json:"status"`
	ShouldSupervise bool          `json:"should_supervise"`
	StartedAt       time.Time     `json:"started_at"`
}
