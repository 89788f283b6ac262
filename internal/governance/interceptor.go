package governance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/presence"
	"github.com/stewardhq/steward/internal/telemetry"
)

// AgentStore resolves agent records. Implementations return *NotFoundError
// for unknown agents.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
}

// Store persists governance side effects: audit rows, proposals and
// supervision sessions.
type Store interface {
	CreateBlockedTrigger(ctx context.Context, blocked *BlockedTriggerContext) error
	LinkBlockedTriggerProposal(ctx context.Context, blockedID, proposalID string) error
	ResolveBlockedTrigger(ctx context.Context, blockedID string) error
	CreateProposal(ctx context.Context, proposal *Proposal) error
	CreateSupervisionSession(ctx context.Context, session *SupervisionSession) error
}

// Interceptor is the central decision point for autonomous agent actions.
// Given an agent and a trigger it produces a routing decision and persists
// an audit record for every gated trigger before returning.
type Interceptor struct {
	agents   AgentStore
	store    Store
	cache    Cache
	presence presence.Service
	cacheTTL time.Duration
	now      func() time.Time
}

// NewInterceptor creates a trigger interceptor. cacheTTL <= 0 falls back to
// DefaultCacheTTL.
func NewInterceptor(agents AgentStore, store Store, cache Cache, pres presence.Service, cacheTTL time.Duration) *Interceptor {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Interceptor{
		agents:   agents,
		store:    store,
		cache:    cache,
		presence: pres,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// InterceptTrigger routes a trigger event based on the agent's maturity.
// Blocked decisions are normal results, not errors; only a missing agent or
// persistence failure raises.
func (i *Interceptor) InterceptTrigger(ctx context.Context, trigger *TriggerEvent) (*RoutingDecision, error) {
	start := i.now()

	agent, err := i.agents.GetAgent(ctx, trigger.AgentID)
	if err != nil {
		return nil, err
	}

	maturity, confidence := i.resolveMaturity(ctx, agent)

	var decision *RoutingDecision
	if trigger.Source == TriggerSourceManual {
		decision = i.allowManual(trigger, maturity, confidence)
	} else {
		switch maturity {
		case MaturityStudent:
			decision, err = i.blockToTraining(ctx, agent, trigger, maturity, confidence)
		case MaturityIntern:
			decision, err = i.blockToProposal(ctx, agent, trigger, maturity, confidence)
		case MaturitySupervised:
			decision, err = i.executeWithSupervision(ctx, agent, trigger, maturity, confidence)
		default:
			decision = i.allowExecution(agent, maturity, confidence)
		}
		if err != nil {
			return nil, err
		}
	}

	telemetry.Count(ctx, telemetry.TriggersIntercepted, 1)
	if !decision.Execute {
		telemetry.Count(ctx, telemetry.TriggersBlocked, 1)
	}
	telemetry.Observe(ctx, telemetry.InterceptLatency, float64(i.now().Sub(start).Milliseconds()))

	log.Printf("[Interceptor] Agent %s trigger %s -> %s (execute=%v, maturity=%s)",
		trigger.AgentID, trigger.Source, decision.Decision, decision.Execute, maturity)

	return decision, nil
}

// resolveMaturity resolves the agent's governance state via cache-then-store.
// Cache failures degrade to the already-loaded agent record; a miss writes
// the snapshot back with the configured TTL.
func (i *Interceptor) resolveMaturity(ctx context.Context, agent *Agent) (MaturityLevel, float64) {
	if i.cache != nil {
		snap, hit, err := i.cache.Get(ctx, agent.WorkspaceID, agent.ID)
		if err != nil {
			log.Printf("[Interceptor] Warning: governance cache unavailable, using agent store: %v", err)
		}
		if hit {
			return DetermineMaturity(snap.Status, snap.Confidence), snap.Confidence
		}

		snap = &MaturitySnapshot{
			Status:     agent.Status,
			Confidence: agent.Confidence,
			CachedAt:   i.now(),
		}
		if err := i.cache.Set(ctx, agent.WorkspaceID, agent.ID, snap, i.cacheTTL); err != nil {
			log.Printf("[Interceptor] Warning: failed to update governance cache for agent %s: %v", agent.ID, err)
		}
	}

	return MaturityForAgent(agent), agent.Confidence
}

// allowManual approves a manual trigger for any maturity. Manual triggers
// are never blocked and produce no audit record; STUDENT agents get a
// warning annotation.
func (i *Interceptor) allowManual(trigger *TriggerEvent, maturity MaturityLevel, confidence float64) *RoutingDecision {
	reason := fmt.Sprintf("Manual trigger by user %s", trigger.UserID)
	if maturity == MaturityStudent {
		reason += " (warning: STUDENT agent acting under manual override)"
	}

	return &RoutingDecision{
		Execute:         true,
		Decision:        DecisionExecution,
		Reason:          reason,
		AgentMaturity:   maturity,
		ConfidenceScore: confidence,
		DecidedAt:       i.now(),
	}
}

// blockToTraining persists the audit row for a STUDENT agent and routes the
// trigger to training.
func (i *Interceptor) blockToTraining(ctx context.Context, agent *Agent, trigger *TriggerEvent, maturity MaturityLevel, confidence float64) (*RoutingDecision, error) {
	blocked := i.newBlockedContext(agent, trigger, maturity, confidence, DecisionTraining,
		fmt.Sprintf("STUDENT agent blocked from automated execution (source %s); routed to training", trigger.Source))

	// Audit row is written before the decision is returned.
	if err := i.store.CreateBlockedTrigger(ctx, blocked); err != nil {
		return nil, fmt.Errorf("failed to persist blocked trigger: %w", err)
	}

	return i.RouteToTraining(ctx, agent, trigger, blocked)
}

// RouteToTraining creates a training proposal for a blocked STUDENT trigger
// and links it to the audit row.
func (i *Interceptor) RouteToTraining(ctx context.Context, agent *Agent, trigger *TriggerEvent, blocked *BlockedTriggerContext) (*RoutingDecision, error) {
	proposal := &Proposal{
		ID:          fmt.Sprintf("prop-%s", uuid.New().String()[:8]),
		AgentID:     agent.ID,
		Type:        ProposalTypeTraining,
		Title:       fmt.Sprintf("Training needed: %s", agent.Name),
		Description: fmt.Sprintf("Agent %s attempted %s trigger %q but is at STUDENT maturity", agent.Name, trigger.Source, trigger.TriggerType()),
		Reasoning:   blocked.BlockReason,
		Status:      ProposalStatusProposed,
		ProposedBy:  "trigger-interceptor",
		CreatedAt:   i.now(),
	}
	if err := i.store.CreateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to create training proposal: %w", err)
	}
	telemetry.Count(ctx, telemetry.ProposalsCreated, 1)

	blocked.ProposalID = proposal.ID
	if err := i.store.LinkBlockedTriggerProposal(ctx, blocked.ID, proposal.ID); err != nil {
		log.Printf("[Interceptor] Warning: failed to link proposal %s to blocked trigger %s: %v", proposal.ID, blocked.ID, err)
	}

	return &RoutingDecision{
		Execute:         false,
		Decision:        DecisionTraining,
		Reason:          blocked.BlockReason,
		AgentMaturity:   blocked.Maturity,
		ConfidenceScore: blocked.ConfidenceScoreAtBlock,
		BlockedContext:  blocked,
		Proposal:        proposal,
		DecidedAt:       i.now(),
	}, nil
}

// blockToProposal persists the audit row for an INTERN agent and generates
// an action proposal from the trigger context.
func (i *Interceptor) blockToProposal(ctx context.Context, agent *Agent, trigger *TriggerEvent, maturity MaturityLevel, confidence float64) (*RoutingDecision, error) {
	blocked := i.newBlockedContext(agent, trigger, maturity, confidence, DecisionProposal,
		fmt.Sprintf("INTERN agent must generate proposal for %s trigger instead of executing", trigger.Source))

	if err := i.store.CreateBlockedTrigger(ctx, blocked); err != nil {
		return nil, fmt.Errorf("failed to persist blocked trigger: %w", err)
	}

	title := fmt.Sprintf("Proposed action: %s", trigger.TriggerType())
	if trigger.TriggerType() == "" {
		title = fmt.Sprintf("Proposed action from %s trigger", trigger.Source)
	}
	proposal, err := i.CreateProposal(ctx, agent.ID, ProposalTypeAction, title,
		fmt.Sprintf("Agent %s proposes to handle %s trigger with context %v", agent.Name, trigger.Source, trigger.Context),
		blocked.BlockReason)
	if err != nil {
		return nil, err
	}

	blocked.ProposalID = proposal.ID
	if err := i.store.LinkBlockedTriggerProposal(ctx, blocked.ID, proposal.ID); err != nil {
		log.Printf("[Interceptor] Warning: failed to link proposal %s to blocked trigger %s: %v", proposal.ID, blocked.ID, err)
	}

	return &RoutingDecision{
		Execute:         false,
		Decision:        DecisionProposal,
		Reason:          blocked.BlockReason,
		AgentMaturity:   maturity,
		ConfidenceScore: confidence,
		BlockedContext:  blocked,
		Proposal:        proposal,
		DecidedAt:       i.now(),
	}, nil
}

// CreateProposal creates a proposal on behalf of an agent. The agent must
// exist; a missing agent raises NotFoundError like every public entry point.
func (i *Interceptor) CreateProposal(ctx context.Context, agentID string, proposalType ProposalType, title, description, reasoning string) (*Proposal, error) {
	agent, err := i.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, &ValidationError{Field: "title", Detail: "proposal title cannot be empty"}
	}
	if proposalType != ProposalTypeTraining && proposalType != ProposalTypeAction {
		return nil, &ValidationError{Field: "proposal_type", Detail: fmt.Sprintf("unknown proposal type %q", proposalType)}
	}

	proposal := &Proposal{
		ID:          fmt.Sprintf("prop-%s", uuid.New().String()[:8]),
		AgentID:     agent.ID,
		Type:        proposalType,
		Title:       title,
		Description: description,
		Reasoning:   reasoning,
		Status:      ProposalStatusProposed,
		ProposedBy:  "trigger-interceptor",
		CreatedAt:   i.now(),
	}
	if err := i.store.CreateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}
	telemetry.Count(ctx, telemetry.ProposalsCreated, 1)

	return proposal, nil
}

// executeWithSupervision approves a SUPERVISED agent's trigger paired with a
// supervision session. The session is created regardless of whether a human
// is currently available; availability only sets the should-supervise flag.
func (i *Interceptor) executeWithSupervision(ctx context.Context, agent *Agent, trigger *TriggerEvent, maturity MaturityLevel, confidence float64) (*RoutingDecision, error) {
	shouldSupervise := false
	if i.presence != nil && agent.OwnerUserID != "" {
		state, err := i.presence.GetUserState(ctx, agent.OwnerUserID)
		if err != nil {
			log.Printf("[Interceptor] Warning: presence lookup failed for user %s: %v", agent.OwnerUserID, err)
		} else {
			shouldSupervise = i.presence.ShouldSupervise(state)
		}
	}

	session := &SupervisionSession{
		ID:              fmt.Sprintf("sess-%s", uuid.New().String()[:8]),
		AgentID:         agent.ID,
		WorkspaceID:     agent.WorkspaceID,
		SupervisorID:    agent.OwnerUserID,
		Status:          SessionStatusRunning,
		ShouldSupervise: shouldSupervise,
		StartedAt:       i.now(),
	}
	if err := i.store.CreateSupervisionSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create supervision session: %w", err)
	}
	telemetry.Count(ctx, telemetry.SessionsCreated, 1)

	return &RoutingDecision{
		Execute:         true,
		Decision:        DecisionSupervision,
		Reason:          "SUPERVISED agent approved with real-time monitoring session",
		AgentMaturity:   maturity,
		ConfidenceScore: confidence,
		ShouldSupervise: shouldSupervise,
		Session:         session,
		DecidedAt:       i.now(),
	}, nil
}

// ExecuteWithSupervision is the public supervised-execution entry point.
func (i *Interceptor) ExecuteWithSupervision(ctx context.Context, agentID string, trigger *TriggerEvent) (*RoutingDecision, error) {
	agent, err := i.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	maturity, confidence := i.resolveMaturity(ctx, agent)
	return i.executeWithSupervision(ctx, agent, trigger, maturity, confidence)
}

// allowExecution approves an AUTONOMOUS agent without a session.
func (i *Interceptor) allowExecution(agent *Agent, maturity MaturityLevel, confidence float64) *RoutingDecision {
	return &RoutingDecision{
		Execute:         true,
		Decision:        DecisionExecution,
		Reason:          fmt.Sprintf("AUTONOMOUS agent %s approved for full execution", agent.Name),
		AgentMaturity:   maturity,
		ConfidenceScore: confidence,
		DecidedAt:       i.now(),
	}
}

// AllowExecution is the public autonomous-execution entry point.
func (i *Interceptor) AllowExecution(ctx context.Context, agentID string) (*RoutingDecision, error) {
	agent, err := i.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	maturity, confidence := i.resolveMaturity(ctx, agent)
	return i.allowExecution(agent, maturity, confidence), nil
}

// newBlockedContext builds the audit record for a gated trigger.
func (i *Interceptor) newBlockedContext(agent *Agent, trigger *TriggerEvent, maturity MaturityLevel, confidence float64, decision DecisionType, reason string) *BlockedTriggerContext {
	return &BlockedTriggerContext{
		ID:                     fmt.Sprintf("blk-%s", uuid.New().String()[:8]),
		AgentID:                agent.ID,
		AgentName:              agent.Name,
		Maturity:               maturity,
		ConfidenceScoreAtBlock: confidence,
		TriggerSource:          trigger.Source,
		TriggerType:            trigger.TriggerType(),
		TriggerContext:         trigger.Context,
		Decision:               decision,
		BlockReason:            reason,
		Resolved:               false,
		CreatedAt:              i.now(),
	}
}
