package governance

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store. It backs single-node
// deployments and tests; the database package provides the durable
// implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	blocked  map[string]*BlockedTriggerContext
	props    map[string]*Proposal
	sessions map[string]*SupervisionSession
}

// NewMemoryStore creates an empty in-memory governance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]*Agent),
		blocked:  make(map[string]*BlockedTriggerContext),
		props:    make(map[string]*Proposal),
		sessions: make(map[string]*SupervisionSession),
	}
}

// PutAgent adds or replaces an agent record.
func (s *MemoryStore) PutAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *agent
	s.agents[agent.ID] = &clone
	return nil
}

// GetAgent resolves an agent record.
func (s *MemoryStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return nil, NewAgentNotFound(agentID)
	}
	clone := *agent
	return &clone, nil
}

// CreateBlockedTrigger stores an audit record.
func (s *MemoryStore) CreateBlockedTrigger(ctx context.Context, blocked *BlockedTriggerContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *blocked
	s.blocked[blocked.ID] = &clone
	return nil
}

// LinkBlockedTriggerProposal records the proposal spawned by a blocked trigger.
func (s *MemoryStore) LinkBlockedTriggerProposal(ctx context.Context, blockedID, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocked, ok := s.blocked[blockedID]; ok {
		blocked.ProposalID = proposalID
	}
	return nil
}

// ResolveBlockedTrigger marks an audit record as resolved.
func (s *MemoryStore) ResolveBlockedTrigger(ctx context.Context, blockedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocked, ok := s.blocked[blockedID]; ok {
		blocked.Resolved = true
	}
	return nil
}

// CreateProposal stores a proposal.
func (s *MemoryStore) CreateProposal(ctx context.Context, proposal *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *proposal
	s.props[proposal.ID] = &clone
	return nil
}

// CreateSupervisionSession stores a supervision session.
func (s *MemoryStore) CreateSupervisionSession(ctx context.Context, session *SupervisionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

// ListBlockedTriggers returns audit records, optionally filtered by agent
// and resolution state.
func (s *MemoryStore) ListBlockedTriggers(ctx context.Context, agentID string, unresolvedOnly bool) ([]*BlockedTriggerContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*BlockedTriggerContext
	for _, blocked := range s.blocked {
		if agentID != "" && blocked.AgentID != agentID {
			continue
		}
		if unresolvedOnly && blocked.Resolved {
			continue
		}
		clone := *blocked
		out = append(out, &clone)
	}
	return out, nil
}

// ListProposals returns proposals, optionally filtered by agent.
func (s *MemoryStore) ListProposals(ctx context.Context, agentID string) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Proposal
	for _, proposal := range s.props {
		if agentID != "" && proposal.AgentID != agentID {
			continue
		}
		clone := *proposal
		out = append(out, &clone)
	}
	return out, nil
}

// ListSupervisionSessions returns sessions, optionally filtered by agent.
func (s *MemoryStore) ListSupervisionSessions(ctx context.Context, agentID string) ([]*SupervisionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SupervisionSession
	for _, session := range s.sessions {
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		clone := *session
		out = append(out, &clone)
	}
	return out, nil
}
