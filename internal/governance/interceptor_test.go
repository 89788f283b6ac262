package governance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/presence"
)

// fakeAgentStore counts lookups so cache hit/miss behavior is observable.
type fakeAgentStore struct {
	agents map[string]*Agent
	calls  int
}

func (f *fakeAgentStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	f.calls++
	agent, ok := f.agents[agentID]
	if !ok {
		return nil, NewAgentNotFound(agentID)
	}
	clone := *agent
	return &clone, nil
}

// countingCache wraps a Cache and counts Set calls.
type countingCache struct {
	inner   Cache
	setTTLs []time.Duration
}

func (c *countingCache) Get(ctx context.Context, workspaceID, agentID string) (*MaturitySnapshot, bool, error) {
	return c.inner.Get(ctx, workspaceID, agentID)
}

func (c *countingCache) Set(ctx context.Context, workspaceID, agentID string, snap *MaturitySnapshot, ttl time.Duration) error {
	c.setTTLs = append(c.setTTLs, ttl)
	return c.inner.Set(ctx, workspaceID, agentID, snap, ttl)
}

// failingCache always errors, simulating an unavailable backend.
type failingCache struct{}

func (failingCache) Get(ctx context.Context, workspaceID, agentID string) (*MaturitySnapshot, bool, error) {
	return nil, false, &CacheError{Op: "get", Err: errors.New("connection refused")}
}

func (failingCache) Set(ctx context.Context, workspaceID, agentID string, snap *MaturitySnapshot, ttl time.Duration) error {
	return &CacheError{Op: "set", Err: errors.New("connection refused")}
}

type fixedPresence struct {
	state presence.State
}

func (p fixedPresence) GetUserState(ctx context.Context, userID string) (presence.State, error) {
	return p.state, nil
}

func (p fixedPresence) ShouldSupervise(state presence.State) bool {
	return state == presence.StateOnline || state == presence.StateAway
}

func newTestInterceptor(agents map[string]*Agent, pres presence.Service) (*Interceptor, *MemoryStore, *fakeAgentStore) {
	agentStore := &fakeAgentStore{agents: agents}
	store := NewMemoryStore()
	interceptor := NewInterceptor(agentStore, store, NewMemoryCache(0), pres, time.Minute)
	return interceptor, store, agentStore
}

func TestInterceptTrigger_StudentRoutedToTraining(t *testing.T) {
	interceptor, store, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", Name: "rookie", WorkspaceID: "ws1", Confidence: 0.3},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
		Context: map[string]interface{}{"action_type": "agent_message"},
	})
	require.NoError(t, err)

	assert.False(t, decision.Execute)
	assert.Equal(t, DecisionTraining, decision.Decision)
	assert.Equal(t, MaturityStudent, decision.AgentMaturity)
	assert.Equal(t, 0.3, decision.ConfidenceScore)
	require.NotNil(t, decision.BlockedContext)
	require.NotNil(t, decision.Proposal)
	assert.Equal(t, ProposalTypeTraining, decision.Proposal.Type)
	assert.Equal(t, ProposalStatusProposed, decision.Proposal.Status)
	assert.Equal(t, decision.Proposal.ID, decision.BlockedContext.ProposalID)

	// Exactly one audit row, persisted before the decision returned.
	blocked, err := store.ListBlockedTriggers(context.Background(), "a1", false)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, DecisionTraining, blocked[0].Decision)
	assert.Equal(t, 0.3, blocked[0].ConfidenceScoreAtBlock)
	assert.Equal(t, "agent_message", blocked[0].TriggerType)
	assert.False(t, blocked[0].Resolved)
}

func TestInterceptTrigger_InternGeneratesProposal(t *testing.T) {
	interceptor, store, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", Name: "junior", WorkspaceID: "ws1", Confidence: 0.6},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceDataSync,
		Context: map[string]interface{}{"action_type": "sync_records"},
	})
	require.NoError(t, err)

	assert.False(t, decision.Execute)
	assert.Equal(t, DecisionProposal, decision.Decision)
	require.NotNil(t, decision.Proposal)
	assert.Equal(t, ProposalTypeAction, decision.Proposal.Type)
	assert.Equal(t, ProposalStatusProposed, decision.Proposal.Status)

	proposals, err := store.ListProposals(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	blocked, err := store.ListBlockedTriggers(context.Background(), "a1", true)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, DecisionProposal, blocked[0].Decision)
	assert.Contains(t, blocked[0].BlockReason, "INTERN agent must generate proposal")
}

func TestInterceptTrigger_SupervisedCreatesSession(t *testing.T) {
	tests := []struct {
		name            string
		state           presence.State
		wantShouldSuper bool
	}{
		{"owner online", presence.StateOnline, true},
		{"owner away", presence.StateAway, true},
		{"owner offline", presence.StateOffline, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor, store, _ := newTestInterceptor(map[string]*Agent{
				"a1": {ID: "a1", Name: "mid", WorkspaceID: "ws1", Confidence: 0.8, OwnerUserID: "u1"},
			}, fixedPresence{state: tt.state})

			decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
				AgentID: "a1",
				Source:  TriggerSourceAICoordinator,
			})
			require.NoError(t, err)

			assert.True(t, decision.Execute)
			assert.Equal(t, DecisionSupervision, decision.Decision)
			assert.Equal(t, tt.wantShouldSuper, decision.ShouldSupervise)

			// Session is created regardless of presence outcome.
			require.NotNil(t, decision.Session)
			assert.Equal(t, SessionStatusRunning, decision.Session.Status)
			assert.Equal(t, "u1", decision.Session.SupervisorID)

			sessions, err := store.ListSupervisionSessions(context.Background(), "a1")
			require.NoError(t, err)
			assert.Len(t, sessions, 1)

			// Supervised execution never writes an audit row.
			blocked, err := store.ListBlockedTriggers(context.Background(), "a1", false)
			require.NoError(t, err)
			assert.Empty(t, blocked)
		})
	}
}

func TestInterceptTrigger_AutonomousExecutes(t *testing.T) {
	interceptor, store, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", Name: "senior", WorkspaceID: "ws1", Confidence: 0.95},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
	})
	require.NoError(t, err)

	assert.True(t, decision.Execute)
	assert.Equal(t, DecisionExecution, decision.Decision)
	assert.Contains(t, decision.Reason, "approved for full execution")
	assert.Nil(t, decision.Session)

	blocked, _ := store.ListBlockedTriggers(context.Background(), "", false)
	assert.Empty(t, blocked)
}

func TestInterceptTrigger_ManualAlwaysExecutes(t *testing.T) {
	agents := map[string]*Agent{
		"student":    {ID: "student", WorkspaceID: "ws1", Confidence: 0.1},
		"intern":     {ID: "intern", WorkspaceID: "ws1", Confidence: 0.6},
		"supervised": {ID: "supervised", WorkspaceID: "ws1", Confidence: 0.8},
		"autonomous": {ID: "autonomous", WorkspaceID: "ws1", Confidence: 0.95},
	}

	for agentID := range agents {
		t.Run(agentID, func(t *testing.T) {
			interceptor, store, _ := newTestInterceptor(agents, nil)

			decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
				AgentID: agentID,
				Source:  TriggerSourceManual,
				UserID:  "u1",
			})
			require.NoError(t, err)

			assert.True(t, decision.Execute)
			assert.Contains(t, decision.Reason, "Manual trigger by user u1")

			// Manual triggers are not blocked, so no audit rows.
			blocked, _ := store.ListBlockedTriggers(context.Background(), agentID, false)
			assert.Empty(t, blocked)
		})
	}
}

func TestInterceptTrigger_ManualStudentWarning(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", WorkspaceID: "ws1", Confidence: 0.2},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceManual,
		UserID:  "u1",
	})
	require.NoError(t, err)

	assert.True(t, decision.Execute)
	assert.True(t, strings.Contains(decision.Reason, "warning"), "reason %q should carry a STUDENT warning", decision.Reason)
}

func TestInterceptTrigger_AgentNotFound(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{}, nil)

	_, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "ghost",
		Source:  TriggerSourceWorkflowEngine,
	})
	require.Error(t, err)

	var notFound *NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestInterceptTrigger_ExplicitStatusOverridesConfidence(t *testing.T) {
	// High confidence but explicit STUDENT status: still routed to training.
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", WorkspaceID: "ws1", Status: string(MaturityStudent), Confidence: 0.99},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionTraining, decision.Decision)
}

func TestResolveMaturity_CacheMissWritesBackOnce(t *testing.T) {
	agentStore := &fakeAgentStore{agents: map[string]*Agent{
		"a1": {ID: "a1", WorkspaceID: "ws1", Confidence: 0.95},
	}}
	cache := &countingCache{inner: NewMemoryCache(0)}
	interceptor := NewInterceptor(agentStore, NewMemoryStore(), cache, nil, 2*time.Minute)

	_, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
	})
	require.NoError(t, err)

	require.Len(t, cache.setTTLs, 1, "miss path must call cache.Set exactly once")
	assert.Greater(t, cache.setTTLs[0], time.Duration(0))
}

func TestResolveMaturity_CacheHitSkipsWriteBack(t *testing.T) {
	agentStore := &fakeAgentStore{agents: map[string]*Agent{
		"a1": {ID: "a1", WorkspaceID: "ws1", Confidence: 0.95},
	}}
	cache := &countingCache{inner: NewMemoryCache(0)}
	interceptor := NewInterceptor(agentStore, NewMemoryStore(), cache, nil, 2*time.Minute)

	ctx := context.Background()
	trigger := &TriggerEvent{AgentID: "a1", Source: TriggerSourceWorkflowEngine}

	_, err := interceptor.InterceptTrigger(ctx, trigger)
	require.NoError(t, err)
	_, err = interceptor.InterceptTrigger(ctx, trigger)
	require.NoError(t, err)

	assert.Len(t, cache.setTTLs, 1, "hit path must not write back")
}

func TestResolveMaturity_CacheHitUsesSnapshot(t *testing.T) {
	// The cached snapshot, not the store record, drives maturity on a hit.
	agentStore := &fakeAgentStore{agents: map[string]*Agent{
		"a1": {ID: "a1", WorkspaceID: "ws1", Confidence: 0.95},
	}}
	cache := NewMemoryCache(0)
	require.NoError(t, cache.Set(context.Background(), "ws1", "a1",
		&MaturitySnapshot{Status: "", Confidence: 0.3}, time.Minute))

	interceptor := NewInterceptor(agentStore, NewMemoryStore(), cache, nil, time.Minute)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionTraining, decision.Decision)
	assert.Equal(t, 0.3, decision.ConfidenceScore)
}

func TestInterceptTrigger_CacheFailureDegradesToStore(t *testing.T) {
	interceptorWithBadCache := NewInterceptor(
		&fakeAgentStore{agents: map[string]*Agent{
			"a1": {ID: "a1", WorkspaceID: "ws1", Confidence: 0.95},
		}},
		NewMemoryStore(), failingCache{}, nil, time.Minute)

	decision, err := interceptorWithBadCache.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
	})
	require.NoError(t, err, "cache failures must never fail interception")
	assert.Equal(t, DecisionExecution, decision.Decision)
}

func TestCreateProposal_Validation(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", WorkspaceID: "ws1", Confidence: 0.6},
	}, nil)
	ctx := context.Background()

	_, err := interceptor.CreateProposal(ctx, "ghost", ProposalTypeAction, "t", "d", "r")
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = interceptor.CreateProposal(ctx, "a1", ProposalTypeAction, "", "d", "r")
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))

	_, err = interceptor.CreateProposal(ctx, "a1", ProposalType("bogus"), "t", "d", "r")
	require.True(t, errors.As(err, &validation))
}

func TestExecuteWithSupervision_AgentNotFound(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{}, nil)

	_, err := interceptor.ExecuteWithSupervision(context.Background(), "ghost", &TriggerEvent{})
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestAllowExecution_AgentNotFound(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{}, nil)

	_, err := interceptor.AllowExecution(context.Background(), "ghost")
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestEndToEnd_LowConfidenceWorkflowTrigger(t *testing.T) {
	interceptor, store, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", Name: "rookie", WorkspaceID: "ws1", Confidence: 0.3},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceWorkflowEngine,
		Context: map[string]interface{}{"action_type": "agent_message"},
	})
	require.NoError(t, err)

	assert.False(t, decision.Execute)
	assert.Equal(t, DecisionTraining, decision.Decision)

	blocked, err := store.ListBlockedTriggers(context.Background(), "a1", false)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, 0.3, blocked[0].ConfidenceScoreAtBlock)
}

func TestEndToEnd_HighConfidenceManualTrigger(t *testing.T) {
	interceptor, _, _ := newTestInterceptor(map[string]*Agent{
		"a1": {ID: "a1", Name: "senior", WorkspaceID: "ws1", Confidence: 0.95},
	}, nil)

	decision, err := interceptor.InterceptTrigger(context.Background(), &TriggerEvent{
		AgentID: "a1",
		Source:  TriggerSourceManual,
		UserID:  "u1",
	})
	require.NoError(t, err)

	assert.True(t, decision.Execute)
	assert.Contains(t, decision.Reason, "Manual trigger by user u1")
}
