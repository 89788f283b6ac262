// Package presence tracks human user activity so the governance layer can
// decide whether a supervised execution has a monitor available.
package presence

import (
	"context"
	"sync"
	"time"
)

// State represents a user's presence.
type State string

const (
	StateOnline  State = "ONLINE"
	StateAway    State = "AWAY"
	StateOffline State = "OFFLINE"
)

const (
	onlineWindow = 2 * time.Minute
	awayWindow   = 15 * time.Minute
)

// Service answers presence queries for the trigger interceptor.
type Service interface {
	GetUserState(ctx context.Context, userID string) (State, error)
	ShouldSupervise(state State) bool
}

// Tracker is an in-process presence service fed by activity pings from the
// outer service layer (HTTP requests, websocket heartbeats).
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewTracker creates a presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// RecordActivity marks a user as active now.
func (t *Tracker) RecordActivity(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	t.lastSeen[userID] = t.now()
	t.mu.Unlock()
}

// GetUserState classifies a user by recency of their last activity.
// Users never seen are OFFLINE.
func (t *Tracker) GetUserState(ctx context.Context, userID string) (State, error) {
	t.mu.RLock()
	seen, ok := t.lastSeen[userID]
	t.mu.RUnlock()

	if !ok {
		return StateOffline, nil
	}

	elapsed := t.now().Sub(seen)
	switch {
	case elapsed <= onlineWindow:
		return StateOnline, nil
	case elapsed <= awayWindow:
		return StateAway, nil
	default:
		return StateOffline, nil
	}
}

// ShouldSupervise reports whether a human in the given state can plausibly
// monitor an execution in real time. Away users still get the session; they
// are assumed reachable.
func (t *Tracker) ShouldSupervise(state State) bool {
	return state == StateOnline || state == StateAway
}
