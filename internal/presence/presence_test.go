package presence

import (
	"context"
	"testing"
	"time"
)

func TestTracker_GetUserState(t *testing.T) {
	tracker := NewTracker()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tracker.now = func() time.Time { return current }

	ctx := context.Background()

	// Never seen
	state, err := tracker.GetUserState(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserState() error = %v", err)
	}
	if state != StateOffline {
		t.Errorf("unseen user state = %v, want OFFLINE", state)
	}

	tracker.RecordActivity("u1")

	tests := []struct {
		name    string
		elapsed time.Duration
		want    State
	}{
		{"just active", 30 * time.Second, StateOnline},
		{"online boundary", 2 * time.Minute, StateOnline},
		{"away", 10 * time.Minute, StateAway},
		{"offline", 20 * time.Minute, StateOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current = base.Add(tt.elapsed)
			state, err := tracker.GetUserState(ctx, "u1")
			if err != nil {
				t.Fatalf("GetUserState() error = %v", err)
			}
			if state != tt.want {
				t.Errorf("state after %v = %v, want %v", tt.elapsed, state, tt.want)
			}
		})
	}
}

func TestTracker_ShouldSupervise(t *testing.T) {
	tracker := NewTracker()

	if !tracker.ShouldSupervise(StateOnline) {
		t.Error("ShouldSupervise(ONLINE) = false, want true")
	}
	if !tracker.ShouldSupervise(StateAway) {
		t.Error("ShouldSupervise(AWAY) = false, want true")
	}
	if tracker.ShouldSupervise(StateOffline) {
		t.Error("ShouldSupervise(OFFLINE) = true, want false")
	}
}

func TestTracker_RecordActivity_EmptyUser(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordActivity("")

	state, _ := tracker.GetUserState(context.Background(), "")
	if state != StateOffline {
		t.Errorf("empty user state = %v, want OFFLINE", state)
	}
}
