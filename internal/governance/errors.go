package governance

import (
	"fmt"
)

// NotFoundError indicates a referenced agent does not exist. It is fatal to
// the calling operation and never retried.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewAgentNotFound builds the error every public entry point raises for a
// missing agent.
func NewAgentNotFound(agentID string) *NotFoundError {
	return &NotFoundError{Kind: "agent", ID: agentID}
}

// ValidationError indicates malformed input (trigger context, proposal,
// step definition). Fatal, never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Detail)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Detail)
}

// CacheError wraps a governance cache backend failure. It is recovered
// locally by falling back to the agent store and never surfaced to callers.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("governance cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}
