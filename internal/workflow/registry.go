package workflow

import (
	"context"
	"fmt"
	"sync"
)

// ActionHandler executes a service action with resolved params and returns
// the step output.
type ActionHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// ActionRegistry maps (service, action) pairs to handlers. Registration
// happens at startup; lookups happen on every service_action step.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

func actionKey(service, action string) string {
	return fmt.Sprintf("%s.%s", service, action)
}

// Register adds a handler for a service action, replacing any previous
// registration.
func (r *ActionRegistry) Register(service, action string, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionKey(service, action)] = handler
}

// Get returns the handler for a service action.
func (r *ActionRegistry) Get(service, action string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionKey(service, action)]
	return h, ok
}

// Services returns the registered keys, mostly for diagnostics.
func (r *ActionRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}
