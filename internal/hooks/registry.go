package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/planloop/planloop/internal/log"
)

// registration pairs a hook with its execution policy
type registration struct {
	hook        Hook
	timeout     time.Duration
	failureMode FailureMode
}

// Registry holds the configured hooks and dispatches events to them.
// Hooks for one event run in registration order so their side effects
// are reproducible.
type Registry struct {
	mu        sync.RWMutex
	byEvent   map[EventType][]registration
	factories map[string]Factory
	executor  *Executor
}

// NewRegistry creates a registry with the built-in hook types registered
func NewRegistry(logger *log.Logger) *Registry {
	r := &Registry{
		byEvent:   make(map[EventType][]registration),
		factories: make(map[string]Factory),
		executor:  NewExecutor(logger),
	}
	r.RegisterFactory("script", NewScriptHook)
	r.RegisterFactory("webhook", NewWebhookHook)
	return r
}

// RegisterFactory registers a hook constructor under a type name
func (r *Registry) RegisterFactory(hookType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Register adds a hook with an explicit policy. Disabled hooks are
// silently skipped.
func (r *Registry) Register(hook Hook, timeout time.Duration, mode FailureMode) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	if !hook.Enabled() {
		return nil
	}
	if mode == "" {
		mode = FailureWarn
	}
	if !mode.Valid() {
		return fmt.Errorf("hook %s: unknown failure mode %q", hook.Name(), mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, eventType := range hook.EventTypes() {
		r.byEvent[eventType] = append(r.byEvent[eventType], registration{
			hook:        hook,
			timeout:     timeout,
			failureMode: mode,
		})
	}
	return nil
}

// RegisterFromConfig creates and registers a hook from configuration
func (r *Registry) RegisterFromConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil
	}

	r.mu.RLock()
	factory, exists := r.factories[config.Type]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("unknown hook type: %s", config.Type)
	}

	hook, err := factory(config)
	if err != nil {
		return fmt.Errorf("failed to create hook %s: %w", config.Name, err)
	}
	return r.Register(hook, config.Timeout, config.FailureMode)
}

// Trigger runs every hook registered for the event, in order. The
// returned error is non-nil only when a fail-mode hook failed; warn and
// ignore failures are logged and swallowed.
func (r *Registry) Trigger(ctx context.Context, event *Event) ([]ExecutionResult, error) {
	r.mu.RLock()
	regs := make([]registration, len(r.byEvent[event.Type]))
	copy(regs, r.byEvent[event.Type])
	r.mu.RUnlock()

	var results []ExecutionResult
	var firstErr error
	for _, reg := range regs {
		result := r.executor.Execute(ctx, reg.hook, reg.timeout, event)
		results = append(results, result)
		if !result.Success {
			if err := r.executor.handleFailure(result, reg.failureMode); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return results, firstErr
}

// HasHooksFor reports whether any hook listens for the event type
func (r *Registry) HasHooksFor(eventType EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[eventType]) > 0
}

// Count returns the number of distinct registered hooks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, regs := range r.byEvent {
		for _, reg := range regs {
			seen[reg.hook.Name()] = true
		}
	}
	return len(seen)
}
