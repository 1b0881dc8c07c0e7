// Package hooks lets projects react to run lifecycle events with their
// own scripts or webhooks: notifications, CI triggers, bookkeeping.
// Hooks observe the run; they never change its course unless configured
// with the fail mode.
package hooks

import (
	"context"
	"time"
)

// EventType identifies a run lifecycle event
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventTaskFailed    EventType = "task_failed"
	EventEpicCompleted EventType = "epic_completed"
	EventPlanCompleted EventType = "plan_completed"
	EventRunHalted     EventType = "run_halted"
)

// Event is the payload delivered to hooks
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PlanSlug  string         `json:"plan_slug,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, runID, planSlug string, data map[string]any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		PlanSlug:  planSlug,
		Data:      data,
	}
}

// GetString gets a string value from event data
func (e *Event) GetString(key string) string {
	if val, ok := e.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// Hook is implemented by anything that reacts to lifecycle events
type Hook interface {
	Name() string
	EventTypes() []EventType
	Execute(ctx context.Context, event *Event) error
	Enabled() bool
}

// FailureMode decides what a hook failure does to the run
type FailureMode string

const (
	FailureIgnore FailureMode = "ignore"
	FailureWarn   FailureMode = "warn"
	FailureFail   FailureMode = "fail"
)

// Valid reports whether m is a known failure mode
func (m FailureMode) Valid() bool {
	switch m {
	case FailureIgnore, FailureWarn, FailureFail:
		return true
	}
	return false
}

// DefaultTimeout bounds a hook execution unless configured otherwise
const DefaultTimeout = 30 * time.Second

// Config declares one hook in the project configuration
type Config struct {
	Name        string        `yaml:"name" json:"name"`
	Type        string        `yaml:"type" json:"type"`
	Events      []EventType   `yaml:"events" json:"events"`
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Command     string        `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string      `yaml:"args,omitempty" json:"args,omitempty"`
	URL         string        `yaml:"url,omitempty" json:"url,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	FailureMode FailureMode   `yaml:"failure_mode,omitempty" json:"failure_mode,omitempty"`
}

// ExecutionResult records one hook invocation
type ExecutionResult struct {
	HookName  string        `json:"hook_name"`
	EventType EventType     `json:"event_type"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Factory creates hooks from configuration
type Factory func(config *Config) (Hook, error)
