package hooks

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/log"
)

// Executor runs hooks with a bounded execution time
type Executor struct {
	defaultTimeout time.Duration
	logger         *log.Logger
}

// NewExecutor creates a hook executor
func NewExecutor(logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{defaultTimeout: DefaultTimeout, logger: logger}
}

// SetDefaultTimeout overrides the timeout applied to hooks that do not
// configure their own
func (e *Executor) SetDefaultTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.defaultTimeout = timeout
	}
}

// Execute runs a single hook under its timeout
func (e *Executor) Execute(ctx context.Context, hook Hook, timeout time.Duration, event *Event) ExecutionResult {
	result := ExecutionResult{
		HookName:  hook.Name(),
		EventType: event.Type,
		Timestamp: time.Now().UTC(),
	}

	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := hook.Execute(hookCtx, event)
	result.Duration = time.Since(start)

	if err != nil {
		result.Success = false
		if stderrors.Is(hookCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("timed out after %s", timeout)
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.Success = true
	return result
}

// handleFailure converts one failed result into the configured reaction
func (e *Executor) handleFailure(result ExecutionResult, mode FailureMode) error {
	switch mode {
	case FailureIgnore:
		e.logger.Debug("hook failed",
			"hook", result.HookName, "event", string(result.EventType), "error", result.Error)
		return nil
	case FailureFail:
		e.logger.Error("hook failed",
			"hook", result.HookName, "event", string(result.EventType), "error", result.Error)
		return errors.New(errors.ErrCodeHookFailed,
			fmt.Sprintf("hook %s failed for event %s: %s", result.HookName, result.EventType, result.Error))
	default: // warn
		e.logger.Warn("hook failed",
			"hook", result.HookName, "event", string(result.EventType), "error", result.Error)
		return nil
	}
}
