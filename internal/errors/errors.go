package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Allocator errors (ALLOC-001 to ALLOC-099)
	ErrCodeAllocConflict       ErrorCode = "ALLOC-001"
	ErrCodeAllocCorruptState   ErrorCode = "ALLOC-002"
	ErrCodeAllocStoreUnreachable ErrorCode = "ALLOC-003"

	// Graph errors (GRAPH-001 to GRAPH-099)
	ErrCodeGraphCyclicDep  ErrorCode = "GRAPH-001"
	ErrCodeGraphUnknownDep ErrorCode = "GRAPH-002"

	// Backend errors (STORE-001 to STORE-099)
	ErrCodeStoreNotFound    ErrorCode = "STORE-001"
	ErrCodeStoreDuplicateID ErrorCode = "STORE-002"
	ErrCodeStoreInvalidTask ErrorCode = "STORE-003"
	ErrCodeStoreUnavailable ErrorCode = "STORE-004"

	// Divergence errors (DIVERGE-001 to DIVERGE-099)
	ErrCodeIdentityDivergence ErrorCode = "DIVERGE-001"

	// Run loop errors (RUN-001 to RUN-099)
	ErrCodeRunPlanNotFound   ErrorCode = "RUN-001"
	ErrCodeRunEpicNotFound   ErrorCode = "RUN-002"
	ErrCodeRunCheckFailed    ErrorCode = "RUN-003"
	ErrCodeRunHarnessFailure ErrorCode = "RUN-004"

	// Hook errors (HOOK-001 to HOOK-099)
	ErrCodeHookFailed  ErrorCode = "HOOK-001"
	ErrCodeHookTimeout ErrorCode = "HOOK-002"

	// Configuration errors (CFG-001 to CFG-099)
	ErrCodeConfigInvalid  ErrorCode = "CFG-001"
	ErrCodeConfigNotFound ErrorCode = "CFG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeFileUnmarshal   ErrorCode = "IO-004"
	ErrCodeFileMarshal     ErrorCode = "IO-005"
)

// Error represents an enhanced error with code, suggestions, and a cause
type Error struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new Error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// HasCode reports whether err carries the given error code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Common error constructors for frequently used errors

// NewAllocConflictError creates a terminal allocation conflict error after
// the compare-and-swap retry budget is exhausted
func NewAllocConflictError(attempts int) *Error {
	return New(ErrCodeAllocConflict, fmt.Sprintf("counter allocation failed after %d attempts: store advanced concurrently on every try", attempts)).
		WithSuggestion("Check whether many working copies are allocating IDs at the same time").
		WithSuggestion("Run 'planloop counters verify' to inspect the shared counter state")
}

// NewCorruptCounterError creates a structural counter corruption error naming the field
func NewCorruptCounterError(field string, detail string) *Error {
	return New(ErrCodeAllocCorruptState, fmt.Sprintf("counter state is structurally invalid: field %q %s", field, detail)).
		WithSuggestion("Inspect the counters document on the sync branch").
		WithSuggestion("Restore the counter document from a known-good commit")
}

// NewCyclicDependencyError creates a construction-time cycle error
func NewCyclicDependencyError(cycle []string) *Error {
	return New(ErrCodeGraphCyclicDep, fmt.Sprintf("cyclic dependency detected: %s", strings.Join(cycle, " -> "))).
		WithSuggestion("Remove one edge of the cycle with 'planloop task dep remove'").
		WithSuggestion("Run 'planloop task blocked' to review the dependency structure")
}

// NewUnknownDependencyError creates an error for an edge to a task that does not exist
func NewUnknownDependencyError(taskID, depID string) *Error {
	return New(ErrCodeGraphUnknownDep, fmt.Sprintf("task %s depends on unknown task %s", taskID, depID)).
		WithSuggestion("Check for typos in the dependency id").
		WithSuggestion("The dependency may have been deleted; remove the stale edge")
}

// NewTaskNotFoundError creates a task lookup error
func NewTaskNotFoundError(id string) *Error {
	return New(ErrCodeStoreNotFound, fmt.Sprintf("task not found: %s", id)).
		WithSuggestion("Run 'planloop task list' to see known tasks")
}

// NewIdentityDivergenceError creates the fatal dual-backend identity violation error
func NewIdentityDivergenceError(id string) *Error {
	return New(ErrCodeIdentityDivergence, fmt.Sprintf("task id %s resolves to two structurally different tasks with different creation timestamps", id)).
		WithSuggestion("This indicates an ID collision between working copies").
		WithSuggestion("Run 'planloop counters verify' before pushing to detect collisions early")
}

// NewPlanNotFoundError creates a plan lookup error
func NewPlanNotFoundError(slug string) *Error {
	return New(ErrCodeRunPlanNotFound, fmt.Sprintf("plan not found: %s", slug)).
		WithSuggestion("Run 'planloop run --plan <slug>' to create a plan on first run")
}

// NewConsistencyCheckError creates a blocking pre-run check failure
func NewConsistencyCheckError(detail string) *Error {
	return New(ErrCodeRunCheckFailed, fmt.Sprintf("pre-run consistency check failed: %s", detail)).
		WithSuggestion("Fix the reported problem, or bypass with --skip-checks if you know it is safe")
}

// NewFileReadError creates a file read error
func NewFileReadError(path string, cause error) *Error {
	return Wrap(ErrCodeFileReadFailed, fmt.Sprintf("failed to read file: %s", path), cause).
		WithSuggestion("Check that the file exists and is readable")
}

// NewFileWriteError creates a file write error
func NewFileWriteError(path string, cause error) *Error {
	return Wrap(ErrCodeFileWriteFailed, fmt.Sprintf("failed to write file: %s", path), cause).
		WithSuggestion("Check directory permissions and available disk space")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *Error {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
