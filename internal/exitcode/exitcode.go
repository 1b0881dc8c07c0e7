package exitcode

import (
	"os"

	"github.com/planloop/planloop/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates the plan completed (or the command succeeded)
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// BudgetHalt indicates the run stopped because a budget limit was reached
	BudgetHalt = 3

	// StuckHalt indicates the run stopped because the harness signalled it is stuck
	StuckHalt = 4

	// ConfigFatal indicates a fatal configuration error: cyclic dependencies,
	// exhausted allocation conflicts, or corrupt counter state
	ConfigFatal = 5

	// Interrupted indicates the run was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}
	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	switch {
	case errors.HasCode(err, errors.ErrCodeGraphCyclicDep),
		errors.HasCode(err, errors.ErrCodeAllocConflict),
		errors.HasCode(err, errors.ErrCodeAllocCorruptState),
		errors.HasCode(err, errors.ErrCodeConfigInvalid),
		errors.HasCode(err, errors.ErrCodeIdentityDivergence):
		return ConfigFatal
	case errors.HasCode(err, errors.ErrCodeRunCheckFailed):
		return ConfigFatal
	}

	return GeneralError
}

// Description returns a human-readable description of an exit code
func Description(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case BudgetHalt:
		return "Run halted: budget limit reached"
	case StuckHalt:
		return "Run halted: harness reported it is stuck"
	case ConfigFatal:
		return "Fatal configuration error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
