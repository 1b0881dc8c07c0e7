package exitcode

import (
	"fmt"
	"testing"

	"github.com/planloop/planloop/internal/errors"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"plain error", fmt.Errorf("something broke"), GeneralError},
		{"cyclic dependency", errors.NewCyclicDependencyError([]string{"a", "b", "a"}), ConfigFatal},
		{"allocation conflict", errors.NewAllocConflictError(5), ConfigFatal},
		{"corrupt counters", errors.NewCorruptCounterError("specNumber", "is negative"), ConfigFatal},
		{"identity divergence", errors.NewIdentityDivergenceError("tk-12"), ConfigFatal},
		{"blocking check failure", errors.NewConsistencyCheckError("ledger unreachable"), ConfigFatal},
		{"wrapped fatal", fmt.Errorf("run failed: %w", errors.NewAllocConflictError(5)), ConfigFatal},
		{"task not found", errors.NewTaskNotFoundError("tk-9"), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.want {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	for _, code := range []int{Success, GeneralError, UsageError, BudgetHalt, StuckHalt, ConfigFatal, Interrupted} {
		if Description(code) == "Unknown error" {
			t.Errorf("Description(%d) should be defined", code)
		}
	}
	if Description(99) != "Unknown error" {
		t.Error("unknown codes should report as unknown")
	}
}
