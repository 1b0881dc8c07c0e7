package run

import (
	"context"
	stderrors "errors"

	"github.com/planloop/planloop/internal/backend"
	"github.com/planloop/planloop/internal/counter"
	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/graph"
	"github.com/planloop/planloop/internal/ledger"
)

// Severity grades a check finding
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Finding is one line of the consistency report
type Finding struct {
	Name     string
	Severity Severity
	Detail   string
}

// CheckResult is the outcome of the pre-run consistency check
type CheckResult struct {
	Findings []Finding
}

// Blocking reports whether any finding must stop the run
func (r *CheckResult) Blocking() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first critical finding
func (r *CheckResult) FirstBlocking() (Finding, bool) {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return f, true
		}
	}
	return Finding{}, false
}

func (r *CheckResult) add(name string, severity Severity, detail string) {
	r.Findings = append(r.Findings, Finding{Name: name, Severity: severity, Detail: detail})
}

// Check verifies the stores a run depends on. It is read-only and fast:
// minor issues warn, structural corruption blocks. The run loop calls it
// before every run unless --skip-checks; the doctor command exposes it
// standalone.
func Check(ctx context.Context, store backend.Backend, led *ledger.Ledger, alloc *counter.Allocator) *CheckResult {
	result := &CheckResult{}

	records, err := store.List(ctx, backend.ListFilter{})
	if err != nil {
		result.add("task backend", SeverityCritical, "unreachable: "+err.Error())
	} else {
		result.add("task backend", SeverityOK, "reachable")
		if graph.HasCycle(records) {
			result.add("dependency graph", SeverityCritical, "dependency cycle present; the ready set can never drain")
		} else {
			result.add("dependency graph", SeverityOK, "acyclic")
		}
	}

	if led != nil {
		if _, err := led.Entries(); err != nil {
			result.add("run ledger", SeverityWarn, "unreadable: "+err.Error())
		} else {
			result.add("run ledger", SeverityOK, "readable")
		}
	}

	if alloc != nil {
		state, err := alloc.ReadCounters(ctx)
		switch {
		case errors.HasCode(err, errors.ErrCodeAllocCorruptState):
			result.add("counter state", SeverityCritical, err.Error())
		case stderrors.Is(err, counter.ErrNotInitialized) || errors.HasCode(err, errors.ErrCodeAllocStoreUnreachable):
			result.add("counter state", SeverityWarn, "store not initialized; first allocation will set it up")
		case err != nil:
			result.add("counter state", SeverityWarn, "unreachable: "+err.Error())
		default:
			if verr := state.Validate(); verr != nil {
				result.add("counter state", SeverityCritical, verr.Error())
			} else {
				result.add("counter state", SeverityOK, "structurally valid")
			}
		}
	}

	return result
}
