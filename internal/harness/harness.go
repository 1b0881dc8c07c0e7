// Package harness defines the contract between the run loop and the
// external agent that actually performs a task. The engine knows nothing
// about how work gets done; it hands a task over and receives an outcome.
package harness

import (
	"context"
	"time"

	"github.com/planloop/planloop/internal/task"
)

// Result classifies one harness invocation
type Result string

const (
	// ResultSuccess means the task's acceptance criteria were met
	ResultSuccess Result = "success"

	// ResultFailure means the attempt failed; the task may be retried
	ResultFailure Result = "failure"

	// ResultStuck means the agent cannot make progress; the run halts
	ResultStuck Result = "stuck"
)

// Valid reports whether r is a known result
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultStuck:
		return true
	}
	return false
}

// Invocation carries everything the harness needs for one attempt
type Invocation struct {
	Task               task.Record
	PlanSlug           string
	Attempt            int
	BudgetRemainingUSD float64
}

// Outcome is what an attempt produced. Cost and token figures feed the
// run budget; duration feeds the ledger.
type Outcome struct {
	Result   Result        `json:"result"`
	CostUSD  float64       `json:"cost_usd"`
	Tokens   int64         `json:"tokens"`
	Duration time.Duration `json:"-"`
	Summary  string        `json:"summary,omitempty"`
}

// Harness executes one task attempt. Execute returns an error only when
// the invocation itself could not be carried out; an agent that ran and
// failed is a ResultFailure outcome, not an error.
type Harness interface {
	Name() string
	Execute(ctx context.Context, inv Invocation) (*Outcome, error)
}
