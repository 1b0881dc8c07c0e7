// Package run drives a plan to completion: it walks the plan's epics in
// order, repeatedly selects the next ready task, hands it to the harness,
// and records every transition in the ledger. The loop is a small state
// machine; budgets and stuck signals halt it gracefully with a resumable
// cursor left behind.
package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planloop/planloop/internal/backend"
	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/counter"
	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/graph"
	"github.com/planloop/planloop/internal/harness"
	"github.com/planloop/planloop/internal/hooks"
	"github.com/planloop/planloop/internal/ledger"
	"github.com/planloop/planloop/internal/log"
	"github.com/planloop/planloop/internal/task"
)

// Phase is the runner's position in its state machine
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSelecting  Phase = "selecting"
	PhaseExecuting  Phase = "executing"
	PhaseEvaluating Phase = "evaluating"
	PhaseComplete   Phase = "complete"
	PhaseHalted     Phase = "halted"
)

// Halt reasons reported in summaries and hook payloads
const (
	HaltBudget      = "stopped: budget"
	HaltStuck       = "stopped: stuck"
	HaltNoReady     = "stopped: no ready tasks"
	HaltInterrupted = "stopped: interrupted"
)

// Options tune one ExecutePlan call
type Options struct {
	// StartEpic overrides the persisted cursor
	StartEpic task.ID

	// OnlyEpic restricts the run to a single epic
	OnlyEpic task.ID

	// SkipChecks bypasses the pre-run consistency check
	SkipChecks bool

	// Budget caps the run; zero fields mean unlimited
	Budget config.BudgetConfig
}

// Summary is what a run produced
type Summary struct {
	RunID    string
	PlanSlug string
	Phase    Phase

	HaltReason string
	// Position of the halt, when halted
	HaltEpic task.ID
	HaltTask task.ID

	EpicsCompleted   []task.ID
	TasksAttempted   int
	TasksClosed      int
	TasksNeedsReview int

	CostUSD    float64
	Tokens     int64
	Iterations int
	Duration   time.Duration
}

// Completed reports whether the plan finished
func (s *Summary) Completed() bool { return s.Phase == PhaseComplete }

// Halted reports whether the run stopped before the plan finished
func (s *Summary) Halted() bool { return s.Phase == PhaseHalted }

// Runner executes plans. One Runner serves one working copy.
type Runner struct {
	cfg       *config.Config
	store     backend.Backend
	harness   harness.Harness
	ledger    *ledger.Ledger
	plans     *ledger.PlanStore
	allocator *counter.Allocator
	hooks     *hooks.Registry
	logger    *log.Logger

	runID string
	phase Phase

	// attempts tracks per-task attempt counts within this run
	attempts map[task.ID]int

	// Cost and tokens of the most recent attempt, used as the projection
	// for the next one in the pre-invocation budget check
	lastCostUSD float64
	lastTokens  int64
}

// Deps carries the runner's collaborators. Allocator and Hooks are
// optional; everything else is required.
type Deps struct {
	Config    *config.Config
	Backend   backend.Backend
	Harness   harness.Harness
	Ledger    *ledger.Ledger
	Plans     *ledger.PlanStore
	Allocator *counter.Allocator
	Hooks     *hooks.Registry
	Logger    *log.Logger

	// RunID tags this run; generated when empty. Pass the same id to
	// ledger.Open so ledger entries and hook payloads agree.
	RunID string
}

// NewRunner wires a runner from its dependencies
func NewRunner(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	registry := deps.Hooks
	if registry == nil {
		registry = hooks.NewRegistry(logger)
	}
	runID := deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Runner{
		cfg:       deps.Config,
		store:     deps.Backend,
		harness:   deps.Harness,
		ledger:    deps.Ledger,
		plans:     deps.Plans,
		allocator: deps.Allocator,
		hooks:     registry,
		logger:    logger,
		runID:     runID,
		phase:     PhaseIdle,
		attempts:  make(map[task.ID]int),
	}
}

// RunID identifies this run in ledger entries and hook payloads
func (r *Runner) RunID() string { return r.runID }

// Phase returns the runner's current state-machine position
func (r *Runner) Phase() Phase { return r.phase }

// ExecutePlan walks the plan named by slug until it completes or halts.
// The returned summary is valid in both cases; the error is non-nil only
// for engine failures (blocked checks, unreachable stores, harness
// invocation problems), never for a graceful halt.
func (r *Runner) ExecutePlan(ctx context.Context, slug string, opts Options) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: r.runID, PlanSlug: slug, Phase: PhaseIdle}
	defer func() { summary.Duration = time.Since(start) }()

	if !opts.SkipChecks {
		result := Check(ctx, r.store, r.ledger, r.allocator)
		if finding, blocked := result.FirstBlocking(); blocked {
			return summary, errors.NewConsistencyCheckError(finding.Name + ": " + finding.Detail)
		}
		for _, f := range result.Findings {
			if f.Severity == SeverityWarn {
				r.logger.Warn("pre-run check", "check", f.Name, "detail", f.Detail)
			}
		}
	}

	record, err := r.loadOrCreatePlan(ctx, slug)
	if err != nil {
		return summary, err
	}
	if record.Status == ledger.PlanComplete {
		summary.Phase = PhaseComplete
		return summary, nil
	}

	epics, err := r.epicWindow(record, opts)
	if err != nil {
		return summary, err
	}

	if err := r.fireHook(ctx, hooks.EventRunStarted, slug, map[string]any{
		"cursor_epic": record.CursorEpic.String(),
	}); err != nil {
		return summary, err
	}

	for _, epicID := range epics {
		record.CursorEpic = epicID
		record.Status = ledger.PlanActive
		if err := r.plans.Save(record); err != nil {
			return summary, err
		}

		halted, err := r.runEpic(ctx, record, epicID, opts, summary)
		if err != nil {
			return summary, err
		}
		if halted {
			return r.halt(ctx, record, summary)
		}
	}

	record.Status = ledger.PlanComplete
	if err := r.plans.Save(record); err != nil {
		return summary, err
	}
	if err := r.ledger.AppendPlan(ledger.PlanEntry{
		Slug:      record.Slug,
		Status:    string(ledger.PlanComplete),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}); err != nil {
		return summary, err
	}
	if err := r.fireHook(ctx, hooks.EventPlanCompleted, slug, map[string]any{
		"epics_completed": len(summary.EpicsCompleted),
		"cost_usd":        summary.CostUSD,
	}); err != nil {
		return summary, err
	}

	r.phase = PhaseComplete
	summary.Phase = PhaseComplete
	return summary, nil
}

// loadOrCreatePlan resolves the durable plan record, creating and
// persisting it before any stage executes so a resumable cursor always
// exists.
func (r *Runner) loadOrCreatePlan(ctx context.Context, slug string) (*ledger.PlanRecord, error) {
	if r.plans.Exists(slug) {
		return r.plans.Load(slug)
	}

	epics, err := epicOrder(ctx, r.store, r.cfg.PlansDir(), slug)
	if err != nil {
		return nil, err
	}
	if len(epics) == 0 {
		return nil, errors.New(errors.ErrCodeRunEpicNotFound, "plan "+slug+" has no epics to run").
			WithSuggestion("Create epics with 'planloop task create --type epic'").
			WithSuggestion("Or write a plan manifest at " + r.cfg.PlansDir() + "/" + slug + ".yaml")
	}

	record := &ledger.PlanRecord{
		Slug:       slug,
		Epics:      epics,
		CursorEpic: epics[0],
		Status:     ledger.PlanActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.plans.Save(record); err != nil {
		return nil, err
	}
	if err := r.ledger.AppendPlan(ledger.PlanEntry{
		Slug:       slug,
		CursorEpic: record.CursorEpic,
		Status:     string(ledger.PlanActive),
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	return record, nil
}

// epicWindow computes which epics this call will walk, honoring the
// persisted cursor and the start/only overrides
func (r *Runner) epicWindow(record *ledger.PlanRecord, opts Options) ([]task.ID, error) {
	if opts.OnlyEpic != "" {
		for _, id := range record.Epics {
			if id == opts.OnlyEpic {
				return []task.ID{id}, nil
			}
		}
		return nil, errors.New(errors.ErrCodeRunEpicNotFound,
			fmt.Sprintf("epic %s is not part of plan %s", opts.OnlyEpic, record.Slug))
	}

	start := record.CursorIndex()
	if opts.StartEpic != "" {
		found := false
		for i, id := range record.Epics {
			if id == opts.StartEpic {
				start = i
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New(errors.ErrCodeRunEpicNotFound,
				fmt.Sprintf("epic %s is not part of plan %s", opts.StartEpic, record.Slug))
		}
	}
	return record.Epics[start:], nil
}

// runEpic drains one epic's ready set. Returns halted=true when the run
// must stop (budget, stuck, interrupt, or a drained-but-incomplete epic).
func (r *Runner) runEpic(ctx context.Context, record *ledger.PlanRecord, epicID task.ID, opts Options, summary *Summary) (bool, error) {
	for {
		if ctx.Err() != nil {
			summary.HaltReason = HaltInterrupted
			summary.HaltEpic = epicID
			return true, nil
		}

		r.phase = PhaseSelecting
		records, err := r.store.List(ctx, backend.ListFilter{})
		if err != nil {
			return false, err
		}

		done, err := r.epicComplete(records, epicID)
		if err != nil {
			return false, err
		}
		if done {
			if err := r.recordEpicCompletion(ctx, record, epicID, summary); err != nil {
				return false, err
			}
			return false, nil
		}

		g, err := graph.New(records)
		if err != nil {
			return false, err
		}
		next, ok := g.Next(graph.SelectOptions{
			ImpactOrdering: r.cfg.Run.ImpactOrdering,
			ExcludeLabels:  []string{task.LabelNeedsReview},
			Parent:         epicID,
		})
		if !ok {
			// Open work remains but nothing is selectable: everything
			// left is either blocked or parked in needs-review
			summary.HaltReason = HaltNoReady
			summary.HaltEpic = epicID
			return true, nil
		}

		if reason, exceeded := r.budgetExceeded(opts.Budget, summary); exceeded {
			summary.HaltReason = reason
			summary.HaltEpic = epicID
			summary.HaltTask = next.ID
			return true, nil
		}

		halted, err := r.runTask(ctx, record, epicID, next.ID, opts.Budget, summary)
		if err != nil || halted {
			return halted, err
		}
	}
}

// budgetExceeded applies the pre-invocation budget check. The check is
// predictive: the most recent attempt's cost and tokens serve as the
// estimate for the next one, and the run halts as soon as that projection
// would cross a limit. Under a $1.00 ceiling with attempts costing $0.40
// each, two attempts run and the third never starts.
func (r *Runner) budgetExceeded(budget config.BudgetConfig, summary *Summary) (string, bool) {
	if budget.MaxCostUSD > 0 &&
		(summary.CostUSD >= budget.MaxCostUSD || summary.CostUSD+r.lastCostUSD > budget.MaxCostUSD) {
		return HaltBudget, true
	}
	if budget.MaxTokens > 0 &&
		(summary.Tokens >= budget.MaxTokens || summary.Tokens+r.lastTokens > budget.MaxTokens) {
		return HaltBudget, true
	}
	if budget.MaxIterations > 0 && summary.Iterations >= budget.MaxIterations {
		return HaltBudget, true
	}
	return "", false
}

// runTask executes one attempt of one task
func (r *Runner) runTask(ctx context.Context, record *ledger.PlanRecord, epicID, taskID task.ID, budget config.BudgetConfig, summary *Summary) (bool, error) {
	current, err := r.store.Get(ctx, taskID)
	if err != nil {
		return false, err
	}

	inProgress := current.Clone()
	inProgress.Status = task.StatusInProgress
	if _, err := r.store.Update(ctx, inProgress); err != nil {
		return false, err
	}

	r.attempts[taskID]++
	attempt := r.attempts[taskID]
	summary.TasksAttempted++

	remaining := 0.0
	if budget.MaxCostUSD > 0 {
		remaining = max(0, budget.MaxCostUSD-summary.CostUSD)
	}

	r.phase = PhaseExecuting
	r.logger.Info("executing task",
		"task_id", taskID.String(), "epic", epicID.String(), "attempt", attempt)

	outcome, err := r.harness.Execute(ctx, harness.Invocation{
		Task:               *current,
		PlanSlug:           record.Slug,
		Attempt:            attempt,
		BudgetRemainingUSD: remaining,
	})
	if err != nil {
		return false, err
	}

	r.phase = PhaseEvaluating
	summary.CostUSD += outcome.CostUSD
	summary.Tokens += outcome.Tokens
	summary.Iterations++
	r.lastCostUSD = outcome.CostUSD
	r.lastTokens = outcome.Tokens

	entry := ledger.TaskAttemptEntry{
		TaskID:          taskID,
		Attempt:         attempt,
		CostUSD:         outcome.CostUSD,
		Tokens:          outcome.Tokens,
		DurationSeconds: outcome.Duration.Seconds(),
	}

	switch outcome.Result {
	case harness.ResultSuccess:
		entry.Result = ledger.ResultSuccess
		if err := r.ledger.AppendTaskAttempt(entry); err != nil {
			return false, err
		}
		if r.cfg.Run.AutoClose {
			if _, err := r.store.Close(ctx, taskID); err != nil {
				return false, err
			}
			summary.TasksClosed++
		}
		return false, nil

	case harness.ResultStuck:
		entry.Result = ledger.ResultStuck
		if err := r.ledger.AppendTaskAttempt(entry); err != nil {
			return false, err
		}
		// Leave the task open so a human can pick it up where the agent
		// stopped
		if _, err := r.store.Reopen(ctx, taskID); err != nil {
			return false, err
		}
		summary.HaltReason = HaltStuck
		summary.HaltEpic = epicID
		summary.HaltTask = taskID
		return true, nil

	default: // failure
		entry.Result = ledger.ResultFailure
		if err := r.ledger.AppendTaskAttempt(entry); err != nil {
			return false, err
		}
		if _, err := r.store.Reopen(ctx, taskID); err != nil {
			return false, err
		}
		if err := r.fireHook(ctx, hooks.EventTaskFailed, record.Slug, map[string]any{
			"task_id": taskID.String(),
			"attempt": attempt,
			"summary": outcome.Summary,
		}); err != nil {
			return false, err
		}
		if attempt >= r.cfg.Run.MaxAttempts {
			r.logger.Warn("task exhausted attempts, parking for review",
				"task_id", taskID.String(), "attempts", attempt)
			if _, err := r.store.AddLabel(ctx, taskID, task.LabelNeedsReview); err != nil {
				return false, err
			}
			summary.TasksNeedsReview++
		}
		return false, nil
	}
}

// epicComplete reports whether every member task of the epic is closed.
// An epic with no members counts as complete.
func (r *Runner) epicComplete(records []task.Record, epicID task.ID) (bool, error) {
	found := false
	for i := range records {
		if records[i].ID == epicID {
			found = true
			break
		}
	}
	if !found {
		return false, errors.New(errors.ErrCodeRunEpicNotFound, "epic "+epicID.String()+" not found in the task store")
	}
	for i := range records {
		if records[i].Parent == epicID && records[i].Status != task.StatusClosed {
			return false, nil
		}
	}
	return true, nil
}

// recordEpicCompletion appends the EpicEntry exactly once and fires the
// end-of-epic hook. Re-running a plan over an already-recorded epic is a
// no-op here.
func (r *Runner) recordEpicCompletion(ctx context.Context, record *ledger.PlanRecord, epicID task.ID, summary *Summary) error {
	already, err := r.ledger.EpicCompleted(record.Slug, epicID)
	if err != nil {
		return err
	}
	summary.EpicsCompleted = append(summary.EpicsCompleted, epicID)
	if already {
		return nil
	}

	if err := r.ledger.AppendEpic(ledger.EpicEntry{
		EpicID:      epicID,
		PlanSlug:    record.Slug,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if r.cfg.Run.AutoClose {
		epic, err := r.store.Get(ctx, epicID)
		if err != nil {
			return err
		}
		if epic.Status != task.StatusClosed {
			if _, err := r.store.Close(ctx, epicID); err != nil {
				return err
			}
		}
	}
	return r.fireHook(ctx, hooks.EventEpicCompleted, record.Slug, map[string]any{
		"epic_id": epicID.String(),
	})
}

// halt persists the halted plan state and reports the position
func (r *Runner) halt(ctx context.Context, record *ledger.PlanRecord, summary *Summary) (*Summary, error) {
	record.Status = ledger.PlanHalted
	if err := r.plans.Save(record); err != nil {
		return summary, err
	}
	if err := r.ledger.AppendPlan(ledger.PlanEntry{
		Slug:       record.Slug,
		CursorEpic: record.CursorEpic,
		Status:     string(ledger.PlanHalted),
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}); err != nil {
		return summary, err
	}

	// Already halting; a failing halt hook cannot make things worse
	if err := r.fireHook(ctx, hooks.EventRunHalted, record.Slug, map[string]any{
		"reason":  summary.HaltReason,
		"epic_id": summary.HaltEpic.String(),
		"task_id": summary.HaltTask.String(),
	}); err != nil {
		r.logger.Error("halt hook failure", "error", err.Error())
	}

	r.logger.Warn("run halted",
		"reason", summary.HaltReason,
		"plan", record.Slug,
		"epic", summary.HaltEpic.String(),
		"task", summary.HaltTask.String(),
	)

	r.phase = PhaseHalted
	summary.Phase = PhaseHalted
	return summary, nil
}

// fireHook triggers hooks for an event. The error is non-nil only when a
// fail-mode hook failed; the caller decides whether that unwinds the run.
func (r *Runner) fireHook(ctx context.Context, event hooks.EventType, slug string, data map[string]any) error {
	if r.hooks == nil {
		return nil
	}
	_, err := r.hooks.Trigger(ctx, hooks.NewEvent(event, r.runID, slug, data))
	return err
}
