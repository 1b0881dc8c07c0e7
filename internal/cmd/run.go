package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/exitcode"
	"github.com/planloop/planloop/internal/harness"
	"github.com/planloop/planloop/internal/hooks"
	"github.com/planloop/planloop/internal/run"
	"github.com/planloop/planloop/internal/task"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a plan",
	Long: `Execute a plan: walk its epics in order, hand each ready task to the
configured harness, and record every attempt in the run ledger.

The run halts gracefully when a budget limit is reached (exit code 3)
or when the harness signals it is stuck (exit code 4), leaving a
resumable cursor behind. Re-running the same plan resumes from the
cursor.

Examples:
  planloop run --plan auth-rework
  planloop run --plan auth-rework --budget 5.00 --max-iterations 40
  planloop run --plan auth-rework --only-epic tk-12 --skip-checks`,
	RunE: runRun,
}

var (
	runPlan          string
	runStartEpic     string
	runOnlyEpic      string
	runSkipChecks    bool
	runBudget        float64
	runMaxTokens     int64
	runMaxIterations int
)

func init() {
	runCmd.Flags().StringVar(&runPlan, "plan", "", "plan slug to execute (required)")
	runCmd.Flags().StringVar(&runStartEpic, "start-epic", "", "start from this epic instead of the persisted cursor")
	runCmd.Flags().StringVar(&runOnlyEpic, "only-epic", "", "execute only this epic")
	runCmd.Flags().BoolVar(&runSkipChecks, "skip-checks", false, "bypass the pre-run consistency check")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "cost ceiling in USD (0 = config value)")
	runCmd.Flags().Int64Var(&runMaxTokens, "max-tokens", 0, "token ceiling (0 = config value)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "harness invocation ceiling (0 = config value)")
	_ = runCmd.MarkFlagRequired("plan")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Harness.Command == "" {
		return fmt.Errorf("no harness configured: set harness.command in %s/%s", config.DirName, config.FileName)
	}

	registry := hooks.NewRegistry(a.logger)
	for i := range a.cfg.Hooks {
		if err := registry.RegisterFromConfig(&a.cfg.Hooks[i]); err != nil {
			return err
		}
	}

	budget := a.cfg.Budget
	if runBudget > 0 {
		budget.MaxCostUSD = runBudget
	}
	if runMaxTokens > 0 {
		budget.MaxTokens = runMaxTokens
	}
	if runMaxIterations > 0 {
		budget.MaxIterations = runMaxIterations
	}

	runID := uuid.NewString()
	runner := run.NewRunner(run.Deps{
		Config:    a.cfg,
		Backend:   a.store,
		Harness:   harness.NewCommandHarness(a.cfg.Harness.Command, a.cfg.Harness.Args, a.cfg.Harness.Timeout, a.logger),
		Ledger:    a.newLedger(runID),
		Plans:     a.newPlanStore(),
		Allocator: a.newAllocator(),
		Hooks:     registry,
		Logger:    a.logger,
		RunID:     runID,
	})

	summary, err := runner.ExecutePlan(cmd.Context(), runPlan, run.Options{
		StartEpic:  task.ID(runStartEpic),
		OnlyEpic:   task.ID(runOnlyEpic),
		SkipChecks: runSkipChecks,
		Budget:     budget,
	})
	if summary != nil {
		printSummary(summary)
	}
	if err != nil {
		return err
	}

	if summary.Halted() {
		switch summary.HaltReason {
		case run.HaltBudget:
			exitcode.Exit(exitcode.BudgetHalt)
		case run.HaltStuck:
			exitcode.Exit(exitcode.StuckHalt)
		case run.HaltInterrupted:
			exitcode.Exit(exitcode.Interrupted)
		default:
			exitcode.Exit(exitcode.GeneralError)
		}
	}
	return nil
}

func printSummary(s *run.Summary) {
	fmt.Println()
	fmt.Println(styleHeading.Render("Run " + s.RunID[:8] + " — plan " + s.PlanSlug))

	switch {
	case s.Completed():
		fmt.Println(styleOK.Render("  plan complete"))
	case s.Halted():
		fmt.Println(styleErr.Render("  halted: " + s.HaltReason))
		if s.HaltEpic != "" {
			position := "  at epic " + s.HaltEpic.String()
			if s.HaltTask != "" {
				position += ", task " + s.HaltTask.String()
			}
			fmt.Println(styleMuted.Render(position))
		}
	}

	fmt.Printf("  epics completed:  %d\n", len(s.EpicsCompleted))
	fmt.Printf("  tasks attempted:  %d (closed %d, needs review %d)\n",
		s.TasksAttempted, s.TasksClosed, s.TasksNeedsReview)
	fmt.Printf("  cost:             $%.2f, %d tokens, %d invocations\n",
		s.CostUSD, s.Tokens, s.Iterations)
	fmt.Printf("  duration:         %s\n", s.Duration.Round(time.Millisecond))
}
