package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/log"
)

// CommandHarness launches a configured command per attempt. The task
// context travels through PLANLOOP_* environment variables; the outcome
// comes back as a JSON document on the command's stdout (last parseable
// line wins, so the agent is free to print progress above it).
type CommandHarness struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration

	logger *log.Logger
}

// NewCommandHarness builds a harness around command. A zero timeout
// means the attempt runs until the invocation context is done.
func NewCommandHarness(command string, args []string, timeout time.Duration, logger *log.Logger) *CommandHarness {
	if logger == nil {
		logger = log.Default()
	}
	return &CommandHarness{Command: command, Args: args, Timeout: timeout, logger: logger}
}

// Name implements Harness
func (h *CommandHarness) Name() string { return "command(" + h.Command + ")" }

// outcomeDocument is the wire shape the command prints on stdout
type outcomeDocument struct {
	Result  string  `json:"result"`
	CostUSD float64 `json:"cost_usd"`
	Tokens  int64   `json:"tokens"`
	Summary string  `json:"summary"`
}

// Execute implements Harness
func (h *CommandHarness) Execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	taskJSON, err := json.Marshal(inv.Task)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunHarnessFailure, "failed to encode task context", err)
	}

	cmd := exec.CommandContext(ctx, h.Command, h.Args...)
	cmd.Dir = h.Dir
	cmd.Env = append(os.Environ(),
		"PLANLOOP_TASK_ID="+inv.Task.ID.String(),
		"PLANLOOP_TASK_TITLE="+inv.Task.Title,
		"PLANLOOP_TASK="+string(taskJSON),
		"PLANLOOP_PLAN="+inv.PlanSlug,
		fmt.Sprintf("PLANLOOP_ATTEMPT=%d", inv.Attempt),
		fmt.Sprintf("PLANLOOP_BUDGET_REMAINING_USD=%.4f", inv.BudgetRemainingUSD),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		// A timeout or non-zero exit is a failed attempt, not an engine
		// error; the run loop decides whether to retry.
		h.logger.Warn("harness command failed",
			"task_id", inv.Task.ID.String(),
			"attempt", inv.Attempt,
			"error", runErr.Error(),
			"stderr", truncate(stderr.String(), 512),
		)
		outcome := &Outcome{Result: ResultFailure, Duration: elapsed}
		// Cost may still have accrued; honor a document if one was printed
		if doc, ok := lastOutcomeDocument(stdout.String()); ok {
			outcome.CostUSD = doc.CostUSD
			outcome.Tokens = doc.Tokens
			outcome.Summary = doc.Summary
		}
		return outcome, nil
	}

	doc, ok := lastOutcomeDocument(stdout.String())
	if !ok {
		return nil, errors.New(errors.ErrCodeRunHarnessFailure,
			fmt.Sprintf("harness %s exited successfully but printed no outcome document", h.Command)).
			WithSuggestion(`The command must print a JSON line like {"result":"success","cost_usd":0.10,"tokens":1500} on stdout`)
	}

	result := Result(doc.Result)
	if !result.Valid() {
		return nil, errors.New(errors.ErrCodeRunHarnessFailure,
			fmt.Sprintf("harness %s reported unknown result %q", h.Command, doc.Result)).
			WithSuggestion(`Valid results are "success", "failure", and "stuck"`)
	}

	return &Outcome{
		Result:   result,
		CostUSD:  doc.CostUSD,
		Tokens:   doc.Tokens,
		Duration: elapsed,
		Summary:  doc.Summary,
	}, nil
}

// lastOutcomeDocument scans stdout bottom-up for the last line that
// parses as an outcome document
func lastOutcomeDocument(out string) (outcomeDocument, bool) {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var doc outcomeDocument
		if err := json.Unmarshal([]byte(line), &doc); err == nil && doc.Result != "" {
			return doc, true
		}
	}
	return outcomeDocument{}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
