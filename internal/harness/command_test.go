package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

func shellHarness(script string, timeout time.Duration) *CommandHarness {
	return NewCommandHarness("sh", []string{"-c", script}, timeout, nil)
}

func testInvocation() Invocation {
	return Invocation{
		Task: task.Record{
			ID:     "tk-1",
			Title:  "wire the flux capacitor",
			Status: task.StatusInProgress,
			Type:   task.TypeTask,
		},
		PlanSlug:           "time-travel",
		Attempt:            1,
		BudgetRemainingUSD: 2.5,
	}
}

func TestCommandHarness_ParsesOutcomeDocument(t *testing.T) {
	h := shellHarness(`echo '{"result":"success","cost_usd":0.25,"tokens":1800,"summary":"done"}'`, 0)

	outcome, err := h.Execute(context.Background(), testInvocation())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.Equal(t, 0.25, outcome.CostUSD)
	assert.Equal(t, int64(1800), outcome.Tokens)
	assert.Equal(t, "done", outcome.Summary)
	assert.Greater(t, outcome.Duration, time.Duration(0))
}

func TestCommandHarness_LastDocumentWins(t *testing.T) {
	h := shellHarness(`
echo "working on it..."
echo '{"result":"failure","cost_usd":0.1}'
echo "recovered, retrying inline"
echo '{"result":"success","cost_usd":0.3,"tokens":900}'
`, 0)

	outcome, err := h.Execute(context.Background(), testInvocation())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.Equal(t, 0.3, outcome.CostUSD)
}

func TestCommandHarness_TaskContextInEnvironment(t *testing.T) {
	h := shellHarness(`printf '{"result":"success","summary":"%s %s %s"}\n' "$PLANLOOP_TASK_ID" "$PLANLOOP_PLAN" "$PLANLOOP_ATTEMPT"`, 0)

	outcome, err := h.Execute(context.Background(), testInvocation())
	require.NoError(t, err)
	assert.Equal(t, "tk-1 time-travel 1", outcome.Summary)
}

func TestCommandHarness_NonZeroExitIsFailure(t *testing.T) {
	h := shellHarness(`echo '{"result":"success","cost_usd":0.15}'; exit 1`, 0)

	outcome, err := h.Execute(context.Background(), testInvocation())
	require.NoError(t, err, "a failed attempt is an outcome, not an engine error")
	assert.Equal(t, ResultFailure, outcome.Result)
	assert.Equal(t, 0.15, outcome.CostUSD, "cost accrued before the failure still counts")
}

func TestCommandHarness_TimeoutIsFailure(t *testing.T) {
	h := shellHarness(`sleep 5`, 50*time.Millisecond)

	outcome, err := h.Execute(context.Background(), testInvocation())
	require.NoError(t, err)
	assert.Equal(t, ResultFailure, outcome.Result)
}

func TestCommandHarness_MissingDocumentIsError(t *testing.T) {
	h := shellHarness(`echo "no json here"`, 0)

	_, err := h.Execute(context.Background(), testInvocation())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRunHarnessFailure))
}

func TestCommandHarness_UnknownResultIsError(t *testing.T) {
	h := shellHarness(`echo '{"result":"maybe"}'`, 0)

	_, err := h.Execute(context.Background(), testInvocation())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRunHarnessFailure))
}

func TestCommandHarness_StuckSignal(t *testing.T) {
	h := shellHarness(`echo '{"result":"stuck","summary":"cannot resolve merge conflict"}'`, 0)

	outcome, err := h.Execute(context.Background(), testInvocation())
	require.NoError(t, err)
	assert.Equal(t, ResultStuck, outcome.Result)
}

func TestResult_Valid(t *testing.T) {
	assert.True(t, ResultSuccess.Valid())
	assert.True(t, ResultFailure.Valid())
	assert.True(t, ResultStuck.Valid())
	assert.False(t, Result("maybe").Valid())
	assert.False(t, Result("").Valid())
}
