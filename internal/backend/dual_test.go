package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

type captureReporter struct {
	findings []FieldDivergence
}

func (c *captureReporter) ReportDivergence(d FieldDivergence) {
	c.findings = append(c.findings, d)
}

func newDualPair(t *testing.T) (*Dual, *FileBackend, *FileBackend, *captureReporter) {
	dir := t.TempDir()
	primary := NewFileBackend(filepath.Join(dir, "primary.json"))
	secondary := NewFileBackend(filepath.Join(dir, "secondary.json"))
	reporter := &captureReporter{}
	return NewDual(primary, secondary, reporter, nil), primary, secondary, reporter
}

func TestDual_ConformsToBackend(t *testing.T) {
	backendConformance(t, func(t *testing.T) Backend {
		d, _, _, _ := newDualPair(t)
		return d
	})
}

func TestDual_MirrorsWritesToBothStores(t *testing.T) {
	ctx := context.Background()
	dual, primary, secondary, _ := newDualPair(t)

	_, err := dual.Create(ctx, newRecord("tk-1"))
	require.NoError(t, err)

	p, err := primary.Get(ctx, "tk-1")
	require.NoError(t, err)
	s, err := secondary.Get(ctx, "tk-1")
	require.NoError(t, err)
	assert.Equal(t, p.Title, s.Title)
}

func TestDual_LabelOrderIsNotDivergence(t *testing.T) {
	ctx := context.Background()
	dual, primary, secondary, reporter := newDualPair(t)

	_, err := dual.Create(ctx, newRecord("tk-1"))
	require.NoError(t, err)

	// Write the same label set in different orders directly to each store
	_, err = primary.AddLabel(ctx, "tk-1", "a")
	require.NoError(t, err)
	_, err = primary.AddLabel(ctx, "tk-1", "b")
	require.NoError(t, err)
	_, err = secondary.AddLabel(ctx, "tk-1", "b")
	require.NoError(t, err)
	_, err = secondary.AddLabel(ctx, "tk-1", "a")
	require.NoError(t, err)

	_, err = dual.Get(ctx, "tk-1")
	require.NoError(t, err)
	assert.Empty(t, reporter.findings, "same set in different order must not be reported")
}

func TestDual_LabelContentDivergenceIsReported(t *testing.T) {
	ctx := context.Background()
	dual, primary, secondary, reporter := newDualPair(t)

	_, err := dual.Create(ctx, newRecord("tk-1"))
	require.NoError(t, err)

	_, err = primary.AddLabel(ctx, "tk-1", "a")
	require.NoError(t, err)
	_, err = primary.AddLabel(ctx, "tk-1", "b")
	require.NoError(t, err)
	_, err = secondary.AddLabel(ctx, "tk-1", "a")
	require.NoError(t, err)
	_, err = secondary.AddLabel(ctx, "tk-1", "c")
	require.NoError(t, err)

	_, err = dual.Get(ctx, "tk-1")
	require.NoError(t, err, "field divergence is non-fatal")

	require.Len(t, reporter.findings, 1)
	finding := reporter.findings[0]
	assert.Equal(t, task.ID("tk-1"), finding.TaskID)
	assert.Equal(t, "labels", finding.Field)
	assert.Contains(t, finding.PrimaryValue, "b")
	assert.Contains(t, finding.SecondaryValue, "c")
	assert.NotContains(t, finding.PrimaryValue, "a", "only the differing elements are reported")
}

func TestDual_ScalarDivergenceIsReported(t *testing.T) {
	ctx := context.Background()
	dual, primary, _, reporter := newDualPair(t)

	created, err := dual.Create(ctx, newRecord("tk-1"))
	require.NoError(t, err)

	// Drift the primary's priority without going through the dual
	mod := created.Clone()
	mod.Priority = 0
	_, err = primary.Update(ctx, mod)
	require.NoError(t, err)

	_, err = dual.Get(ctx, "tk-1")
	require.NoError(t, err)

	require.NotEmpty(t, reporter.findings)
	assert.Equal(t, "priority", reporter.findings[0].Field)
}

func TestDual_IdentityDivergenceIsFatal(t *testing.T) {
	ctx := context.Background()
	dual, primary, secondary, _ := newDualPair(t)

	a := newRecord("tk-1")
	a.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := primary.Create(ctx, a)
	require.NoError(t, err)

	// Same id allocated by another working copy for unrelated work
	b := newRecord("tk-1")
	b.Title = "completely different task"
	b.Type = task.TypeBug
	b.CreatedAt = time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)
	_, err = secondary.Create(ctx, b)
	require.NoError(t, err)

	_, err = dual.Get(ctx, "tk-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIdentityDivergence))
}

func TestDual_DriftedCreationStampIsNotFatal(t *testing.T) {
	ctx := context.Background()
	dual, primary, secondary, reporter := newDualPair(t)

	a := newRecord("tk-1")
	a.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := primary.Create(ctx, a)
	require.NoError(t, err)

	// The same task stamped a second later by the other store's clock
	b := a.Clone()
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	_, err = secondary.Create(ctx, b)
	require.NoError(t, err)

	_, err = dual.Get(ctx, "tk-1")
	require.NoError(t, err, "same content under drifted clocks is drift, not an id collision")

	// The timestamp difference still surfaces as an ordinary field report
	require.NotEmpty(t, reporter.findings)
	assert.Equal(t, "created_at", reporter.findings[0].Field)
}

func TestDual_SecondaryFailureIsTolerated(t *testing.T) {
	ctx := context.Background()
	dual, _, secondary, _ := newDualPair(t)

	_, err := dual.Create(ctx, newRecord("tk-1"))
	require.NoError(t, err)

	// Remove the task from the secondary only; mutations through the
	// dual still succeed against the primary
	require.NoError(t, secondary.Delete(ctx, "tk-1"))

	closed, err := dual.Close(ctx, "tk-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusClosed, closed.Status)
}

func TestCompareRecords_EqualRecords(t *testing.T) {
	a := newRecord("tk-1")
	a.Labels = []string{"x", "y"}
	b := a.Clone()
	b.Labels = []string{"y", "x"}

	assert.Empty(t, compareRecords(a, b))
}
