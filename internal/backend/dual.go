package backend

import (
	"context"
	"time"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/log"
	"github.com/planloop/planloop/internal/task"
)

// Dual mirrors every mutating call to two independent stores and compares
// the results. Field-level disagreement is reported on the side channel
// and tolerated; the stores converge eventually. The sole fatal
// divergence is an identity violation: the same id resolving to two
// structurally different tasks with different creation timestamps, which
// indicates an ID collision between working copies.
type Dual struct {
	primary   Backend
	secondary Backend
	reporter  Reporter
	logger    *log.Logger
}

// NewDual composes two backends. Reads serve from primary; writes fan out
// to both.
func NewDual(primary, secondary Backend, reporter Reporter, logger *log.Logger) *Dual {
	if logger == nil {
		logger = log.Default()
	}
	if reporter == nil {
		reporter = loggingReporter{logger}
	}
	return &Dual{primary: primary, secondary: secondary, reporter: reporter, logger: logger}
}

// loggingReporter is the default side channel: a structured warning per finding
type loggingReporter struct {
	logger *log.Logger
}

func (l loggingReporter) ReportDivergence(d FieldDivergence) {
	l.logger.Warn("backend divergence",
		"task_id", d.TaskID.String(),
		"field", d.Field,
		"primary", d.PrimaryValue,
		"secondary", d.SecondaryValue,
	)
}

// Name implements Backend
func (d *Dual) Name() string { return "dual(" + d.primary.Name() + "," + d.secondary.Name() + ")" }

// Get implements Backend. The secondary is consulted too so identity
// violations surface on reads, not just writes.
func (d *Dual) Get(ctx context.Context, id task.ID) (*task.Record, error) {
	p, err := d.primary.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s, err := d.secondary.Get(ctx, id)
	if err != nil {
		// The secondary lagging behind is field-level drift, not fatal
		d.logger.Warn("secondary backend missing task", "task_id", id.String(), "backend", d.secondary.Name())
		return p, nil
	}
	if err := d.check(p, s); err != nil {
		return nil, err
	}
	return p, nil
}

// List implements Backend, serving from the primary
func (d *Dual) List(ctx context.Context, filter ListFilter) ([]task.Record, error) {
	return d.primary.List(ctx, filter)
}

// ListBlocked implements Backend, serving from the primary
func (d *Dual) ListBlocked(ctx context.Context) ([]task.Record, error) {
	return d.primary.ListBlocked(ctx)
}

// Create implements Backend. The creation timestamp is stamped here, once,
// so both stores agree on the task's identity.
func (d *Dual) Create(ctx context.Context, r *task.Record) (*task.Record, error) {
	stamped := r.Clone()
	if stamped.CreatedAt.IsZero() {
		stamped.CreatedAt = time.Now().UTC()
	}
	return d.mirror(
		func() (*task.Record, error) { return d.primary.Create(ctx, stamped) },
		func() (*task.Record, error) { return d.secondary.Create(ctx, stamped) },
	)
}

// Update implements Backend
func (d *Dual) Update(ctx context.Context, r *task.Record) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.Update(ctx, r) },
		func() (*task.Record, error) { return d.secondary.Update(ctx, r) },
	)
}

// Close implements Backend
func (d *Dual) Close(ctx context.Context, id task.ID) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.Close(ctx, id) },
		func() (*task.Record, error) { return d.secondary.Close(ctx, id) },
	)
}

// Reopen implements Backend
func (d *Dual) Reopen(ctx context.Context, id task.ID) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.Reopen(ctx, id) },
		func() (*task.Record, error) { return d.secondary.Reopen(ctx, id) },
	)
}

// Delete implements Backend
func (d *Dual) Delete(ctx context.Context, id task.ID) error {
	if err := d.primary.Delete(ctx, id); err != nil {
		return err
	}
	if err := d.secondary.Delete(ctx, id); err != nil {
		d.logger.Warn("secondary backend delete failed", "task_id", id.String(), "backend", d.secondary.Name(), "error", err.Error())
	}
	return nil
}

// AddDependency implements Backend
func (d *Dual) AddDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.AddDependency(ctx, id, dependsOn) },
		func() (*task.Record, error) { return d.secondary.AddDependency(ctx, id, dependsOn) },
	)
}

// RemoveDependency implements Backend
func (d *Dual) RemoveDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.RemoveDependency(ctx, id, dependsOn) },
		func() (*task.Record, error) { return d.secondary.RemoveDependency(ctx, id, dependsOn) },
	)
}

// AddLabel implements Backend
func (d *Dual) AddLabel(ctx context.Context, id task.ID, label string) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.AddLabel(ctx, id, label) },
		func() (*task.Record, error) { return d.secondary.AddLabel(ctx, id, label) },
	)
}

// RemoveLabel implements Backend
func (d *Dual) RemoveLabel(ctx context.Context, id task.ID, label string) (*task.Record, error) {
	return d.mirror(
		func() (*task.Record, error) { return d.primary.RemoveLabel(ctx, id, label) },
		func() (*task.Record, error) { return d.secondary.RemoveLabel(ctx, id, label) },
	)
}

// mirror applies a mutation to both stores. A primary failure aborts; a
// secondary failure is reported and tolerated; a successful pair is
// checked for divergence.
func (d *Dual) mirror(onPrimary, onSecondary func() (*task.Record, error)) (*task.Record, error) {
	p, err := onPrimary()
	if err != nil {
		return nil, err
	}

	s, err := onSecondary()
	if err != nil {
		d.logger.Warn("secondary backend write failed", "backend", d.secondary.Name(), "error", err.Error())
		return p, nil
	}

	if err := d.check(p, s); err != nil {
		return nil, err
	}
	return p, nil
}

// check compares two views of the same task: identity violations are
// fatal, field differences go to the reporter
func (d *Dual) check(p, s *task.Record) error {
	if !task.SameIdentity(p, s) {
		return errors.NewIdentityDivergenceError(p.ID.String())
	}
	for _, finding := range compareRecords(p, s) {
		d.reporter.ReportDivergence(finding)
	}
	return nil
}
