package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

// SQLiteBackend stores task records in a SQLite database. It is fully
// independent from FileBackend so the dual backend can mirror writes
// across two stores with no shared failure mode.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	type        TEXT NOT NULL,
	parent      TEXT NOT NULL DEFAULT '',
	assignee    TEXT NOT NULL DEFAULT '',
	acceptance  TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	closed_at   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS task_deps (
	task_id    TEXT NOT NULL,
	depends_on TEXT NOT NULL,
	PRIMARY KEY (task_id, depends_on)
);

CREATE TABLE IF NOT EXISTS task_blocks (
	task_id TEXT NOT NULL,
	blocks  TEXT NOT NULL,
	PRIMARY KEY (task_id, blocks)
);

CREATE TABLE IF NOT EXISTS task_labels (
	task_id TEXT NOT NULL,
	label   TEXT NOT NULL,
	PRIMARY KEY (task_id, label)
);
`

// NewSQLiteBackend opens (creating if needed) a SQLite task store at path
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, fmt.Sprintf("open sqlite store %s", path), err)
	}
	// SQLite handles one writer at a time; serialize access in-process
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "initialize sqlite schema", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Name implements Backend
func (s *SQLiteBackend) Name() string { return "sqlite" }

// DB exposes the underlying handle for health checks
func (s *SQLiteBackend) DB() *sql.DB { return s.db }

// Shutdown closes the database
func (s *SQLiteBackend) Shutdown() error { return s.db.Close() }

// Get implements Backend
func (s *SQLiteBackend) Get(ctx context.Context, id task.ID) (*task.Record, error) {
	return s.get(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteBackend) get(ctx context.Context, q querier, id task.ID) (*task.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, type, parent,
		       assignee, acceptance, created_at, updated_at, closed_at
		FROM tasks WHERE id = ?`, id.String())

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewTaskNotFoundError(id.String())
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "read task", err)
	}

	if err := s.loadEdges(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

func scanRecord(row *sql.Row) (*task.Record, error) {
	var r task.Record
	var acceptance, createdAt, updatedAt, closedAt string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Status, &r.Priority,
		&r.Type, &r.Parent, &r.Assignee, &acceptance, &createdAt, &updatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	return fillRecord(&r, acceptance, createdAt, updatedAt, closedAt)
}

func fillRecord(r *task.Record, acceptance, createdAt, updatedAt, closedAt string) (*task.Record, error) {
	if err := json.Unmarshal([]byte(acceptance), &r.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("decode acceptance criteria for %s: %w", r.ID, err)
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at for %s: %w", r.ID, err)
	}
	if closedAt != "" {
		if r.ClosedAt, err = time.Parse(time.RFC3339Nano, closedAt); err != nil {
			return nil, fmt.Errorf("decode closed_at for %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func (s *SQLiteBackend) loadEdges(ctx context.Context, q querier, r *task.Record) error {
	collect := func(query, taskID string, out func(string)) error {
		rows, err := q.QueryContext(ctx, query, taskID)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreUnavailable, "read task edges", err)
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return errors.Wrap(errors.ErrCodeStoreUnavailable, "scan task edge", err)
			}
			out(v)
		}
		return rows.Err()
	}

	id := r.ID.String()
	if err := collect(`SELECT depends_on FROM task_deps WHERE task_id = ? ORDER BY depends_on`, id,
		func(v string) { r.DependsOn = append(r.DependsOn, task.ID(v)) }); err != nil {
		return err
	}
	if err := collect(`SELECT blocks FROM task_blocks WHERE task_id = ? ORDER BY blocks`, id,
		func(v string) { r.Blocks = append(r.Blocks, task.ID(v)) }); err != nil {
		return err
	}
	return collect(`SELECT label FROM task_labels WHERE task_id = ? ORDER BY label`, id,
		func(v string) { r.Labels = append(r.Labels, v) })
}

// List implements Backend
func (s *SQLiteBackend) List(ctx context.Context, filter ListFilter) ([]task.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "list tasks", err)
	}
	var ids []task.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "scan task id", err)
		}
		ids = append(ids, task.ID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "list tasks", err)
	}

	var out []task.Record
	for _, id := range ids {
		r, err := s.get(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if filter.Matches(r) {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Create implements Backend
func (s *SQLiteBackend) Create(ctx context.Context, r *task.Record) (*task.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInvalidTask, "create task", err)
	}

	stored := r.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Normalize()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, stored.ID.String()).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return errors.New(errors.ErrCodeStoreDuplicateID, fmt.Sprintf("task %s already exists", stored.ID))
		}
		return s.insert(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// Update implements Backend
func (s *SQLiteBackend) Update(ctx context.Context, r *task.Record) (*task.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInvalidTask, "update task", err)
	}

	var stored *task.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.get(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		stored = r.Clone()
		stored.CreatedAt = existing.CreatedAt
		stored.UpdatedAt = time.Now().UTC()
		stored.Normalize()

		if err := s.remove(ctx, tx, r.ID); err != nil {
			return err
		}
		return s.insert(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// Close implements Backend
func (s *SQLiteBackend) Close(ctx context.Context, id task.ID) (*task.Record, error) {
	return s.mutate(ctx, id, func(r *task.Record) error {
		r.Status = task.StatusClosed
		r.ClosedAt = time.Now().UTC()
		return nil
	})
}

// Reopen implements Backend
func (s *SQLiteBackend) Reopen(ctx context.Context, id task.ID) (*task.Record, error) {
	return s.mutate(ctx, id, func(r *task.Record) error {
		r.Status = task.StatusOpen
		r.ClosedAt = time.Time{}
		return nil
	})
}

// Delete implements Backend
func (s *SQLiteBackend) Delete(ctx context.Context, id task.ID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.get(ctx, tx, id); err != nil {
			return err
		}
		return s.remove(ctx, tx, id)
	})
}

// AddDependency implements Backend
func (s *SQLiteBackend) AddDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error) {
	if id == dependsOn {
		return nil, fmt.Errorf("task %s cannot depend on itself", id)
	}

	var updated *task.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, dependsOn.String()).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return errors.NewTaskNotFoundError(dependsOn.String())
		}

		updated = existing.Clone()
		if !slices.Contains(updated.DependsOn, dependsOn) {
			updated.DependsOn = append(updated.DependsOn, dependsOn)
		}
		updated.UpdatedAt = time.Now().UTC()
		updated.Normalize()

		if err := s.remove(ctx, tx, id); err != nil {
			return err
		}
		return s.insert(ctx, tx, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// RemoveDependency implements Backend
func (s *SQLiteBackend) RemoveDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error) {
	return s.mutate(ctx, id, func(r *task.Record) error {
		r.DependsOn = slices.DeleteFunc(r.DependsOn, func(d task.ID) bool { return d == dependsOn })
		return nil
	})
}

// ListBlocked implements Backend
func (s *SQLiteBackend) ListBlocked(ctx context.Context) ([]task.Record, error) {
	all, err := s.List(ctx, ListFilter{Status: task.StatusOpen})
	if err != nil {
		return nil, err
	}
	closed := make(map[task.ID]bool)
	full, err := s.List(ctx, ListFilter{Status: task.StatusClosed})
	if err != nil {
		return nil, err
	}
	for _, r := range full {
		closed[r.ID] = true
	}

	var out []task.Record
	for _, r := range all {
		for _, dep := range r.DependsOn {
			if !closed[dep] {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// AddLabel implements Backend
func (s *SQLiteBackend) AddLabel(ctx context.Context, id task.ID, label string) (*task.Record, error) {
	return s.mutate(ctx, id, func(r *task.Record) error {
		if label == "" {
			return fmt.Errorf("label cannot be empty")
		}
		if !slices.Contains(r.Labels, label) {
			r.Labels = append(r.Labels, label)
		}
		return nil
	})
}

// RemoveLabel implements Backend
func (s *SQLiteBackend) RemoveLabel(ctx context.Context, id task.ID, label string) (*task.Record, error) {
	return s.mutate(ctx, id, func(r *task.Record) error {
		r.Labels = slices.DeleteFunc(r.Labels, func(l string) bool { return l == label })
		return nil
	})
}

func (s *SQLiteBackend) mutate(ctx context.Context, id task.ID, fn func(*task.Record) error) (*task.Record, error) {
	var updated *task.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = existing.Clone()
		if err := fn(updated); err != nil {
			return err
		}
		updated.UpdatedAt = time.Now().UTC()
		updated.Normalize()

		if err := s.remove(ctx, tx, id); err != nil {
			return err
		}
		return s.insert(ctx, tx, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *SQLiteBackend) insert(ctx context.Context, tx *sql.Tx, r *task.Record) error {
	acceptance, err := json.Marshal(r.AcceptanceCriteria)
	if err != nil {
		return err
	}
	if r.AcceptanceCriteria == nil {
		acceptance = []byte("[]")
	}

	closedAt := ""
	if !r.ClosedAt.IsZero() {
		closedAt = r.ClosedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, type,
		                   parent, assignee, acceptance, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Title, r.Description, string(r.Status), int(r.Priority),
		string(r.Type), r.Parent.String(), r.Assignee, string(acceptance),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.UpdatedAt.UTC().Format(time.RFC3339Nano), closedAt)
	if err != nil {
		return err
	}

	for _, dep := range r.DependsOn {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_deps (task_id, depends_on) VALUES (?, ?)`,
			r.ID.String(), dep.String()); err != nil {
			return err
		}
	}
	for _, b := range r.Blocks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_blocks (task_id, blocks) VALUES (?, ?)`,
			r.ID.String(), b.String()); err != nil {
			return err
		}
	}
	for _, label := range r.Labels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_labels (task_id, label) VALUES (?, ?)`,
			r.ID.String(), label); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteBackend) remove(ctx context.Context, tx *sql.Tx, id task.ID) error {
	for _, q := range []string{
		`DELETE FROM tasks WHERE id = ?`,
		`DELETE FROM task_deps WHERE task_id = ?`,
		`DELETE FROM task_blocks WHERE task_id = ?`,
		`DELETE FROM task_labels WHERE task_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteBackend) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUnavailable, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //#nosec G104 -- rollback error is secondary to fn's error
		return err
	}
	return tx.Commit()
}
