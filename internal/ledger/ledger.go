// Package ledger persists the audit trail of runs: an append-only record
// stream plus the durable per-plan progress records. Entries are written
// once and never mutated; resumption and reporting read them back.
package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

// Kind discriminates ledger entries
type Kind string

const (
	KindPlan        Kind = "plan"
	KindEpic        Kind = "epic"
	KindTaskAttempt Kind = "task_attempt"
)

// AttemptResult is the outcome of a single harness invocation
type AttemptResult string

const (
	ResultSuccess AttemptResult = "success"
	ResultFailure AttemptResult = "failure"
	ResultStuck   AttemptResult = "stuck"
)

// PlanEntry records a plan lifecycle transition
type PlanEntry struct {
	Slug       string    `json:"slug"`
	CursorEpic task.ID   `json:"cursor_epic,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EpicEntry records the completion of one epic within a plan
type EpicEntry struct {
	EpicID      task.ID   `json:"epic_id"`
	PlanSlug    string    `json:"plan_slug"`
	CompletedAt time.Time `json:"completed_at"`
}

// TaskAttemptEntry records one harness invocation against a task
type TaskAttemptEntry struct {
	TaskID          task.ID       `json:"task_id"`
	Attempt         int           `json:"attempt"`
	Result          AttemptResult `json:"result"`
	CostUSD         float64       `json:"cost_usd"`
	Tokens          int64         `json:"tokens"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// Entry is the envelope written to the ledger stream. Exactly one of the
// payload fields is set, matching Kind.
type Entry struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	RunID      string            `json:"run_id,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
	Plan       *PlanEntry        `json:"plan,omitempty"`
	Epic       *EpicEntry        `json:"epic,omitempty"`
	Attempt    *TaskAttemptEntry `json:"attempt,omitempty"`
}

// Ledger appends entries to a JSON-lines file. Safe for concurrent use
// within one process; the run loop is the only writer across processes.
type Ledger struct {
	mu    sync.Mutex
	path  string
	runID string
	now   func() time.Time
}

// Open prepares a ledger at path. The file is created lazily on the
// first append. runID tags every entry written through this handle.
func Open(path, runID string) *Ledger {
	return &Ledger{path: path, runID: runID, now: time.Now}
}

// Path returns the backing file path
func (l *Ledger) Path() string { return l.path }

// AppendPlan appends a plan lifecycle entry
func (l *Ledger) AppendPlan(e PlanEntry) error {
	return l.append(Entry{Kind: KindPlan, Plan: &e})
}

// AppendEpic appends an epic completion entry
func (l *Ledger) AppendEpic(e EpicEntry) error {
	return l.append(Entry{Kind: KindEpic, Epic: &e})
}

// AppendTaskAttempt appends a task attempt entry
func (l *Ledger) AppendTaskAttempt(e TaskAttemptEntry) error {
	return l.append(Entry{Kind: KindTaskAttempt, Attempt: &e})
}

func (l *Ledger) append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.ID = uuid.NewString()
	e.RunID = l.runID
	e.RecordedAt = l.now().UTC()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.NewFileWriteError(l.path, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.NewFileWriteError(l.path, err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return errors.NewFileWriteError(l.path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.NewFileWriteError(l.path, err)
	}
	return f.Sync()
}

// Entries reads the full stream back in append order. A missing file is
// an empty ledger, not an error.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileReadError(l.path, err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, errors.NewFileUnmarshalError(l.path, "JSON", err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewFileReadError(l.path, err)
	}
	return out, nil
}

// Attempts returns all attempt entries for one task, in append order
func (l *Ledger) Attempts(id task.ID) ([]TaskAttemptEntry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var out []TaskAttemptEntry
	for _, e := range entries {
		if e.Kind == KindTaskAttempt && e.Attempt != nil && e.Attempt.TaskID == id {
			out = append(out, *e.Attempt)
		}
	}
	return out, nil
}

// EpicCompleted reports whether an epic completion entry exists for the
// given epic within the given plan
func (l *Ledger) EpicCompleted(planSlug string, epicID task.ID) (bool, error) {
	entries, err := l.Entries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Kind == KindEpic && e.Epic != nil && e.Epic.PlanSlug == planSlug && e.Epic.EpicID == epicID {
			return true, nil
		}
	}
	return false, nil
}
