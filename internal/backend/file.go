package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

// FileBackend stores task records in a single JSON document. Writes go
// through a temp file and atomic rename so a crash never leaves a
// half-written store behind.
type FileBackend struct {
	path string

	mu     sync.Mutex
	loaded bool
	tasks  map[task.ID]*task.Record
}

// fileDocument is the on-disk shape
type fileDocument struct {
	Version int           `json:"version"`
	Tasks   []task.Record `json:"tasks"`
}

const fileDocumentVersion = 1

// NewFileBackend creates a file-backed store at path. The file is created
// lazily on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, tasks: make(map[task.ID]*task.Record)}
}

// Name implements Backend
func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) load() error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.loaded = true
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read task store %s", f.path), err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.NewFileUnmarshalError(f.path, "JSON", err)
	}

	f.tasks = make(map[task.ID]*task.Record, len(doc.Tasks))
	for i := range doc.Tasks {
		r := doc.Tasks[i]
		f.tasks[r.ID] = &r
	}
	f.loaded = true
	return nil
}

func (f *FileBackend) persist() error {
	doc := fileDocument{Version: fileDocumentVersion}
	for _, r := range f.tasks {
		doc.Tasks = append(doc.Tasks, *r)
	}
	sort.Slice(doc.Tasks, func(i, j int) bool { return doc.Tasks[i].ID < doc.Tasks[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "marshal task store", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "create task store directory", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write task store %s", tmp), err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("replace task store %s", f.path), err)
	}
	return nil
}

// Get implements Backend
func (f *FileBackend) Get(ctx context.Context, id task.ID) (*task.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}
	r, ok := f.tasks[id]
	if !ok {
		return nil, errors.NewTaskNotFoundError(id.String())
	}
	return r.Clone(), nil
}

// List implements Backend
func (f *FileBackend) List(ctx context.Context, filter ListFilter) ([]task.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}

	var out []task.Record
	for _, r := range f.tasks {
		if filter.Matches(r) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create implements Backend
func (f *FileBackend) Create(ctx context.Context, r *task.Record) (*task.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInvalidTask, "create task", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}

	if _, exists := f.tasks[r.ID]; exists {
		return nil, errors.New(errors.ErrCodeStoreDuplicateID, fmt.Sprintf("task %s already exists", r.ID))
	}

	stored := r.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Normalize()

	f.tasks[stored.ID] = stored
	if err := f.persist(); err != nil {
		delete(f.tasks, stored.ID)
		return nil, err
	}
	return stored.Clone(), nil
}

// Update implements Backend
func (f *FileBackend) Update(ctx context.Context, r *task.Record) (*task.Record, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInvalidTask, "update task", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}

	existing, ok := f.tasks[r.ID]
	if !ok {
		return nil, errors.NewTaskNotFoundError(r.ID.String())
	}

	stored := r.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	stored.Normalize()

	f.tasks[stored.ID] = stored
	if err := f.persist(); err != nil {
		f.tasks[stored.ID] = existing
		return nil, err
	}
	return stored.Clone(), nil
}

// Close implements Backend
func (f *FileBackend) Close(ctx context.Context, id task.ID) (*task.Record, error) {
	return f.mutate(id, func(r *task.Record) error {
		r.Status = task.StatusClosed
		r.ClosedAt = time.Now().UTC()
		return nil
	})
}

// Reopen implements Backend
func (f *FileBackend) Reopen(ctx context.Context, id task.ID) (*task.Record, error) {
	return f.mutate(id, func(r *task.Record) error {
		r.Status = task.StatusOpen
		r.ClosedAt = time.Time{}
		return nil
	})
}

// Delete implements Backend
func (f *FileBackend) Delete(ctx context.Context, id task.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}

	existing, ok := f.tasks[id]
	if !ok {
		return errors.NewTaskNotFoundError(id.String())
	}
	delete(f.tasks, id)
	if err := f.persist(); err != nil {
		f.tasks[id] = existing
		return err
	}
	return nil
}

// AddDependency implements Backend
func (f *FileBackend) AddDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error) {
	return f.mutate(id, func(r *task.Record) error {
		if id == dependsOn {
			return fmt.Errorf("task %s cannot depend on itself", id)
		}
		if _, ok := f.tasks[dependsOn]; !ok {
			return errors.NewTaskNotFoundError(dependsOn.String())
		}
		if !slices.Contains(r.DependsOn, dependsOn) {
			r.DependsOn = append(r.DependsOn, dependsOn)
		}
		return nil
	})
}

// RemoveDependency implements Backend
func (f *FileBackend) RemoveDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error) {
	return f.mutate(id, func(r *task.Record) error {
		r.DependsOn = slices.DeleteFunc(r.DependsOn, func(d task.ID) bool { return d == dependsOn })
		return nil
	})
}

// ListBlocked implements Backend: open tasks with at least one dependsOn
// edge pointing at a task that is not closed
func (f *FileBackend) ListBlocked(ctx context.Context) ([]task.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}

	var out []task.Record
	for _, r := range f.tasks {
		if r.Status != task.StatusOpen {
			continue
		}
		for _, dep := range r.DependsOn {
			target, ok := f.tasks[dep]
			if !ok || target.Status != task.StatusClosed {
				out = append(out, *r.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddLabel implements Backend
func (f *FileBackend) AddLabel(ctx context.Context, id task.ID, label string) (*task.Record, error) {
	return f.mutate(id, func(r *task.Record) error {
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
func (f *FileBackend) RemoveLabel(ctx context.Context, id task.ID, label string) (*task.Record, error) {
	return f.mutate(id, func(r *task.Record) error {
		r.Labels = slices.DeleteFunc(r.Labels, func(l string) bool { return l == label })
		return nil
	})
}

// mutate applies fn to a copy of the record, persists, and rolls the copy
// back on a failed write
func (f *FileBackend) mutate(id task.ID, fn func(*task.Record) error) (*task.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}

	existing, ok := f.tasks[id]
	if !ok {
		return nil, errors.NewTaskNotFoundError(id.String())
	}

	updated := existing.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	updated.Normalize()

	f.tasks[id] = updated
	if err := f.persist(); err != nil {
		f.tasks[id] = existing
		return nil, err
	}
	return updated.Clone(), nil
}
