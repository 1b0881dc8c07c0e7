// Package backend persists task records. It defines the capability
// interface the run loop depends on, two independent store
// implementations, and a dual-delegating backend that mirrors writes and
// reports divergence between them.
package backend

import (
	"context"

	"github.com/planloop/planloop/internal/task"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status task.Status
	Type   task.Type
	Parent task.ID
	Label  string
}

// Matches reports whether a record passes the filter
func (f ListFilter) Matches(r *task.Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Parent != "" && r.Parent != f.Parent {
		return false
	}
	if f.Label != "" && !r.HasLabel(f.Label) {
		return false
	}
	return true
}

// Backend is the task store capability set. Mutating calls return the
// stored record so delegating backends can compare results without a
// second read.
type Backend interface {
	// Name identifies the backend in logs and divergence reports
	Name() string

	Get(ctx context.Context, id task.ID) (*task.Record, error)
	List(ctx context.Context, filter ListFilter) ([]task.Record, error)
	Create(ctx context.Context, r *task.Record) (*task.Record, error)
	Update(ctx context.Context, r *task.Record) (*task.Record, error)
	Close(ctx context.Context, id task.ID) (*task.Record, error)
	Reopen(ctx context.Context, id task.ID) (*task.Record, error)
	Delete(ctx context.Context, id task.ID) error
	AddDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error)
	RemoveDependency(ctx context.Context, id, dependsOn task.ID) (*task.Record, error)
	ListBlocked(ctx context.Context) ([]task.Record, error)
	AddLabel(ctx context.Context, id task.ID, label string) (*task.Record, error)
	RemoveLabel(ctx context.Context, id task.ID, label string) (*task.Record, error)
}
