package task

import (
	"fmt"
	"slices"
	"time"
)

// Status represents the lifecycle state of a task
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Validate checks if the status is valid
func (s Status) Validate() error {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return nil
	default:
		return fmt.Errorf("invalid status %q: must be open, in_progress, or closed", string(s))
	}
}

// Type represents the kind of work a task describes
type Type string

const (
	TypeTask    Type = "task"
	TypeFeature Type = "feature"
	TypeBug     Type = "bug"
	TypeEpic    Type = "epic"
	TypeGate    Type = "gate"
)

// Validate checks if the type is valid
func (t Type) Validate() error {
	switch t {
	case TypeTask, TypeFeature, TypeBug, TypeEpic, TypeGate:
		return nil
	default:
		return fmt.Errorf("invalid type %q: must be task, feature, bug, epic, or gate", string(t))
	}
}

// Priority is an urgency level from 0 (most urgent) to 4
type Priority int

// PriorityDefault is the priority assigned when none is given
const PriorityDefault Priority = 2

// Validate checks if the priority is within range
func (p Priority) Validate() error {
	if p < 0 || p > 4 {
		return fmt.Errorf("invalid priority %d: must be between 0 and 4", int(p))
	}
	return nil
}

// LabelNeedsReview marks a task whose retry budget is exhausted.
// The run loop skips tasks carrying it until a human clears the label.
const LabelNeedsReview = "needs-review"

// Record is a single work item. Labels, DependsOn, and Blocks are
// semantically unordered; they are kept sorted for stable serialization
// but must always be compared as sets.
type Record struct {
	ID                 ID        `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Status             Status    `json:"status"`
	Priority           Priority  `json:"priority"`
	Type               Type      `json:"type"`
	Labels             []string  `json:"labels,omitempty"`
	DependsOn          []ID      `json:"depends_on,omitempty"`
	Blocks             []ID      `json:"blocks,omitempty"`
	Parent             ID        `json:"parent,omitempty"`
	Assignee           string    `json:"assignee,omitempty"`
	AcceptanceCriteria []string  `json:"acceptance_criteria,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ClosedAt           time.Time `json:"closed_at,omitzero"`
}

// Validate checks if the record is valid according to domain rules
func (r *Record) Validate() error {
	if err := r.ID.Validate(); err != nil {
		return err
	}
	if r.Title == "" {
		return fmt.Errorf("task %s: title cannot be empty", r.ID)
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", r.ID, err)
	}
	if err := r.Type.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", r.ID, err)
	}
	if err := r.Priority.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", r.ID, err)
	}
	for _, dep := range r.DependsOn {
		if dep == r.ID {
			return fmt.Errorf("task %s cannot depend on itself", r.ID)
		}
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("task %s: invalid dependency: %w", r.ID, err)
		}
	}
	if r.Parent != "" {
		if err := r.Parent.Validate(); err != nil {
			return fmt.Errorf("task %s: invalid parent: %w", r.ID, err)
		}
	}
	return nil
}

// HasLabel reports whether the record carries the given label
func (r *Record) HasLabel(label string) bool {
	return slices.Contains(r.Labels, label)
}

// DependsOnTask reports whether the record has a dependsOn edge to id
func (r *Record) DependsOnTask(id ID) bool {
	return slices.Contains(r.DependsOn, id)
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	clone := *r
	clone.Labels = slices.Clone(r.Labels)
	clone.DependsOn = slices.Clone(r.DependsOn)
	clone.Blocks = slices.Clone(r.Blocks)
	clone.AcceptanceCriteria = slices.Clone(r.AcceptanceCriteria)
	return &clone
}

// Normalize sorts the set-valued fields so serialized records are stable
// regardless of the order mutations arrived in
func (r *Record) Normalize() {
	slices.Sort(r.Labels)
	r.Labels = slices.Compact(r.Labels)
	slices.Sort(r.DependsOn)
	r.DependsOn = slices.Compact(r.DependsOn)
	slices.Sort(r.Blocks)
	r.Blocks = slices.Compact(r.Blocks)
}
