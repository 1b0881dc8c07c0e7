// Package counter implements collision-free identifier allocation across
// concurrent working copies. Counters live in a small shared document; the
// allocator mutates it exclusively through a compare-and-swap cycle so a
// central lock server is never needed.
package counter

import (
	"fmt"
	"time"

	"github.com/planloop/planloop/internal/errors"
)

// State holds the allocation counters shared across working copies.
// Direct writes to the store bypass conflict detection and are forbidden;
// all mutation goes through the allocator's compare-and-swap cycle.
type State struct {
	SpecNumber           int       `json:"specNumber"`
	StandaloneTaskNumber int       `json:"standaloneTaskNumber"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Zero returns the initial counter state written on first use
func Zero() State {
	return State{SpecNumber: 0, StandaloneTaskNumber: 0, UpdatedAt: time.Now().UTC()}
}

// Validate checks the state for structural corruption, naming the corrupt
// field in the returned error
func (s State) Validate() error {
	if s.SpecNumber < 0 {
		return errors.NewCorruptCounterError("specNumber", fmt.Sprintf("is negative (%d)", s.SpecNumber))
	}
	if s.StandaloneTaskNumber < 0 {
		return errors.NewCorruptCounterError("standaloneTaskNumber", fmt.Sprintf("is negative (%d)", s.StandaloneTaskNumber))
	}
	return nil
}
