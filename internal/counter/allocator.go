package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	planerrors "github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/log"
)

// Allocation defaults. The exact attempt count and backoff curve are
// configurable; these are the defaults applied when the config is silent.
const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 100 * time.Millisecond
)

// Allocator hands out unique, monotonically increasing numbers from the
// shared counter store. All mutation goes through a bounded
// compare-and-swap retry loop; exhausting the retry budget is terminal,
// because sustained contention signals a systemic problem rather than a
// transient race.
type Allocator struct {
	store       Store
	maxAttempts int
	backoff     time.Duration
	logger      *log.Logger

	// Highest numbers handed out by this instance, compared against the
	// store by VerifyBeforePush
	highSpec       int
	highStandalone int
}

// Option configures an Allocator
type Option func(*Allocator)

// WithMaxAttempts bounds the compare-and-swap retry loop
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial retry backoff; it doubles on each conflict
func WithBackoff(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.backoff = d
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(l *log.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// NewAllocator creates an Allocator over the given store
func NewAllocator(store Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AllocateSpecNumber returns the next unique spec number
func (a *Allocator) AllocateSpecNumber(ctx context.Context) (int, error) {
	n, err := a.allocate(ctx, "specNumber", func(s *State) *int { return &s.SpecNumber })
	if err != nil {
		return 0, err
	}
	if n > a.highSpec {
		a.highSpec = n
	}
	return n, nil
}

// AllocateStandaloneNumber returns the next unique standalone task number
func (a *Allocator) AllocateStandaloneNumber(ctx context.Context) (int, error) {
	n, err := a.allocate(ctx, "standaloneTaskNumber", func(s *State) *int { return &s.StandaloneTaskNumber })
	if err != nil {
		return 0, err
	}
	if n > a.highStandalone {
		a.highStandalone = n
	}
	return n, nil
}

// ReadCounters returns the current shared counter state without mutating it
func (a *Allocator) ReadCounters(ctx context.Context) (State, error) {
	state, _, err := a.store.Load(ctx)
	if err != nil {
		return State{}, err
	}
	return state, nil
}

// allocate runs the read / increment / conditional-write cycle with
// bounded retry. A missing document is initialized to zeros through the
// same conditional-write primitive; a losing initializer simply re-reads
// the winner's state on the next attempt.
func (a *Allocator) allocate(ctx context.Context, field string, pick func(*State) *int) (int, error) {
	backoff := a.backoff

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		state, version, err := a.store.Load(ctx)
		if errors.Is(err, ErrNotInitialized) {
			state = Zero()
			version = ""
			err = nil
		}
		if err != nil {
			return 0, fmt.Errorf("load counter state: %w", err)
		}

		if err := state.Validate(); err != nil {
			return 0, err
		}

		next := state
		*pick(&next)++
		next.UpdatedAt = time.Now().UTC()
		allocated := *pick(&next)

		err = a.store.CompareAndSwap(ctx, version, next)
		if err == nil {
			a.logger.Debug("counter allocated", "field", field, "number", allocated, "attempt", attempt)
			return allocated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, fmt.Errorf("commit counter state: %w", err)
		}

		a.logger.Debug("counter conflict, retrying", "field", field, "attempt", attempt, "backoff", backoff)

		if attempt < a.maxAttempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return 0, planerrors.NewAllocConflictError(a.maxAttempts)
}

// VerifyBeforePush is a read-only check comparing the highest numbers this
// instance handed out against the shared store. It never blocks work in
// projects that have not opted into a shared store.
func (a *Allocator) VerifyBeforePush(ctx context.Context) (bool, string, error) {
	state, _, err := a.store.Load(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return true, "skipped: store not initialized", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("load counter state: %w", err)
	}

	if err := state.Validate(); err != nil {
		return false, err.Error(), nil
	}

	if a.highSpec > state.SpecNumber {
		return false, fmt.Sprintf("local spec number %d exceeds shared counter %d: allocations were not committed through the store", a.highSpec, state.SpecNumber), nil
	}
	if a.highStandalone > state.StandaloneTaskNumber {
		return false, fmt.Sprintf("local standalone task number %d exceeds shared counter %d: allocations were not committed through the store", a.highStandalone, state.StandaloneTaskNumber), nil
	}
	return true, "", nil
}
