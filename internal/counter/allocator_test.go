package counter

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	planerrors "github.com/planloop/planloop/internal/errors"
)

func TestAllocate_InitializesMissingState(t *testing.T) {
	store := NewMemoryStore()
	alloc := NewAllocator(store, WithBackoff(time.Millisecond))

	n, err := alloc.AllocateSpecNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state, _, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, state.SpecNumber)
	assert.Equal(t, 0, state.StandaloneTaskNumber)
}

func TestAllocate_MonotonicPerField(t *testing.T) {
	store := NewMemoryStore()
	store.Seed(State{SpecNumber: 10, StandaloneTaskNumber: 3})
	alloc := NewAllocator(store, WithBackoff(time.Millisecond))
	ctx := context.Background()

	n1, err := alloc.AllocateSpecNumber(ctx)
	require.NoError(t, err)
	n2, err := alloc.AllocateSpecNumber(ctx)
	require.NoError(t, err)
	s1, err := alloc.AllocateStandaloneNumber(ctx)
	require.NoError(t, err)

	assert.Equal(t, 11, n1)
	assert.Equal(t, 12, n2)
	assert.Equal(t, 4, s1)
}

// Uniqueness under contention: N concurrent callers against the same
// starting state receive exactly {prev+1, ..., prev+N} with no duplicates.
func TestAllocate_ConcurrentCallersUnique(t *testing.T) {
	const callers = 16
	const prev = 100

	store := NewMemoryStore()
	store.Seed(State{SpecNumber: prev})

	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Generous retry budget: every caller must eventually win
			alloc := NewAllocator(store, WithMaxAttempts(callers*4), WithBackoff(time.Microsecond))
			results[i], errs[i] = alloc.AllocateSpecNumber(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}

	sort.Ints(results)
	for i, n := range results {
		assert.Equal(t, prev+i+1, n, "allocated set must be exactly {prev+1..prev+N}")
	}
}

// conflictStore always rejects conditional writes
type conflictStore struct {
	loads int
}

func (c *conflictStore) Load(ctx context.Context) (State, string, error) {
	c.loads++
	return State{SpecNumber: 1}, "v1", nil
}

func (c *conflictStore) CompareAndSwap(ctx context.Context, expectedVersion string, state State) error {
	return ErrConflict
}

func TestAllocate_ExhaustedRetriesIsTerminal(t *testing.T) {
	store := &conflictStore{}
	alloc := NewAllocator(store, WithMaxAttempts(3), WithBackoff(time.Microsecond))

	_, err := alloc.AllocateSpecNumber(context.Background())
	require.Error(t, err)
	assert.True(t, planerrors.HasCode(err, planerrors.ErrCodeAllocConflict))
	assert.Equal(t, 3, store.loads, "each attempt re-reads the store")
}

func TestAllocate_CorruptStateIsFatal(t *testing.T) {
	store := NewMemoryStore()
	store.Seed(State{SpecNumber: -4})
	alloc := NewAllocator(store)

	_, err := alloc.AllocateSpecNumber(context.Background())
	require.Error(t, err)
	assert.True(t, planerrors.HasCode(err, planerrors.ErrCodeAllocCorruptState))
	assert.Contains(t, err.Error(), "specNumber")
}

func TestAllocate_ContextCancelledDuringBackoff(t *testing.T) {
	store := &conflictStore{}
	alloc := NewAllocator(store, WithMaxAttempts(10), WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := alloc.AllocateSpecNumber(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifyBeforePush(t *testing.T) {
	t.Run("store not initialized", func(t *testing.T) {
		alloc := NewAllocator(NewMemoryStore())
		ok, reason, err := alloc.VerifyBeforePush(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "skipped: store not initialized", reason)
	})

	t.Run("clean", func(t *testing.T) {
		store := NewMemoryStore()
		store.Seed(State{SpecNumber: 5})
		alloc := NewAllocator(store)

		_, err := alloc.AllocateSpecNumber(context.Background())
		require.NoError(t, err)

		ok, reason, err := alloc.VerifyBeforePush(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("local ahead of store", func(t *testing.T) {
		store := NewMemoryStore()
		store.Seed(State{SpecNumber: 5})
		alloc := NewAllocator(store)

		_, err := alloc.AllocateSpecNumber(context.Background())
		require.NoError(t, err)

		// Simulate a rewound shared store: someone reset the document
		// underneath us without going through the allocator
		store.Seed(State{SpecNumber: 2})

		ok, reason, err := alloc.VerifyBeforePush(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Contains(t, reason, "exceeds shared counter")
	})

	t.Run("corrupt store state", func(t *testing.T) {
		store := NewMemoryStore()
		store.Seed(State{StandaloneTaskNumber: -1})
		alloc := NewAllocator(store)

		ok, reason, err := alloc.VerifyBeforePush(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Contains(t, reason, "standaloneTaskNumber")
	})
}

func TestMemoryStore_CASSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Initialization with empty token succeeds once
	require.NoError(t, store.CompareAndSwap(ctx, "", Zero()))
	assert.ErrorIs(t, store.CompareAndSwap(ctx, "", Zero()), ErrConflict)

	// Stale token is rejected
	_, version, err := store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CompareAndSwap(ctx, version, State{SpecNumber: 1}))
	assert.ErrorIs(t, store.CompareAndSwap(ctx, version, State{SpecNumber: 2}), ErrConflict)
}
