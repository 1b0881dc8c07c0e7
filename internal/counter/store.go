package counter

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// ErrConflict is returned by CompareAndSwap when the store advanced
// concurrently and the caller must re-read before retrying.
var ErrConflict = errors.New("counter store: conditional write rejected")

// ErrNotInitialized is returned by Load when the shared store has never
// been set up for this project.
var ErrNotInitialized = errors.New("counter store: not initialized")

// Store provides conditional access to the shared counter document.
// Version tokens are opaque; passing an empty token to CompareAndSwap
// asserts the document does not exist yet (race-safe initialization).
type Store interface {
	// Load reads the current state and its version token
	Load(ctx context.Context) (State, string, error)

	// CompareAndSwap writes state conditioned on the version token being
	// unchanged, returning ErrConflict when the store advanced
	CompareAndSwap(ctx context.Context, expectedVersion string, state State) error
}

// MemoryStore is an in-process Store used by tests and by projects that
// have not opted into a shared sync branch.
type MemoryStore struct {
	mu      sync.Mutex
	state   State
	version int
	exists  bool
}

// NewMemoryStore creates an empty, uninitialized in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed initializes the store with a known state, for tests
func (m *MemoryStore) Seed(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.version++
	m.exists = true
}

// Load implements Store
func (m *MemoryStore) Load(ctx context.Context) (State, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return State{}, "", ErrNotInitialized
	}
	return m.state, m.versionToken(), nil
}

// CompareAndSwap implements Store
func (m *MemoryStore) CompareAndSwap(ctx context.Context, expectedVersion string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expectedVersion == "" {
		if m.exists {
			return ErrConflict
		}
	} else if !m.exists || expectedVersion != m.versionToken() {
		return ErrConflict
	}

	m.state = state
	m.version++
	m.exists = true
	return nil
}

func (m *MemoryStore) versionToken() string {
	return "v" + strconv.Itoa(m.version)
}
