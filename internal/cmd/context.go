package cmd

import (
	"os"

	"github.com/planloop/planloop/internal/backend"
	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/counter"
	"github.com/planloop/planloop/internal/ledger"
	"github.com/planloop/planloop/internal/log"
)

// app bundles the collaborators a command needs, resolved from the
// working copy's configuration
type app struct {
	cfg    *config.Config
	logger *log.Logger
	store  backend.Backend
	close  func()
}

// newApp loads configuration from the current working directory and
// opens the configured backend. Callers must invoke close when done.
func newApp() (*app, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	store, closeStore, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, close: closeStore}, nil
}

// openBackend builds the task store the configuration selects
func openBackend(cfg *config.Config, logger *log.Logger) (backend.Backend, func(), error) {
	switch cfg.Backend.Kind {
	case config.BackendSQLite:
		db, err := backend.NewSQLiteBackend(cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Shutdown() }, nil

	case config.BackendDual:
		db, err := backend.NewSQLiteBackend(cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		primary := backend.NewFileBackend(cfg.TasksPath())
		dual := backend.NewDual(primary, db, nil, logger)
		return dual, func() { _ = db.Shutdown() }, nil

	default: // file
		return backend.NewFileBackend(cfg.TasksPath()), func() {}, nil
	}
}

// newAllocator builds the shared-counter allocator over the configured
// sync branch
func (a *app) newAllocator() *counter.Allocator {
	store := counter.NewGitStore(a.cfg.Root)
	store.Remote = a.cfg.Sync.Remote
	store.Branch = a.cfg.Sync.Branch
	return counter.NewAllocator(store,
		counter.WithMaxAttempts(a.cfg.Allocator.MaxAttempts),
		counter.WithBackoff(a.cfg.Allocator.Backoff),
		counter.WithLogger(a.logger),
	)
}

// newLedger opens the run ledger tagged with runID
func (a *app) newLedger(runID string) *ledger.Ledger {
	return ledger.Open(a.cfg.LedgerPath(), runID)
}

// newPlanStore opens the durable plan record store
func (a *app) newPlanStore() *ledger.PlanStore {
	return ledger.NewPlanStore(a.cfg.PlanStateDir())
}
