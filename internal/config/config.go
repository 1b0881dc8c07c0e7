// Package config loads the project configuration from
// .planloop/config.yaml. A missing file yields the defaults, so a fresh
// working copy works without any setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/hooks"
)

const (
	// DirName is the project state directory inside the working copy
	DirName = ".planloop"

	// FileName is the configuration file inside DirName
	FileName = "config.yaml"
)

// BackendKind selects the task store implementation
type BackendKind string

const (
	BackendFile   BackendKind = "file"
	BackendSQLite BackendKind = "sqlite"
	BackendDual   BackendKind = "dual"
)

// Config is the project configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	IDPrefix  string          `yaml:"id_prefix"`
	Budget    BudgetConfig    `yaml:"budget"`
	Run       RunConfig       `yaml:"run"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Sync      SyncConfig      `yaml:"sync"`
	Harness   HarnessConfig   `yaml:"harness"`
	Hooks     []hooks.Config  `yaml:"hooks"`

	// Root is the working copy root the config was loaded for; not part
	// of the file
	Root string `yaml:"-"`
}

// BackendConfig selects and tunes the task store
type BackendConfig struct {
	Kind BackendKind `yaml:"kind"`
}

// BudgetConfig caps a run. Zero means unlimited.
type BudgetConfig struct {
	MaxCostUSD    float64 `yaml:"max_cost_usd"`
	MaxTokens     int64   `yaml:"max_tokens"`
	MaxIterations int     `yaml:"max_iterations"`
}

// RunConfig tunes the run loop
type RunConfig struct {
	MaxAttempts    int  `yaml:"max_attempts"`
	AutoClose      bool `yaml:"auto_close"`
	ImpactOrdering bool `yaml:"impact_ordering"`
}

// AllocatorConfig tunes the counter CAS retry loop
type AllocatorConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// SyncConfig names the shared counter store location
type SyncConfig struct {
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
}

// HarnessConfig names the command that executes task attempts
type HarnessConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file exists
func Default(root string) *Config {
	return &Config{
		Backend:  BackendConfig{Kind: BackendFile},
		IDPrefix: "tk",
		Run: RunConfig{
			MaxAttempts: 3,
			AutoClose:   true,
		},
		Allocator: AllocatorConfig{
			MaxAttempts: 5,
			Backoff:     100 * time.Millisecond,
		},
		Sync: SyncConfig{
			Remote: "origin",
			Branch: "planloop-sync",
		},
		Root: root,
	}
}

// Load reads the configuration for the working copy rooted at root.
// Environment variables in the file are expanded before parsing.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, DirName, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(root), nil
		}
		return nil, errors.NewFileReadError(path, err)
	}

	cfg := Default(root)
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	cfg.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural validity
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendFile, BackendSQLite, BackendDual:
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown backend kind %q", c.Backend.Kind)).
			WithSuggestion(`Valid kinds are "file", "sqlite", and "dual"`)
	}
	if c.IDPrefix == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "id_prefix must not be empty")
	}
	if c.Budget.MaxCostUSD < 0 || c.Budget.MaxTokens < 0 || c.Budget.MaxIterations < 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "budget limits must be non-negative")
	}
	if c.Run.MaxAttempts < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "run.max_attempts must be at least 1")
	}
	if c.Allocator.MaxAttempts < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "allocator.max_attempts must be at least 1")
	}
	if c.Allocator.Backoff < 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "allocator.backoff must be non-negative")
	}
	for i, hook := range c.Hooks {
		if hook.FailureMode != "" && !hook.FailureMode.Valid() {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("hook %d (%s): unknown failure mode %q", i, hook.Name, hook.FailureMode)).
				WithSuggestion(`Valid failure modes are "ignore", "warn", and "fail"`)
		}
	}
	return nil
}

// StateDir returns the .planloop directory for this working copy
func (c *Config) StateDir() string { return filepath.Join(c.Root, DirName) }

// TasksPath is the file backend's document store
func (c *Config) TasksPath() string { return filepath.Join(c.StateDir(), "tasks.json") }

// DBPath is the sqlite backend's database file
func (c *Config) DBPath() string { return filepath.Join(c.StateDir(), "tasks.db") }

// LedgerPath is the append-only run ledger
func (c *Config) LedgerPath() string { return filepath.Join(c.StateDir(), "ledger.jsonl") }

// PlansDir holds the optional plan manifests
func (c *Config) PlansDir() string { return filepath.Join(c.StateDir(), "plans") }

// PlanStateDir holds the durable plan progress records
func (c *Config) PlanStateDir() string { return filepath.Join(c.StateDir(), "plan-state") }
