package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/hooks"
)

func writeConfig(t *testing.T, root, content string) {
	dir := filepath.Join(root, DirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Backend.Kind)
	assert.Equal(t, "tk", cfg.IDPrefix)
	assert.Equal(t, 3, cfg.Run.MaxAttempts)
	assert.True(t, cfg.Run.AutoClose)
	assert.Equal(t, 5, cfg.Allocator.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Allocator.Backoff)
	assert.Equal(t, "origin", cfg.Sync.Remote)
	assert.Equal(t, "planloop-sync", cfg.Sync.Branch)
	assert.Equal(t, root, cfg.Root)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
backend:
  kind: dual
id_prefix: spec
budget:
  max_cost_usd: 5.0
  max_tokens: 100000
  max_iterations: 20
run:
  max_attempts: 2
  auto_close: false
  impact_ordering: true
allocator:
  max_attempts: 8
  backoff: 250ms
sync:
  remote: upstream
  branch: counters
harness:
  command: agent
  args: ["--quiet"]
  timeout: 10m
hooks:
  - name: notify
    type: script
    events: [epic_completed]
    enabled: true
    command: ./notify.sh
    failure_mode: warn
`)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, BackendDual, cfg.Backend.Kind)
	assert.Equal(t, "spec", cfg.IDPrefix)
	assert.Equal(t, 5.0, cfg.Budget.MaxCostUSD)
	assert.Equal(t, int64(100000), cfg.Budget.MaxTokens)
	assert.Equal(t, 20, cfg.Budget.MaxIterations)
	assert.Equal(t, 2, cfg.Run.MaxAttempts)
	assert.False(t, cfg.Run.AutoClose)
	assert.True(t, cfg.Run.ImpactOrdering)
	assert.Equal(t, 8, cfg.Allocator.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Allocator.Backoff)
	assert.Equal(t, "upstream", cfg.Sync.Remote)
	assert.Equal(t, "counters", cfg.Sync.Branch)
	assert.Equal(t, "agent", cfg.Harness.Command)
	assert.Equal(t, []string{"--quiet"}, cfg.Harness.Args)
	assert.Equal(t, 10*time.Minute, cfg.Harness.Timeout)
	require.Len(t, cfg.Hooks, 1)
	assert.Equal(t, hooks.EventEpicCompleted, cfg.Hooks[0].Events[0])
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TEST_HARNESS_CMD", "my-agent")
	writeConfig(t, root, `
harness:
  command: ${TEST_HARNESS_CMD}
`)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "my-agent", cfg.Harness.Command)
}

func TestLoad_InvalidYAML(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "backend: [unclosed")

	_, err := Load(root)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"unknown backend kind", func(c *Config) { c.Backend.Kind = "postgres" }, true},
		{"empty id prefix", func(c *Config) { c.IDPrefix = "" }, true},
		{"negative budget", func(c *Config) { c.Budget.MaxCostUSD = -1 }, true},
		{"zero run attempts", func(c *Config) { c.Run.MaxAttempts = 0 }, true},
		{"zero allocator attempts", func(c *Config) { c.Allocator.MaxAttempts = 0 }, true},
		{"bad hook failure mode", func(c *Config) {
			c.Hooks = []hooks.Config{{Name: "h", FailureMode: "explode"}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := Default("/work/copy")
	assert.Equal(t, filepath.Join("/work/copy", ".planloop"), cfg.StateDir())
	assert.Equal(t, filepath.Join("/work/copy", ".planloop", "tasks.json"), cfg.TasksPath())
	assert.Equal(t, filepath.Join("/work/copy", ".planloop", "tasks.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/work/copy", ".planloop", "ledger.jsonl"), cfg.LedgerPath())
	assert.Equal(t, filepath.Join("/work/copy", ".planloop", "plans"), cfg.PlansDir())
}
