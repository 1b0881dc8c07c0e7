package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/backend"
	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.yaml"), []byte(`
description: auth rework
epics:
  - tk-e1
  - tk-e2
`), 0o644))

	m, err := LoadManifest(dir, "auth")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "auth", m.Slug, "slug defaults to the file name")
	assert.Equal(t, []task.ID{"tk-e1", "tk-e2"}, m.Epics)
}

func TestLoadManifest_MissingIsNotAnError(t *testing.T) {
	m, err := LoadManifest(t.TempDir(), "nope")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLoadManifest_EmptyEpicsRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.yaml"), []byte("epics: []\n"), 0o644))

	_, err := LoadManifest(dir, "auth")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestEpicOrder_ManifestWins(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := backend.NewFileBackend(filepath.Join(dir, "tasks.json"))

	for _, id := range []task.ID{"tk-e1", "tk-e2"} {
		_, err := store.Create(ctx, &task.Record{ID: id, Title: string(id), Status: task.StatusOpen, Type: task.TypeEpic})
		require.NoError(t, err)
	}

	plansDir := filepath.Join(dir, "plans")
	require.NoError(t, os.MkdirAll(plansDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plansDir, "auth.yaml"),
		[]byte("epics: [tk-e2, tk-e1]\n"), 0o644))

	order, err := epicOrder(ctx, store, plansDir, "auth")
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"tk-e2", "tk-e1"}, order)
}

func TestEpicOrder_ManifestWithUnknownEpic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := backend.NewFileBackend(filepath.Join(dir, "tasks.json"))

	plansDir := filepath.Join(dir, "plans")
	require.NoError(t, os.MkdirAll(plansDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plansDir, "auth.yaml"),
		[]byte("epics: [tk-ghost]\n"), 0o644))

	_, err := epicOrder(ctx, store, plansDir, "auth")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRunEpicNotFound))
}

func TestEpicOrder_DerivedFromBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := backend.NewFileBackend(filepath.Join(dir, "tasks.json"))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	epics := []task.Record{
		{ID: "tk-e1", Title: "later low prio", Status: task.StatusOpen, Type: task.TypeEpic, Priority: 3, CreatedAt: base},
		{ID: "tk-e2", Title: "urgent", Status: task.StatusOpen, Type: task.TypeEpic, Priority: 0, CreatedAt: base.Add(time.Hour)},
		{ID: "tk-e3", Title: "urgent but newer", Status: task.StatusOpen, Type: task.TypeEpic, Priority: 0, CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range epics {
		_, err := store.Create(ctx, &epics[i])
		require.NoError(t, err)
	}
	// A plain task must not show up in the epic order
	_, err := store.Create(ctx, &task.Record{ID: "tk-t1", Title: "task", Status: task.StatusOpen, Type: task.TypeTask})
	require.NoError(t, err)

	order, err := epicOrder(ctx, store, filepath.Join(dir, "plans"), "auth")
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"tk-e2", "tk-e3", "tk-e1"}, order)
}
