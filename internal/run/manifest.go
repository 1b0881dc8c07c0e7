package run

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/planloop/planloop/internal/backend"
	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

// Manifest is an optional per-plan file pinning the epic execution
// order. Lives at .planloop/plans/<slug>.yaml.
type Manifest struct {
	Slug        string    `yaml:"slug"`
	Description string    `yaml:"description,omitempty"`
	Epics       []task.ID `yaml:"epics"`
}

// LoadManifest reads the manifest for slug from dir. A missing manifest
// is not an error; the caller falls back to the derived order.
func LoadManifest(dir, slug string) (*Manifest, error) {
	path := filepath.Join(dir, slug+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileReadError(path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	if m.Slug == "" {
		m.Slug = slug
	}
	if len(m.Epics) == 0 {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "plan manifest "+path+" lists no epics")
	}
	return &m, nil
}

// epicOrder resolves the ordered epic sequence for a plan: the manifest
// when one exists, otherwise every epic in the backend ordered by
// priority then creation time.
func epicOrder(ctx context.Context, store backend.Backend, plansDir, slug string) ([]task.ID, error) {
	manifest, err := LoadManifest(plansDir, slug)
	if err != nil {
		return nil, err
	}

	epics, err := store.List(ctx, backend.ListFilter{Type: task.TypeEpic})
	if err != nil {
		return nil, err
	}

	if manifest != nil {
		known := make(map[task.ID]bool, len(epics))
		for i := range epics {
			known[epics[i].ID] = true
		}
		for _, id := range manifest.Epics {
			if !known[id] {
				return nil, errors.New(errors.ErrCodeRunEpicNotFound, "plan "+slug+" names unknown epic "+id.String()).
					WithSuggestion("Run 'planloop task list --type epic' to see known epics")
			}
		}
		return slices.Clone(manifest.Epics), nil
	}

	sort.SliceStable(epics, func(i, j int) bool {
		if epics[i].Priority != epics[j].Priority {
			return epics[i].Priority < epics[j].Priority
		}
		return epics[i].CreatedAt.Before(epics[j].CreatedAt)
	})
	order := make([]task.ID, len(epics))
	for i := range epics {
		order[i] = epics[i].ID
	}
	return order, nil
}
