package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

// PlanStatus is the lifecycle state of a plan
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanComplete PlanStatus = "complete"
	PlanHalted   PlanStatus = "halted"
)

// PlanRecord is the durable progress record for one plan. It is created
// on the plan's first run and updated in place after every epic
// transition; it is never re-created for the same slug.
type PlanRecord struct {
	Version    int        `json:"version"`
	Slug       string     `json:"slug"`
	Epics      []task.ID  `json:"epics"`
	CursorEpic task.ID    `json:"cursor_epic,omitempty"`
	Status     PlanStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CursorIndex returns the position of the cursor epic in the ordered
// sequence, or 0 when the cursor is unset or unknown.
func (r *PlanRecord) CursorIndex() int {
	for i, id := range r.Epics {
		if id == r.CursorEpic {
			return i
		}
	}
	return 0
}

// PlanStore persists PlanRecords as one JSON file per slug
type PlanStore struct {
	dir string
	now func() time.Time
}

// NewPlanStore creates a store rooted at dir. The directory is created
// on the first save.
func NewPlanStore(dir string) *PlanStore {
	return &PlanStore{dir: dir, now: time.Now}
}

func (s *PlanStore) pathFor(slug string) string {
	return filepath.Join(s.dir, slug+".json")
}

// Exists reports whether a record has been persisted for slug
func (s *PlanStore) Exists(slug string) bool {
	_, err := os.Stat(s.pathFor(slug))
	return err == nil
}

// Load reads the record for slug
func (s *PlanStore) Load(slug string) (*PlanRecord, error) {
	path := s.pathFor(slug)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewPlanNotFoundError(slug)
		}
		return nil, errors.NewFileReadError(path, err)
	}
	var record PlanRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "JSON", err)
	}
	return &record, nil
}

// Save writes the record, stamping UpdatedAt. Writes go through a temp
// file and rename so a crash never leaves a torn record.
func (s *PlanStore) Save(record *PlanRecord) error {
	record.UpdatedAt = s.now().UTC()
	if record.Version == 0 {
		record.Version = 1
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.NewFileWriteError(s.dir, err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal plan record", err)
	}

	path := s.pathFor(record.Slug)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewFileWriteError(tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewFileWriteError(path, err)
	}
	return nil
}

// List returns the slugs of all persisted plans
func (s *PlanStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileReadError(s.dir, err)
	}
	var slugs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		slugs = append(slugs, strings.TrimSuffix(name, ".json"))
	}
	return slugs, nil
}
