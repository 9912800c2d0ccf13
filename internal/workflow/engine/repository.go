package engine

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrStateNotFound is returned when no run has been recorded yet.
var ErrStateNotFound = errors.New("workflow engine: state not found")

// StateStore persists the latest run record.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores run state as a JSON file.
type Repository struct {
	path string
}

// NewRepository creates a repository backed by path.
func NewRepository(path string) *Repository {
	return &Repository{path: filepath.Clean(path)}
}

// Path returns the backing file.
func (r *Repository) Path() string {
	return r.path
}

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, errors.Wrapf(err, "workflow engine: read %s", r.path)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, errors.Wrapf(err, "workflow engine: decode %s", r.path)
	}
	return state, nil
}

// Save writes the state to disk.
func (r *Repository) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrap(err, "workflow engine: ensure state dir")
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "workflow engine: encode state")
	}
	return os.WriteFile(r.path, append(encoded, '\n'), 0o644)
}
