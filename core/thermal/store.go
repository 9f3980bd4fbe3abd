package thermal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gridflex/clpu/core/model"
)

// latestFile is the store entry the learner reads back.
const latestFile = "latest"

// Store persists thermal models as JSON files in one directory: a "latest"
// entry plus one dated copy per save for traceability.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the model to the latest entry and a dated copy.
func (s *Store) Save(m model.ThermalModel) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding thermal model: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, latestFile), data, 0o644); err != nil {
		return fmt.Errorf("writing latest model: %w", err)
	}
	dated := strings.ReplaceAll(m.SavedAt.Truncate(time.Minute).Format(time.RFC3339), ":", "-")
	if err := os.WriteFile(filepath.Join(s.dir, dated), data, 0o644); err != nil {
		return fmt.Errorf("writing dated model copy: %w", err)
	}
	return nil
}

// Load reads the latest stored model.
func (s *Store) Load() (model.ThermalModel, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		return model.ThermalModel{}, fmt.Errorf("reading latest model: %w", err)
	}
	var m model.ThermalModel
	if err := json.Unmarshal(data, &m); err != nil {
		return model.ThermalModel{}, fmt.Errorf("decoding thermal model: %w", err)
	}
	return m, nil
}
