package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vayuaq/vayu/internal/atomicfile"
	"github.com/vayuaq/vayu/internal/models"
)

// FileStore keeps one JSON-array file per entity under a data directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the dataset file path for an entity.
func (fs *FileStore) Path(entityID int64) string {
	return filepath.Join(fs.dir, fmt.Sprintf("entity_%d.json", entityID))
}

// Load reads an entity's dataset file. A missing file is an empty dataset.
// Unlike the watermark store, a corrupt dataset file is an error: silently
// treating it as empty would let the next merge overwrite committed data.
func (fs *FileStore) Load(_ context.Context, entityID int64) ([]models.Record, error) {
	data, err := os.ReadFile(fs.Path(entityID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dataset for entity %d: %w", entityID, err)
	}

	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode dataset for entity %d: %w", entityID, err)
	}
	return records, nil
}

// Merge writes existing ++ fresh to a temporary file and atomically replaces
// the entity's dataset file.
func (fs *FileStore) Merge(_ context.Context, entityID int64, existing, fresh []models.Record) (AppendResult, error) {
	merged := make([]models.Record, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return AppendResult{}, fmt.Errorf("encode dataset for entity %d: %w", entityID, err)
	}
	if err := atomicfile.WriteFile(fs.Path(entityID), data, 0o644); err != nil {
		return AppendResult{}, fmt.Errorf("write dataset for entity %d: %w", entityID, err)
	}
	return appendResult(existing, fresh), nil
}
