// Package state tracks per-entity fetch progress in a single watermark file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vayuaq/vayu/internal/atomicfile"
	"github.com/vayuaq/vayu/internal/models"
)

// Store is a durable key/value record of fetch progress per entity, backed
// by one JSON file rewritten atomically on every update.
//
// The backing file may be rewritten by another process between calls (the
// ingest run commits watermarks while the api service keeps serving), so
// every read re-checks the file and reloads when its mtime or size changed.
//
// An unreadable or corrupt file degrades to "no watermarks": the only cost
// is a redundant refetch absorbed by deduplication, never data loss.
type Store struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	marks   map[string]models.Watermark
	modTime time.Time
	size    int64
}

// Open creates a store over the watermark file at path. The file is loaded
// lazily on first access; it need not exist yet.
func Open(path string, log zerolog.Logger) *Store {
	s := &Store{
		path:  path,
		log:   log,
		marks: make(map[string]models.Watermark),
	}
	s.mu.Lock()
	s.refresh()
	s.mu.Unlock()
	return s
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the watermark for an entity. Absence is a valid state meaning
// "fetch full history".
func (s *Store) Get(entityID int64) (models.Watermark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	wm, ok := s.marks[entityKey(entityID)]
	return wm, ok
}

// Set records the watermark for an entity and persists the whole store
// before returning.
func (s *Store) Set(entityID int64, wm models.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	s.marks[entityKey(entityID)] = wm
	return s.flush()
}

// All returns a copy of every recorded watermark keyed by entity id.
func (s *Store) All() map[string]models.Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	out := make(map[string]models.Watermark, len(s.marks))
	for k, v := range s.marks {
		out[k] = v
	}
	return out
}

// Reset discards all watermarks and removes the backing file, forcing the
// next run to fetch full history for every entity.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = make(map[string]models.Watermark)
	s.modTime = time.Time{}
	s.size = 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove watermark file: %w", err)
	}
	return nil
}

// refresh reloads the backing file when it changed on disk. Callers hold mu.
func (s *Store) refresh() {
	info, err := os.Stat(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("watermark file unreadable, treating as empty")
		}
		s.marks = make(map[string]models.Watermark)
		s.modTime = time.Time{}
		s.size = 0
		return
	}
	if !s.modTime.IsZero() && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("watermark file unreadable, treating as empty")
		s.marks = make(map[string]models.Watermark)
		return
	}

	marks := make(map[string]models.Watermark)
	if err := json.Unmarshal(data, &marks); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("watermark file corrupt, treating as empty")
		marks = make(map[string]models.Watermark)
	}
	s.marks = marks
	s.modTime = info.ModTime()
	s.size = info.Size()
}

// flush persists the current map and records the new file identity so the
// next read does not reload our own write. Callers hold mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.marks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermarks: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persist watermarks: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
		s.size = info.Size()
	}
	return nil
}

func entityKey(entityID int64) string {
	return strconv.FormatInt(entityID, 10)
}
