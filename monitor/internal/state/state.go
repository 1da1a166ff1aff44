// Package state persists per-query result counts between runs.
//
// The state file is a flat JSON object mapping query URL to the count
// observed on the last successful check. It stays human-diffable: indented,
// keys sorted (json.Marshal orders map keys), one trailing newline.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store reads and writes one state file.
type Store struct {
	path   string
	logger *slog.Logger
}

// New returns a Store for the file at path. A nil logger falls back to
// slog.Default.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load returns the persisted counts. A missing file is an empty state; a
// malformed file is logged and treated as empty, so one bad write never
// wedges the monitor permanently.
func (s *Store) Load() map[string]int {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("state: read failed, starting empty", "path", s.path, "error", err)
		}
		return map[string]int{}
	}
	counts := map[string]int{}
	if err := json.Unmarshal(data, &counts); err != nil {
		s.logger.Warn("state: corrupt file, starting empty", "path", s.path, "error", err)
		return map[string]int{}
	}
	return counts
}

// Save writes counts atomically: temp file in the same directory, then
// rename over the target. Readers of the old file never observe a partial
// write.
func (s *Store) Save(counts map[string]int) error {
	data, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}
