// Package snapshot warm-starts the asset registry's binding index
// across restarts. It is adapted from the teacher's internal/state
// (a StateStore interface shaped around a Redis client that was never
// wired to a real backend anywhere in the retrieval pack): a
// Load/Save/Close contract typed to the binding index and backed by
// a JSON file instead of an external cache, since no pack example wires
// a real Redis client (see DESIGN.md).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"flexalert/internal/logger"
)

// Store persists and restores a snapshot of the asset->rule binding
// index (registry.Registry's external view) across restarts.
type Store interface {
	Load() (map[string][]string, error)
	Save(bindings map[string][]string) error
	Close() error
}

// FileStore persists the binding index as a single JSON file.
type FileStore struct {
	path string
}

// Open returns a FileStore rooted at path. The file need not exist yet;
// Load returns an empty map in that case.
func Open(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (map[string][]string, error) {
	doc, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read binding snapshot: %w", err)
	}

	var bindings map[string][]string
	if err := json.Unmarshal(doc, &bindings); err != nil {
		logger.WithComponent("snapshot").Warn().Err(err).Str("file", s.path).
			Msg("binding snapshot corrupt, starting from an empty index")
		return map[string][]string{}, nil
	}
	return bindings, nil
}

func (s *FileStore) Save(bindings map[string][]string) error {
	doc, err := json.Marshal(bindings)
	if err != nil {
		return fmt.Errorf("marshal binding snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, doc, 0o644); err != nil {
		return fmt.Errorf("write binding snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// NoopStore discards snapshots and always loads an empty index,
// matching the teacher's NewNoopStore fallback. internal/app always
// uses a FileStore; no configuration setting selects NoopStore.
type NoopStore struct{}

func (NoopStore) Load() (map[string][]string, error) { return map[string][]string{}, nil }
func (NoopStore) Save(map[string][]string) error     { return nil }
func (NoopStore) Close() error                       { return nil }
