// Package rulestore holds the in-memory rule set and its on-disk
// mirror: one "<name>.rule" file per Rule under a configured directory
// (spec.md §4.E).
package rulestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"flexalert/internal/logger"
	"flexalert/internal/metrics"
	"flexalert/internal/rule"
)

var (
	ErrAlreadyExists = errors.New("rule already exists")
	ErrDoesNotExist  = errors.New("rule does not exist")
	ErrSaveFailure   = errors.New("rule save failure")
	ErrCanNotRemove  = errors.New("rule can not be removed")
)

const ruleFileSuffix = ".rule"

// Store is the in-memory name->Rule map with disk persistence under dir.
type Store struct {
	dir string

	mu    sync.Mutex
	rules map[string]*rule.Rule
}

// Open scans dir for "*.rule" files and loads every one it can parse.
// Per-file failures are logged and skipped; they never abort startup
// (§4.E).
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, rules: make(map[string]*rule.Rule)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("scan rules directory: %w", err)
	}

	log := logger.WithComponent("rulestore")
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ruleFileSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		doc, err := os.ReadFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("failed to read rule file, skipping")
			continue
		}
		r, err := rule.ParseJSON(doc)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("failed to parse rule file, skipping")
			continue
		}
		s.rules[r.Name] = r
	}

	metrics.RulesLoaded.Set(float64(len(s.rules)))
	log.Info().Int("count", len(s.rules)).Str("dir", dir).Msg("rules loaded from disk")
	return s, nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, name+ruleFileSuffix)
}

// Get returns the named rule, if present.
func (s *Store) Get(name string) (*rule.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[name]
	return r, ok
}

// All returns a snapshot slice of every rule currently held, used by
// the asset registry to rebuild bindings.
func (s *Store) All() []*rule.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// Add persists r to disk and, only on success, inserts it into memory.
// A rule with the same name already present is rejected with
// ErrAlreadyExists unless allowReplace is set (the mailbox sets it for
// rule names containing "sensorgpio").
func (s *Store) Add(r *rule.Rule, allowReplace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.Name]; exists && !allowReplace {
		return ErrAlreadyExists
	}

	doc, err := r.Serialize()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailure, err)
	}
	if err := os.WriteFile(s.pathFor(r.Name), doc, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailure, err)
	}

	s.rules[r.Name] = r
	metrics.RulesLoaded.Set(float64(len(s.rules)))
	return nil
}

// Delete removes the on-disk file before unsetting the in-memory entry
// (§4.E). A missing rule is ErrDoesNotExist.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[name]; !exists {
		return ErrDoesNotExist
	}

	if err := os.Remove(s.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrCanNotRemove, err)
	}

	delete(s.rules, name)
	metrics.RulesLoaded.Set(float64(len(s.rules)))
	return nil
}

// Len returns the number of rules currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}
