// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/kiwi/pkg/manifest"
)

// lockfileDir is the directory segment under a scope root that holds
// lockfiles: "<scope>/.ai/lockfiles/<category>/...".
const lockfileDir = ".ai/lockfiles"

// Store persists and loads Lockfiles under project and user scope
// roots, backed by a per-scope index for O(1) lookup.
type Store struct {
	roots map[manifest.Scope]string // project, user -> absolute scope root

	mu      sync.Mutex
	indexes map[manifest.Scope]*index
}

// NewStore creates a Store over the given scope roots. Only
// manifest.ScopeProject and manifest.ScopeUser are meaningful; other
// keys are ignored.
func NewStore(roots map[manifest.Scope]string) *Store {
	return &Store{roots: roots, indexes: make(map[manifest.Scope]*index)}
}

func (s *Store) indexFor(scope manifest.Scope) (*index, string, error) {
	root, ok := s.roots[scope]
	if !ok || root == "" {
		return nil, "", fmt.Errorf("lockfile store: no root configured for scope %q", scope)
	}
	dir := filepath.Join(root, lockfileDir)

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[scope]; ok {
		return idx, dir, nil
	}
	idx, err := openIndex(dir)
	if err != nil {
		return nil, "", err
	}
	s.indexes[scope] = idx
	return idx, dir, nil
}

func lockPath(dir string, lf *Lockfile) string {
	file := fmt.Sprintf("%s@%s.lock", lf.RootToolID, lf.RootVersion)
	category := lf.Category
	if category == "" {
		category = "uncategorized"
	}
	return filepath.Join(dir, category, file)
}

// Save writes lf to the scope-appropriate directory and updates that
// scope's index.
func (s *Store) Save(lf *Lockfile, scope manifest.Scope) error {
	idx, dir, err := s.indexFor(scope)
	if err != nil {
		return err
	}

	path := lockPath(dir, lf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("lockfile store: %w", err)
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("lockfile store: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("lockfile store: write: %w", err)
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	return idx.upsert(ctx, indexEntry{
		Category:        lf.Category,
		ToolID:          lf.RootToolID,
		Version:         lf.RootVersion,
		RelativePath:    rel,
		CreatedAt:       now,
		LastValidatedAt: now,
	})
}

// Load returns the Lockfile for (toolID, version, category), project
// scope winning over user scope. A nil, nil result means no lockfile
// exists in either scope.
func (s *Store) Load(toolID, version, category string) (*Lockfile, error) {
	for _, scope := range []manifest.Scope{manifest.ScopeProject, manifest.ScopeUser} {
		if _, ok := s.roots[scope]; !ok {
			continue
		}
		lf, err := s.loadFromScope(scope, toolID, version, category)
		if err != nil {
			return nil, err
		}
		if lf != nil {
			return lf, nil
		}
	}
	return nil, nil
}

func (s *Store) loadFromScope(scope manifest.Scope, toolID, version, category string) (*Lockfile, error) {
	idx, dir, err := s.indexFor(scope)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry, err := idx.lookup(ctx, category, toolID, version)
	if err != nil {
		return nil, fmt.Errorf("lockfile store: index lookup: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	path := filepath.Join(dir, entry.RelativePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Index says the file should exist but it doesn't: the
			// index is a write-through cache, not a source of truth.
			// Drop the stale row and report "not found" rather than
			// erroring the whole lookup.
			_ = idx.remove(ctx, category, toolID, version)
			return nil, nil
		}
		return nil, fmt.Errorf("lockfile store: read: %w", err)
	}

	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("lockfile store: parse %s: %w", path, err)
	}
	return &lf, nil
}

// List returns every known lockfile across both scopes, optionally
// narrowed to category (empty matches all).
func (s *Store) List(category string) ([]*Lockfile, error) {
	var out []*Lockfile
	seen := make(map[string]bool)

	for _, scope := range []manifest.Scope{manifest.ScopeProject, manifest.ScopeUser} {
		if _, ok := s.roots[scope]; !ok {
			continue
		}
		idx, dir, err := s.indexFor(scope)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		entries, err := idx.listAll(ctx, category)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("lockfile store: list: %w", err)
		}

		for _, e := range entries {
			key := e.Category + "/" + e.ToolID + "@" + e.Version
			if seen[key] {
				continue // higher-precedence scope already contributed this one
			}
			seen[key] = true

			data, err := os.ReadFile(filepath.Join(dir, e.RelativePath))
			if err != nil {
				continue
			}
			var lf Lockfile
			if yaml.Unmarshal(data, &lf) != nil {
				continue
			}
			out = append(out, &lf)
		}
	}

	return out, nil
}

// PruneStale removes lockfiles whose last_validated_at exceeds
// maxAgeDays, across both scopes, returning the count removed.
func (s *Store) PruneStale(maxAgeDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	removed := 0

	for _, scope := range []manifest.Scope{manifest.ScopeProject, manifest.ScopeUser} {
		if _, ok := s.roots[scope]; !ok {
			continue
		}
		idx, dir, err := s.indexFor(scope)
		if err != nil {
			return removed, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		entries, err := idx.listAll(ctx, "")
		cancel()
		if err != nil {
			return removed, fmt.Errorf("lockfile store: prune: %w", err)
		}

		for _, e := range entries {
			if e.LastValidatedAt.After(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.RelativePath)
			_ = os.Remove(path)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = idx.remove(ctx, e.Category, e.ToolID, e.Version)
			cancel()

			removed++
		}
	}

	return removed, nil
}

// Close releases every open index handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, idx := range s.indexes {
		if err := idx.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
