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

// Package store implements the Artefact Store: a filesystem-rooted,
// layered (project > user > bundled) source of tool and runtime
// manifests.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/kiwi/internal/extractor"
	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

// manifestGlob matches every accepted manifest extension anywhere
// under a scope root, recursively; conventionally that's
// <scope>/.ai/tools/**, but nothing requires that particular layout.
const manifestGlob = "**/*.{yaml,yml}"

// Root is one scope's filesystem root, in precedence order (first
// root wins on tool_id collision).
type Root struct {
	Scope manifest.Scope
	Path  string
}

// Store resolves tool_ids to manifest file paths across layered
// scope roots, caching the scan until Reload is called.
type Store struct {
	roots     []Root
	extractor *extractor.Extractor

	mu       sync.RWMutex
	byToolID map[string]string // tool_id -> absolute manifest path
	scanned  bool
}

// New creates a Store over roots in precedence order (typically
// project, user, bundled). An empty Root.Path is skipped.
func New(roots []Root, ex *extractor.Extractor) *Store {
	return &Store{roots: roots, extractor: ex, byToolID: make(map[string]string)}
}

// CacheSize reports the number of tool_ids currently indexed, for the
// kernel's cache-size gauge. It does not trigger a scan.
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToolID)
}

// Locate returns the manifest path for tool_id, scanning scope roots
// on first use (or after Reload) and caching the result.
func (s *Store) Locate(toolID string) (string, error) {
	if err := s.ensureScanned(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path, ok := s.byToolID[toolID]
	if !ok {
		return "", &kerrors.UnresolvedToolError{ToolID: toolID}
	}
	return path, nil
}

// Entry is one (tool_id, path) pair returned by List.
type Entry struct {
	ToolID string
	Path   string
}

// List returns every known (tool_id, path), optionally narrowed by
// filter (a substring match against tool_id; empty matches all).
func (s *Store) List(filter string) ([]Entry, error) {
	if err := s.ensureScanned(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.byToolID))
	for toolID, path := range s.byToolID {
		if filter == "" || containsFold(toolID, filter) {
			entries = append(entries, Entry{ToolID: toolID, Path: path})
		}
	}
	return entries, nil
}

// Reload forgets cached tool_id -> path bindings; the next Locate or
// List triggers a fresh scan.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToolID = make(map[string]string)
	s.scanned = false
}

func (s *Store) ensureScanned() error {
	s.mu.RLock()
	scanned := s.scanned
	s.mu.RUnlock()
	if scanned {
		return nil
	}

	byToolID := make(map[string]string)

	// Highest precedence first; once a tool_id is claimed by a
	// higher-precedence root, lower-precedence roots never overwrite it
	// — the highest-precedence manifest wins and the others are
	// invisible.
	for _, root := range s.roots {
		if root.Path == "" {
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(root.Path), manifestGlob)
		if err != nil {
			continue
		}
		for _, rel := range matches {
			abs := filepath.Join(root.Path, rel)
			m, err := s.extractor.Extract(abs)
			if err != nil {
				// An unparsable file does not abort the whole scan —
				// it simply never becomes resolvable by tool_id. The
				// error surfaces later if something tries to use it
				// as an executor_id target and fails UnresolvedTool,
				// or directly if the caller asked to extract it.
				continue
			}
			if _, claimed := byToolID[m.ToolID]; !claimed {
				byToolID[m.ToolID] = abs
			}
		}
	}

	s.mu.Lock()
	s.byToolID = byToolID
	s.scanned = true
	s.mu.Unlock()

	return nil
}

func containsFold(s, substr string) bool {
	return len(substr) == 0 || indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	sl, subl := len(s), len(substr)
	if subl > sl {
		return -1
	}
	for i := 0; i+subl <= sl; i++ {
		if equalFold(s[i:i+subl], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
