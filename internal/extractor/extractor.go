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

// Package extractor parses manifest files into ToolManifest records.
// Parsing is driven by a table of extraction rules per source kind so
// that adding a new manifest format never requires branching inside
// the Executor: the Executor only ever sees a *manifest.ToolManifest.
package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tombee/kiwi/internal/integrity"
	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

// SourceKind names a manifest file format the extractor understands.
type SourceKind string

const (
	SourceKindYAML SourceKind = "yaml"
)

// requiredFields are the manifest.ToolManifest fields whose absence is
// a MalformedManifest error.
var requiredFields = []string{"tool_id", "version", "tool_type"}

// Extractor parses manifest files, caching results keyed by
// (path, mtime, size) as a pure optimization — cache hits are
// byte-identical to a fresh parse, never a behavior change.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	modTime int64
	size    int64
	m       *manifest.ToolManifest
}

// New creates an Extractor with an empty cache.
func New() *Extractor {
	return &Extractor{cache: make(map[string]cacheEntry)}
}

// CacheSize reports the number of manifests currently cached, for the
// kernel's cache-size gauge.
func (e *Extractor) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// Extract parses the manifest file at path, returning a fresh
// *manifest.ToolManifest on every call (Clone()'d off the cache entry
// so callers can never mutate the cached copy).
//
// Extract is pure with respect to file contents: the same bytes
// always yield the same manifest (SourcePath and ContentHash aside,
// which are a function of path, not content, and are populated
// identically either way).
func (e *Extractor) Extract(path string) (*manifest.ToolManifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &kerrors.MalformedManifestError{Path: path, Cause: err}
	}

	e.mu.RLock()
	entry, ok := e.cache[path]
	e.mu.RUnlock()
	if ok && entry.modTime == info.ModTime().UnixNano() && entry.size == info.Size() {
		return entry.m.Clone(), nil
	}

	m, data, err := extractFile(path)
	if err != nil {
		return nil, err
	}
	m.SourcePath = path
	m.ContentHash = integrity.HashBytes(data)

	e.mu.Lock()
	e.cache[path] = cacheEntry{modTime: info.ModTime().UnixNano(), size: info.Size(), m: m}
	e.mu.Unlock()

	return m.Clone(), nil
}

// Invalidate drops path from the cache, used by the Artefact Store
// when its filesystem watcher reports a change.
func (e *Extractor) Invalidate(path string) {
	e.mu.Lock()
	delete(e.cache, path)
	e.mu.Unlock()
}

func extractFile(path string) (*manifest.ToolManifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &kerrors.MalformedManifestError{Path: path, Cause: err}
	}

	kind := kindOf(path)
	switch kind {
	case SourceKindYAML:
		m, err := extractYAML(data)
		if err != nil {
			return nil, nil, &kerrors.MalformedManifestError{Path: path, Cause: err}
		}
		if missing := firstMissingRequired(m); missing != "" {
			return nil, nil, &kerrors.MalformedManifestError{Path: path, Field: missing}
		}
		return m, data, nil
	default:
		return nil, nil, &kerrors.MalformedManifestError{Path: path, Field: "(unrecognized source kind)"}
	}
}

func kindOf(path string) SourceKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return SourceKindYAML
	default:
		return ""
	}
}

// yamlManifest mirrors manifest.ToolManifest's wire shape. Decoding
// into a separate struct (rather than manifest.ToolManifest directly)
// keeps the "unknown fields are ignored" contract explicit and leaves
// room for the rule table to diverge from the in-memory shape without
// changing yaml tags on the canonical type.
type yamlManifest struct {
	ToolID        string                 `yaml:"tool_id"`
	Version       string                 `yaml:"version"`
	ToolType      string                 `yaml:"tool_type"`
	ExecutorID    string                 `yaml:"executor_id"`
	Category      string                 `yaml:"category"`
	Config        map[string]interface{} `yaml:"config"`
	ConfigSchema  *manifest.ConfigSchema `yaml:"config_schema"`
	EnvConfig     *manifest.EnvConfig    `yaml:"env_config"`
	RequiredScope string                 `yaml:"required_scope"`
}

func extractYAML(data []byte) (*manifest.ToolManifest, error) {
	var y yamlManifest
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, err
	}

	return &manifest.ToolManifest{
		ToolID:        y.ToolID,
		Version:       y.Version,
		ToolType:      manifest.ToolType(y.ToolType),
		ExecutorID:    y.ExecutorID,
		Category:      y.Category,
		Config:        y.Config,
		ConfigSchema:  y.ConfigSchema,
		EnvConfig:     y.EnvConfig,
		RequiredScope: y.RequiredScope,
	}, nil
}

func firstMissingRequired(m *manifest.ToolManifest) string {
	if m.ToolID == "" {
		return "tool_id"
	}
	if m.Version == "" {
		return "version"
	}
	if m.ToolType == "" {
		return "tool_type"
	}
	return ""
}
