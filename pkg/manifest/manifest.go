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

// Package manifest defines the declarative tool metadata record the
// rest of the kernel operates on. Manifests are immutable once
// extracted: every ToolManifest value returned by the extractor is a
// fresh copy, never a pointer into mutable shared state.
package manifest

// ToolType distinguishes the three kinds of manifest the kernel
// recognizes.
type ToolType string

const (
	// ToolTypePrimitive marks a terminal manifest — one that
	// actually performs I/O. ExecutorID is always empty for a
	// primitive.
	ToolTypePrimitive ToolType = "primitive"

	// ToolTypeRuntime marks a non-terminal manifest that adds
	// environment resolution rules on top of a primitive (or another
	// runtime).
	ToolTypeRuntime ToolType = "runtime"

	// ToolTypeUser marks an ordinary, caller-invocable tool.
	ToolTypeUser ToolType = "user"
)

// ResolverKind names a strategy for locating an interpreter binary.
type ResolverKind string

const (
	ResolverVenvPython     ResolverKind = "venv_python"
	ResolverNodeModules    ResolverKind = "node_modules"
	ResolverSystemBinary   ResolverKind = "system_binary"
	ResolverVersionManager ResolverKind = "version_manager"
)

// Scope is a filesystem precedence level a manifest, lockfile, or env
// resolver search step may be read from.
type Scope string

const (
	ScopeProject Scope = "project"
	// ScopeKiwi is the tool-specific scope distinct from the general
	// user scope — e.g. a per-tool cache directory the kernel itself
	// manages, consulted between project and user scope by env
	// resolvers that declare it in their search list.
	ScopeKiwi   Scope = "kiwi"
	ScopeUser   Scope = "user"
	ScopeSystem Scope = "system"
	// ScopeBundled is only used by the Artefact Store's manifest
	// discovery precedence (project > user > bundled), not by env
	// resolver search lists.
	ScopeBundled Scope = "bundled"
)

// VersionManagerKind names a supported ruby/node/etc version manager
// for ResolverVersionManager resolvers.
type VersionManagerKind string

const (
	VersionManagerRbenv VersionManagerKind = "rbenv"
	VersionManagerNvm   VersionManagerKind = "nvm"
	VersionManagerAsdf  VersionManagerKind = "asdf"
)

// Resolver is one named interpreter-location strategy within a
// runtime manifest's env_config.interpreter.
type Resolver struct {
	Kind ResolverKind `yaml:"kind" json:"kind"`

	// Var is the environment variable name the resolved path is
	// bound to (e.g. KIWI_PYTHON).
	Var string `yaml:"var" json:"var"`

	// Search is the ordered list of scopes this resolver consults.
	Search []Scope `yaml:"search" json:"search"`

	// Fallback is used verbatim if none of Search's scopes yield a
	// path.
	Fallback string `yaml:"fallback" json:"fallback"`

	// Manager and Version are only meaningful for
	// ResolverVersionManager.
	Manager VersionManagerKind `yaml:"manager,omitempty" json:"manager,omitempty"`
	Version string             `yaml:"version,omitempty" json:"version,omitempty"`

	// Binary is the executable name system_binary and
	// version_manager resolvers look up (e.g. "node", "ruby").
	Binary string `yaml:"binary,omitempty" json:"binary,omitempty"`
}

// EnvConfig is present only on manifests with ToolType ==
// ToolTypeRuntime.
type EnvConfig struct {
	// Interpreter holds the named resolvers used to locate an
	// interpreter binary. Most runtimes declare exactly one; the
	// plural form exists because a runtime may need to resolve more
	// than one binary (e.g. both an interpreter and a package
	// manager).
	Interpreter []Resolver `yaml:"interpreter" json:"interpreter"`

	// Env lists static variable assignments, applied in declaration
	// order, whose values may reference other variables via
	// ${VAR} / ${VAR:-default}.
	Env map[string]string `yaml:"env" json:"env"`
}

// Property describes one field of a ConfigSchema.
type Property struct {
	Type        string      `yaml:"type" json:"type"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Default     interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Enum        []string    `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ConfigSchema declaratively describes the shape of caller-supplied
// runtime params for a terminal primitive (or any manifest a caller
// may pass params through to).
type ConfigSchema struct {
	Type       string               `yaml:"type" json:"type"`
	Required   []string             `yaml:"required,omitempty" json:"required,omitempty"`
	Properties map[string]*Property `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// ToolManifest is the immutable record of one tool's declarative
// metadata, as defined in the data model.
type ToolManifest struct {
	ToolID   string   `yaml:"tool_id" json:"tool_id"`
	Version  string   `yaml:"version" json:"version"`
	ToolType ToolType `yaml:"tool_type" json:"tool_type"`

	// ExecutorID names the next manifest in the chain, or is empty
	// for a primitive.
	ExecutorID string `yaml:"executor_id,omitempty" json:"executor_id,omitempty"`

	Category string `yaml:"category,omitempty" json:"category,omitempty"`

	// Config is the primitive/runtime configuration template, merged
	// root-to-terminal by the Executor and templated against the
	// resolved environment.
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`

	// ConfigSchema declares the shape of caller-supplied runtime
	// params, checked against the terminal primitive only.
	ConfigSchema *ConfigSchema `yaml:"config_schema,omitempty" json:"config_schema,omitempty"`

	// EnvConfig is only populated when ToolType == ToolTypeRuntime.
	EnvConfig *EnvConfig `yaml:"env_config,omitempty" json:"env_config,omitempty"`

	// RequiredScope, when non-empty, gates credential injection: the
	// Auth Store is asked for a token with this scope before the
	// chain's terminal primitive dispatches.
	RequiredScope string `yaml:"required_scope,omitempty" json:"required_scope,omitempty"`

	// SourcePath is the file this manifest was extracted from. Not
	// part of the wire format — populated by the extractor for
	// diagnostics and integrity verification, never serialized back
	// out in a manifest preview.
	SourcePath string `yaml:"-" json:"-"`

	// ContentHash is the extractor's recorded hash of SourcePath's
	// canonical bytes at extraction time, used by the Integrity
	// Verifier and Lockfile Store. Empty if integrity metadata was
	// not supplied alongside the manifest.
	ContentHash string `yaml:"content_hash,omitempty" json:"content_hash,omitempty"`
}

// IsPrimitive reports whether m is a valid chain terminal: executor_id
// empty and tool_type primitive.
func (m *ToolManifest) IsPrimitive() bool {
	return m.ExecutorID == "" && m.ToolType == ToolTypePrimitive
}

// Clone returns a deep-enough copy of m so that callers mutating the
// returned value (e.g. the Executor's config-merge accumulator)
// cannot corrupt the extractor's cached copy. Nested maps are shallow
// beneath the top level, matching how config merging only ever writes
// at the top level of Config.
func (m *ToolManifest) Clone() *ToolManifest {
	clone := *m
	if m.Config != nil {
		clone.Config = make(map[string]interface{}, len(m.Config))
		for k, v := range m.Config {
			clone.Config[k] = v
		}
	}
	if m.EnvConfig != nil {
		ec := *m.EnvConfig
		if m.EnvConfig.Env != nil {
			ec.Env = make(map[string]string, len(m.EnvConfig.Env))
			for k, v := range m.EnvConfig.Env {
				ec.Env[k] = v
			}
		}
		if m.EnvConfig.Interpreter != nil {
			ec.Interpreter = append([]Resolver(nil), m.EnvConfig.Interpreter...)
		}
		clone.EnvConfig = &ec
	}
	return &clone
}
