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

// Package envresolve implements the Env Resolver: a pure function
// from a runtime's declared env_config to a concrete variable map, and
// the ${VAR}/${VAR:-default} templating engine used to substitute
// that map into merged tool configs.
package envresolve

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tombee/kiwi/pkg/manifest"
)

// ScopeRoots gives the filesystem roots the resolver consults for
// each scope it may be asked to search. A zero-value root (empty
// string) means that scope has no root configured and is skipped.
type ScopeRoots struct {
	Project string
	Kiwi    string
	User    string
	// System has no root: system-scope resolution always falls
	// through to a PATH lookup (which gofunc does internally).
}

// Options configures a single Resolve call.
type Options struct {
	Roots ScopeRoots

	// CallerEnv is the caller-supplied tool-level env overlay, applied
	// last, already un-templated — it is templated against the map
	// built so far, exactly like EnvConfig.Env.
	CallerEnv map[string]string

	// AllowDotEnv, when true, merges a .env file at the project
	// scope root before the resolver chain runs.
	AllowDotEnv bool

	// LookPath is overridable for tests; defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (o *Options) lookPath() func(string) (string, error) {
	if o.LookPath != nil {
		return o.LookPath
	}
	return exec.LookPath
}

// Resolve computes the flat {name -> value} map for a runtime's
// env_config. Resolve performs no writes to the filesystem (Env
// Purity): it only stats paths and, if AllowDotEnv is set, reads a
// .env file.
func Resolve(cfg *manifest.EnvConfig, opts Options) map[string]string {
	env := processEnvMap()

	if opts.AllowDotEnv && opts.Roots.Project != "" {
		mergeDotEnv(env, filepath.Join(opts.Roots.Project, ".env"))
	}

	if cfg != nil {
		for _, r := range cfg.Interpreter {
			path := resolveInterpreter(r, opts)
			env[r.Var] = path
		}

		for _, k := range orderedKeys(cfg.Env) {
			env[k] = Template(cfg.Env[k], env)
		}
	}

	for _, k := range orderedKeys(opts.CallerEnv) {
		env[k] = Template(opts.CallerEnv[k], env)
	}

	return env
}

func processEnvMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			env[name] = value
		}
	}
	return env
}

// orderedKeys returns m's keys in a stable order so that templating
// (which may reference earlier declarations) is deterministic across
// runs, matching the "declaration order" requirement. Go map
// iteration is unordered, so the extractor is expected to have
// captured insertion order elsewhere for true declaration-order
// fidelity; absent that, sorted order is the next best deterministic
// choice and is what this implementation uses.
func orderedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func mergeDotEnv(env map[string]string, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		env[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

func resolveInterpreter(r manifest.Resolver, opts Options) string {
	switch r.Kind {
	case manifest.ResolverVenvPython:
		for _, scope := range r.Search {
			if root := scopeRoot(scope, opts.Roots); root != "" {
				candidates := []string{
					filepath.Join(root, ".venv", "bin", "python"+exeSuffix()),
					filepath.Join(root, ".ai", "scripts", ".venv", "bin", "python"+exeSuffix()),
				}
				for _, c := range candidates {
					if pathExists(c) {
						return c
					}
				}
			}
			if scope == manifest.ScopeSystem {
				if p, err := opts.lookPath()("python3"); err == nil {
					return p
				}
			}
		}
		return r.Fallback

	case manifest.ResolverNodeModules:
		for _, scope := range r.Search {
			if root := scopeRoot(scope, opts.Roots); root != "" {
				c := filepath.Join(root, "node_modules", ".bin", "node"+exeSuffix())
				if pathExists(c) {
					return c
				}
			}
			if scope == manifest.ScopeSystem {
				if p, err := opts.lookPath()("node"); err == nil {
					return p
				}
			}
		}
		return r.Fallback

	case manifest.ResolverSystemBinary:
		binary := r.Binary
		if binary == "" {
			binary = r.Fallback
		}
		if p, err := opts.lookPath()(binary); err == nil {
			return p
		}
		return r.Fallback

	case manifest.ResolverVersionManager:
		if p := resolveVersionManager(r); p != "" {
			return p
		}
		if p, err := opts.lookPath()(r.Binary); err == nil {
			return p
		}
		return r.Fallback

	default:
		return r.Fallback
	}
}

func scopeRoot(scope manifest.Scope, roots ScopeRoots) string {
	switch scope {
	case manifest.ScopeProject:
		return roots.Project
	case manifest.ScopeKiwi:
		return roots.Kiwi
	case manifest.ScopeUser:
		return roots.User
	default:
		return ""
	}
}

func resolveVersionManager(r manifest.Resolver) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	var root, layout string
	switch r.Manager {
	case manifest.VersionManagerRbenv:
		root = envOr("RBENV_ROOT", filepath.Join(home, ".rbenv"))
		layout = filepath.Join(root, "versions", r.Version, "bin", r.Binary)
	case manifest.VersionManagerNvm:
		root = envOr("NVM_DIR", filepath.Join(home, ".nvm"))
		layout = filepath.Join(root, "versions", "node", "v"+r.Version, "bin", r.Binary)
	case manifest.VersionManagerAsdf:
		root = envOr("ASDF_DATA_DIR", filepath.Join(home, ".asdf"))
		layout = filepath.Join(root, "installs", r.Binary, r.Version, "bin", r.Binary)
	default:
		return ""
	}

	if pathExists(layout) {
		return layout
	}
	return ""
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func pathExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
