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

package envresolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/kiwi/pkg/manifest"
)

func TestTemplateBasic(t *testing.T) {
	env := map[string]string{"KIWI_PYTHON": "/usr/bin/python3"}
	assert.Equal(t, "/usr/bin/python3", Template("${KIWI_PYTHON}", env))
}

func TestTemplateDefaultWhenUnset(t *testing.T) {
	env := map[string]string{}
	assert.Equal(t, "/tmp/build", Template("${OUT_ROOT:-/tmp}/build", env))
}

func TestTemplateDefaultEmptyWhenUnset(t *testing.T) {
	env := map[string]string{}
	assert.Equal(t, "", Template("${VAR:-}", env))
}

func TestTemplateNoDefaultUnsetYieldsEmpty(t *testing.T) {
	env := map[string]string{}
	assert.Equal(t, "", Template("${VAR}", env))
}

func TestTemplateMultipleTokens(t *testing.T) {
	env := map[string]string{"A": "1", "B": "2"}
	assert.Equal(t, "1-2", Template("${A}-${B}", env))
}

func TestTemplateConfigRecursesThroughNesting(t *testing.T) {
	env := map[string]string{"KIWI_PYTHON": "/venv/bin/python"}
	cfg := map[string]interface{}{
		"command": "${KIWI_PYTHON}",
		"args":    []interface{}{"status", "${MISSING}"},
		"nested":  map[string]interface{}{"inner": "${KIWI_PYTHON}"},
	}
	out := TemplateConfig(cfg, env)
	assert.Equal(t, "/venv/bin/python", out["command"])
	assert.Equal(t, []interface{}{"status", ""}, out["args"])
	assert.Equal(t, "/venv/bin/python", out["nested"].(map[string]interface{})["inner"])
}

func TestResolveVenvPythonPrefersProjectScope(t *testing.T) {
	dir := t.TempDir()
	venvBin := filepath.Join(dir, ".venv", "bin")
	require.NoError(t, os.MkdirAll(venvBin, 0o755))
	pythonPath := filepath.Join(venvBin, "python")
	require.NoError(t, os.WriteFile(pythonPath, []byte("#!/bin/sh\n"), 0o755))

	cfg := &manifest.EnvConfig{
		Interpreter: []manifest.Resolver{{
			Kind:     manifest.ResolverVenvPython,
			Var:      "KIWI_PYTHON",
			Search:   []manifest.Scope{manifest.ScopeProject, manifest.ScopeUser, manifest.ScopeSystem},
			Fallback: "python3",
		}},
	}

	env := Resolve(cfg, Options{Roots: ScopeRoots{Project: dir}})
	assert.Equal(t, pythonPath, env["KIWI_PYTHON"])
}

func TestResolveVenvPythonFallsBackWhenNoVenv(t *testing.T) {
	dir := t.TempDir()
	cfg := &manifest.EnvConfig{
		Interpreter: []manifest.Resolver{{
			Kind:     manifest.ResolverVenvPython,
			Var:      "KIWI_PYTHON",
			Search:   []manifest.Scope{manifest.ScopeProject},
			Fallback: "python3",
		}},
	}
	env := Resolve(cfg, Options{Roots: ScopeRoots{Project: dir}})
	assert.Equal(t, "python3", env["KIWI_PYTHON"])
}

func TestResolveSystemBinaryUsesLookPath(t *testing.T) {
	cfg := &manifest.EnvConfig{
		Interpreter: []manifest.Resolver{{
			Kind:     manifest.ResolverSystemBinary,
			Var:      "KIWI_NODE",
			Binary:   "node",
			Fallback: "node",
		}},
	}
	env := Resolve(cfg, Options{LookPath: func(name string) (string, error) {
		return "/opt/bin/" + name, nil
	}})
	assert.Equal(t, "/opt/bin/node", env["KIWI_NODE"])
}

func TestResolveEnvMappingExpandsAgainstInterpreter(t *testing.T) {
	cfg := &manifest.EnvConfig{
		Env: map[string]string{"OUT_DIR": "${OUT_ROOT:-/tmp}/build"},
	}
	env := Resolve(cfg, Options{})
	assert.Equal(t, "/tmp/build", env["OUT_DIR"])
}

func TestResolveCallerEnvOverlayAppliesLast(t *testing.T) {
	cfg := &manifest.EnvConfig{
		Env: map[string]string{"OUT_DIR": "/default"},
	}
	env := Resolve(cfg, Options{CallerEnv: map[string]string{"OUT_DIR": "/overridden"}})
	assert.Equal(t, "/overridden", env["OUT_DIR"])
}

func TestResolveIsPure(t *testing.T) {
	dir := t.TempDir()
	cfg := &manifest.EnvConfig{
		Interpreter: []manifest.Resolver{{
			Kind:     manifest.ResolverVenvPython,
			Var:      "KIWI_PYTHON",
			Search:   []manifest.Scope{manifest.ScopeProject},
			Fallback: "python3",
		}},
	}
	opts := Options{Roots: ScopeRoots{Project: dir}}

	first := Resolve(cfg, opts)
	second := Resolve(cfg, opts)
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "Resolve must not write to the filesystem")
}
