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

package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/kiwi/internal/lockfile"
)

// writeManifest drops a tool manifest file directly under root — the
// Artefact Store globs **/*.{yaml,yml} from the scope root itself, so
// no .ai/tools subdirectory is required for a test fixture.
func writeManifest(t *testing.T, root, name, body string) {
	t.Helper()
	path := filepath.Join(root, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func writePrimitives(t *testing.T, root string) {
	t.Helper()
	writeManifest(t, root, "subprocess", `
tool_id: subprocess
version: 1.0.0
tool_type: primitive
category: primitives
`)
	writeManifest(t, root, "http", `
tool_id: http
version: 1.0.0
tool_type: primitive
category: primitives
`)
}

// newTestKernel builds a Kernel rooted at a fresh temp directory with
// the two terminal primitives already seeded, lockfiles disabled by
// default, and integrity verification off (no ContentHash pinning is
// involved unless a test opts in).
func newTestKernel(t *testing.T) (*Kernel, string) {
	t.Helper()
	root := t.TempDir()
	writePrimitives(t, root)

	cfg := DefaultConfig()
	cfg.ProjectRoot = root
	cfg.UserRoot = filepath.Join(root, ".user")
	cfg.DefaultUseLockfile = lockfile.ModeOff
	cfg.DefaultVerifyIntegrity = IntegrityOff

	k, err := New(cfg)
	require.NoError(t, err)
	return k, root
}
