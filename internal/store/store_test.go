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

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/kiwi/internal/extractor"
	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

func writeManifest(t *testing.T, root, relDir, name, toolID string) {
	t.Helper()
	dir := filepath.Join(root, relDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	contents := "tool_id: " + toolID + "\nversion: 1.0.0\ntool_type: user\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLocateFindsManifestAcrossSubdirectories(t *testing.T) {
	project := t.TempDir()
	writeManifest(t, project, ".ai/tools/vcs", "git.yaml", "git")

	s := New([]Root{{Scope: manifest.ScopeProject, Path: project}}, extractor.New())
	path, err := s.Locate("git")
	require.NoError(t, err)
	assert.Contains(t, path, "git.yaml")
}

func TestLocateUnresolvedTool(t *testing.T) {
	project := t.TempDir()
	s := New([]Root{{Scope: manifest.ScopeProject, Path: project}}, extractor.New())
	_, err := s.Locate("missing")
	var unresolved *kerrors.UnresolvedToolError
	require.ErrorAs(t, err, &unresolved)
}

func TestProjectScopeWinsOverUserScope(t *testing.T) {
	project := t.TempDir()
	user := t.TempDir()
	writeManifest(t, project, ".ai/tools/vcs", "git.yaml", "git")
	writeManifest(t, user, ".ai/tools/vcs", "git.yaml", "git")

	s := New([]Root{
		{Scope: manifest.ScopeProject, Path: project},
		{Scope: manifest.ScopeUser, Path: user},
	}, extractor.New())

	path, err := s.Locate("git")
	require.NoError(t, err)
	assert.Contains(t, path, project)
}

func TestListFiltersByToolID(t *testing.T) {
	project := t.TempDir()
	writeManifest(t, project, ".ai/tools/vcs", "git.yaml", "git")
	writeManifest(t, project, ".ai/tools/runtimes", "python_runtime.yaml", "python_runtime")

	s := New([]Root{{Scope: manifest.ScopeProject, Path: project}}, extractor.New())
	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.List("git")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "git", filtered[0].ToolID)
}

func TestReloadPicksUpNewManifest(t *testing.T) {
	project := t.TempDir()
	s := New([]Root{{Scope: manifest.ScopeProject, Path: project}}, extractor.New())

	_, err := s.Locate("git")
	require.Error(t, err)

	writeManifest(t, project, ".ai/tools/vcs", "git.yaml", "git")
	s.Reload()

	_, err = s.Locate("git")
	require.NoError(t, err)
}
