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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestIndexUpsertAndLookup(t *testing.T) {
	dir := t.TempDir()
	idx, err := openIndex(dir)
	require.NoError(t, err)
	defer idx.close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, idx.upsert(ctx, indexEntry{
		Category: "vcs", ToolID: "git", Version: "1.0.0",
		RelativePath: "vcs/git@1.0.0.lock", CreatedAt: now, LastValidatedAt: now,
	}))

	entry, err := idx.lookup(ctx, "vcs", "git", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "vcs/git@1.0.0.lock", entry.RelativePath)
}

func TestIndexLookupMissReturnsNilNotError(t *testing.T) {
	dir := t.TempDir()
	idx, err := openIndex(dir)
	require.NoError(t, err)
	defer idx.close()

	entry, err := idx.lookup(context.Background(), "vcs", "nope", "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestIndexUpsertOverwritesOnConflict(t *testing.T) {
	dir := t.TempDir()
	idx, err := openIndex(dir)
	require.NoError(t, err)
	defer idx.close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, idx.upsert(ctx, indexEntry{
		Category: "vcs", ToolID: "git", Version: "1.0.0",
		RelativePath: "vcs/git@1.0.0.lock", CreatedAt: now, LastValidatedAt: now,
	}))
	require.NoError(t, idx.upsert(ctx, indexEntry{
		Category: "vcs", ToolID: "git", Version: "1.0.0",
		RelativePath: "vcs/git@1.0.0.lock.v2", CreatedAt: now, LastValidatedAt: now.Add(time.Hour),
	}))

	entry, err := idx.lookup(ctx, "vcs", "git", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "vcs/git@1.0.0.lock.v2", entry.RelativePath)
}

func TestIndexRemove(t *testing.T) {
	dir := t.TempDir()
	idx, err := openIndex(dir)
	require.NoError(t, err)
	defer idx.close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, idx.upsert(ctx, indexEntry{
		Category: "vcs", ToolID: "git", Version: "1.0.0",
		RelativePath: "vcs/git@1.0.0.lock", CreatedAt: now, LastValidatedAt: now,
	}))
	require.NoError(t, idx.remove(ctx, "vcs", "git", "1.0.0"))

	entry, err := idx.lookup(ctx, "vcs", "git", "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestOpenIndexRebuildsFromCorruptFile(t *testing.T) {
	dir := t.TempDir()

	// Write a lockfile directly on disk, bypassing the index, then
	// corrupt the index file itself before opening — rebuild must
	// recover the entry by scanning for .lock files.
	lockDir := filepath.Join(dir, "vcs")
	require.NoError(t, os.MkdirAll(lockDir, 0o755))
	lf := Freeze("git", "1.0.0", sampleChain())
	lf.Category = "vcs"
	data, err := yaml.Marshal(lf)
	require.NoError(t, err)
	lockPath := filepath.Join(lockDir, "git@1.0.0.lock")
	require.NoError(t, os.WriteFile(lockPath, data, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("not a sqlite database"), 0o644))

	idx, err := openIndex(dir)
	require.NoError(t, err)
	defer idx.close()

	entry, err := idx.lookup(context.Background(), "vcs", "git", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "vcs/git@1.0.0.lock", entry.RelativePath)
}
