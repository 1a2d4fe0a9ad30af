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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

func sampleChain() []*manifest.ToolManifest {
	return []*manifest.ToolManifest{
		{ToolID: "git", Version: "1.0.0", Category: "vcs", ExecutorID: "python_runtime", ContentHash: "hash-git"},
		{ToolID: "python_runtime", Version: "3.11.0", Category: "runtimes", ExecutorID: "subprocess", ContentHash: "hash-python"},
		{ToolID: "subprocess", Version: "1.0.0", Category: "primitives", ToolType: manifest.ToolTypePrimitive, ContentHash: "hash-subprocess"},
	}
}

func TestFreezeProducesOneEntryPerChainElement(t *testing.T) {
	lf := Freeze("git", "1.0.0", sampleChain())
	require.Len(t, lf.Entries, 3)
	assert.Equal(t, "git", lf.Entries[0].ToolID)
	assert.Equal(t, "subprocess", lf.Entries[2].ToolID)
	assert.Equal(t, "vcs", lf.Category)
	assert.NotEmpty(t, lf.ChainHash)
}

func TestValidateMatchingChain(t *testing.T) {
	chain := sampleChain()
	lf := Freeze("git", "1.0.0", chain)

	result := Validate(lf, chain)
	assert.True(t, result.Matched)
	assert.Empty(t, result.Mismatches)
}

func TestValidateDetectsContentHashDrift(t *testing.T) {
	chain := sampleChain()
	lf := Freeze("git", "1.0.0", chain)

	drifted := sampleChain()
	drifted[0].ContentHash = "hash-git-modified"

	result := Validate(lf, drifted)
	assert.False(t, result.Matched)
	require.NotEmpty(t, result.Mismatches)
}

func TestValidateDetectsLengthMismatch(t *testing.T) {
	chain := sampleChain()
	lf := Freeze("git", "1.0.0", chain)

	shorter := chain[:2]
	result := Validate(lf, shorter)
	assert.False(t, result.Matched)
}

func TestApplyModeStrictFailsOnMismatch(t *testing.T) {
	result := ValidationResult{Matched: false, Mismatches: []string{"drift"}}
	err := ApplyMode(ModeStrict, "git", "1.0.0", result)
	var mismatch *kerrors.LockfileMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestApplyModeWarnDoesNotError(t *testing.T) {
	result := ValidationResult{Matched: false, Mismatches: []string{"drift"}}
	err := ApplyMode(ModeWarn, "git", "1.0.0", result)
	assert.NoError(t, err)
}

func TestApplyModeMatchedNeverErrors(t *testing.T) {
	result := ValidationResult{Matched: true}
	assert.NoError(t, ApplyMode(ModeStrict, "git", "1.0.0", result))
}

func TestChainHashStableForIdenticalChains(t *testing.T) {
	a := Freeze("git", "1.0.0", sampleChain())
	b := Freeze("git", "1.0.0", sampleChain())
	assert.Equal(t, a.ChainHash, b.ChainHash)
}

func TestChainHashDiffersOnOrderChange(t *testing.T) {
	chain := sampleChain()
	reordered := []*manifest.ToolManifest{chain[1], chain[0], chain[2]}
	a := Freeze("git", "1.0.0", chain)
	b := Freeze("git", "1.0.0", reordered)
	assert.NotEqual(t, a.ChainHash, b.ChainHash)
}
