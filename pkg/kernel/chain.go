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
	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

// resolveChain follows toolID's executor_id transitively, root first,
// until it reaches a primitive manifest. It fails with
// CyclicChainError on a repeated tool_id, MalformedChainError when a
// non-primitive manifest declares no executor_id, and NoTerminalError
// when the chain exceeds the configured maximum length without
// reaching a primitive.
func (k *Kernel) resolveChain(toolID string) ([]*manifest.ToolManifest, error) {
	maxLen := k.cfg.MaxChainLength
	if maxLen <= 0 {
		maxLen = defaultMaxChainLength
	}

	seen := make(map[string]bool, maxLen)
	chain := make([]*manifest.ToolManifest, 0, 4)
	current := toolID

	for i := 0; i < maxLen; i++ {
		if seen[current] {
			ids := make([]string, len(chain))
			for j, m := range chain {
				ids[j] = m.ToolID
			}
			return nil, &kerrors.CyclicChainError{ToolID: current, Chain: ids}
		}
		seen[current] = true

		path, err := k.store.Locate(current)
		if err != nil {
			return nil, err
		}
		m, err := k.extractor.Extract(path)
		if err != nil {
			return nil, err
		}
		chain = append(chain, m)

		if m.IsPrimitive() {
			return chain, nil
		}
		if m.ExecutorID == "" {
			return nil, &kerrors.MalformedChainError{
				ToolID: m.ToolID,
				Reason: "tool_type is not primitive but executor_id is empty",
			}
		}
		current = m.ExecutorID
	}

	return nil, &kerrors.NoTerminalError{RootToolID: toolID, MaxLength: maxLen}
}

// mergeConfigs walks chain terminal-to-root, merging each manifest's
// Config mapping into an accumulator. Applying the terminal's config
// first and the root's last means root (parent) fields override
// terminal (child) defaults, per the chain's root-to-terminal parent
// relationship.
func mergeConfigs(chain []*manifest.ToolManifest) map[string]interface{} {
	merged := make(map[string]interface{})
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Config {
			merged[k] = v
		}
	}
	return merged
}

// firstRuntimeEnvConfig returns the first runtime manifest's
// EnvConfig encountered root-to-terminal, or nil if the chain declares
// none.
func firstRuntimeEnvConfig(chain []*manifest.ToolManifest) *manifest.EnvConfig {
	for _, m := range chain {
		if m.ToolType == manifest.ToolTypeRuntime && m.EnvConfig != nil {
			return m.EnvConfig
		}
	}
	return nil
}

// firstRequiredScope returns the first non-empty RequiredScope
// encountered root-to-terminal, or "" if none of the chain's
// manifests declare one.
func firstRequiredScope(chain []*manifest.ToolManifest) string {
	for _, m := range chain {
		if m.RequiredScope != "" {
			return m.RequiredScope
		}
	}
	return ""
}

// primitiveKind identifies which terminal primitive a chain
// terminates at. The Executor dispatches on tool_type and on the
// identity of the terminal primitive manifest, not on a separate
// transport field — a manifest is a primitive by declaring
// tool_type=primitive with no executor_id, and its tool_id names
// which concrete primitive it is.
type primitiveKind string

const (
	primitiveKindSubprocess primitiveKind = "subprocess"
	primitiveKindHTTP       primitiveKind = "http"
)

func primitiveKindOf(terminal *manifest.ToolManifest) (primitiveKind, error) {
	switch terminal.ToolID {
	case string(primitiveKindSubprocess):
		return primitiveKindSubprocess, nil
	case string(primitiveKindHTTP):
		return primitiveKindHTTP, nil
	default:
		return "", &kerrors.MalformedChainError{
			ToolID: terminal.ToolID,
			Reason: "unrecognized terminal primitive identity",
		}
	}
}
