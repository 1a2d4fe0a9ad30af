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
	"fmt"

	"github.com/tombee/kiwi/pkg/manifest"
)

// ToolSummary is one row of a Search result: enough to let a caller
// pick a tool_id without exposing its config, schema, or credentials.
type ToolSummary struct {
	ToolID   string
	Category string
	Version  string
}

// Search lists every known tool_id whose tool_id contains filter
// (case-insensitive); an empty filter matches everything the Artefact
// Store has scanned across its scope roots.
func (k *Kernel) Search(filter string) ([]ToolSummary, error) {
	entries, err := k.store.List(filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]ToolSummary, 0, len(entries))
	for _, e := range entries {
		m, err := k.extractor.Extract(e.Path)
		if err != nil {
			continue // an unparsable manifest is invisible to search, same as store scanning
		}
		summaries = append(summaries, ToolSummary{ToolID: m.ToolID, Category: m.Category, Version: m.Version})
	}
	return summaries, nil
}

// Load returns tool_id's manifest record. It never includes a
// credential or a resolved environment, since ToolManifest carries
// neither — only declared config, schema, and the executor_id that
// places it in a chain.
func (k *Kernel) Load(toolID string) (*manifest.ToolManifest, error) {
	path, err := k.store.Locate(toolID)
	if err != nil {
		return nil, err
	}
	return k.extractor.Extract(path)
}

// Help returns static documentation text for topic. Unknown topics
// return a pointer to the known ones rather than an error — help is
// advisory, not a contract.
func (k *Kernel) Help(topic string) string {
	if text, ok := helpTopics[topic]; ok {
		return text
	}
	return fmt.Sprintf("no help available for %q; try one of: execute, search, load, chains, lockfiles, auth", topic)
}

var helpTopics = map[string]string{
	"execute": "execute(tool_id, params, options) resolves tool_id's executor chain, verifies integrity, " +
		"validates the lockfile, merges and templates config, validates params, injects credentials, and " +
		"dispatches to the terminal primitive (subprocess or http).",
	"search": "search(filter) lists known tool_ids across project, user, and bundled scopes, narrowed by a " +
		"substring match against tool_id.",
	"load": "load(tool_id) returns a tool's manifest record: tool_type, executor_id, category, config_schema. " +
		"Never includes credentials or a resolved environment.",
	"chains": "a chain is the sequence of manifests from a caller-invoked tool_id to its terminal primitive, " +
		"followed via executor_id. The last element always has tool_type=primitive and an empty executor_id.",
	"lockfiles": "lockfiles pin a resolved chain's (tool_id, version, content_hash) per position for a " +
		"(root tool_id, root version) pair, checked by use_lockfile: off (ignored), warn (flagged but " +
		"non-fatal), strict (execution refused on mismatch or absence).",
	"auth": "credentials live in a kernel-only Auth Store, never surfaced to a caller. A chain's " +
		"required_scope (first non-null root-to-terminal) gates HTTP dispatch only; declaring it on a chain " +
		"terminating at a non-HTTP primitive is a programming error.",
}
