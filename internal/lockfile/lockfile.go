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

// Package lockfile implements the Lockfile Store: it freezes a
// resolved chain's shape for a (root tool_id, root version) pair and
// later validates a freshly resolved chain against the frozen record,
// so reproducibility holds across kernel invocations even as manifest
// files on disk evolve underneath a pinned version.
package lockfile

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

// FormatVersion is the current on-disk lockfile shape version.
const FormatVersion = 1

// Mode controls how Validate's mismatches affect the caller.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeWarn   Mode = "warn"
	ModeStrict Mode = "strict"
)

// Entry is one chain element pinned into a lockfile, one per
// resolved chain position.
type Entry struct {
	ToolID      string `yaml:"tool_id" json:"tool_id"`
	Version     string `yaml:"version" json:"version"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	ContentHash string `yaml:"content_hash" json:"content_hash"`
}

// Lockfile is a record pinned to a (root tool_id, root version) pair.
type Lockfile struct {
	LockfileVersion int       `yaml:"lockfile_version" json:"lockfile_version"`
	RootToolID      string    `yaml:"root_tool_id" json:"root_tool_id"`
	RootVersion     string    `yaml:"root_version" json:"root_version"`
	Category        string    `yaml:"category,omitempty" json:"category,omitempty"`
	GeneratedAt     time.Time `yaml:"generated_at" json:"generated_at"`
	Entries         []Entry   `yaml:"entries" json:"entries"`

	// ChainHash disambiguates multiple valid chains for the same
	// root when more than one executor_id path could reach a
	// primitive. It is computed at freeze time but Validate does not
	// require it to match — entry-by-entry comparison is the
	// authoritative check; ChainHash is a cheap fingerprint callers
	// may use to short-circuit identical-chain comparisons.
	ChainHash string `yaml:"chain_hash,omitempty" json:"chain_hash,omitempty"`
}

// ValidationResult reports how a resolved chain compares against a
// frozen Lockfile.
type ValidationResult struct {
	Matched    bool
	Mismatches []string
}

// Freeze builds a Lockfile from a fully resolved chain, root-first.
func Freeze(rootToolID, rootVersion string, chain []*manifest.ToolManifest) *Lockfile {
	entries := make([]Entry, 0, len(chain))
	for _, m := range chain {
		entries = append(entries, Entry{
			ToolID:      m.ToolID,
			Version:     m.Version,
			Category:    m.Category,
			ContentHash: m.ContentHash,
		})
	}

	var category string
	if len(chain) > 0 {
		category = chain[0].Category
	}

	return &Lockfile{
		LockfileVersion: FormatVersion,
		RootToolID:      rootToolID,
		RootVersion:     rootVersion,
		Category:        category,
		GeneratedAt:     time.Now().UTC(),
		Entries:         entries,
		ChainHash:       chainHash(entries),
	}
}

// chainHash is a blake2b-256 digest over the entry sequence, stable
// under entry order (order is significant: a chain is a sequence, not
// a set).
func chainHash(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.ToolID)
		b.WriteByte('@')
		b.WriteString(e.Version)
		b.WriteByte(':')
		b.WriteString(e.ContentHash)
		b.WriteByte('\n')
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Validate compares chain entry-by-entry against lf on (tool_id,
// version, content_hash) and length.
func Validate(lf *Lockfile, chain []*manifest.ToolManifest) ValidationResult {
	result := ValidationResult{Matched: true}

	if len(chain) != len(lf.Entries) {
		result.Matched = false
		result.Mismatches = append(result.Mismatches,
			"chain length differs: lockfile has "+itoa(len(lf.Entries))+", resolved "+itoa(len(chain)))
	}

	n := len(chain)
	if len(lf.Entries) < n {
		n = len(lf.Entries)
	}
	for i := 0; i < n; i++ {
		m, e := chain[i], lf.Entries[i]
		if m.ToolID != e.ToolID {
			result.Matched = false
			result.Mismatches = append(result.Mismatches, "position "+itoa(i)+": tool_id "+e.ToolID+" != "+m.ToolID)
			continue
		}
		if m.Version != e.Version {
			result.Matched = false
			result.Mismatches = append(result.Mismatches, "position "+itoa(i)+" ("+m.ToolID+"): version "+e.Version+" != "+m.Version)
		}
		if m.ContentHash != e.ContentHash {
			result.Matched = false
			result.Mismatches = append(result.Mismatches, "position "+itoa(i)+" ("+m.ToolID+"): content_hash differs")
		}
	}

	return result
}

// ApplyMode turns a ValidationResult into an error per mode, or nil
// when the mode tolerates the mismatch (recorded in result metadata
// instead by the caller).
func ApplyMode(mode Mode, toolID, version string, result ValidationResult) error {
	if result.Matched || mode != ModeStrict {
		return nil
	}
	return &kerrors.LockfileMismatchError{
		ToolID:  toolID,
		Version: version,
		Reason:  strings.Join(result.Mismatches, "; "),
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
