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

// Package integrity recomputes a manifest file's content hash and
// compares it against an expected value recorded by a lockfile or a
// prior extraction. A mismatch is fatal: no chain element may be
// dispatched past a failed check.
package integrity

import (
	"encoding/hex"
	"os"

	"golang.org/x/crypto/blake2b"

	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

// HashFile computes the canonical content hash of path: the raw file
// bytes, hashed with blake2b-256. Canonical means exactly that — no
// parsing, no normalization — so a YAML manifest and a Python-source
// manifest are hashed identically (over bytes), immune to
// parser-version drift.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes computes the canonical content hash of raw manifest
// bytes already in memory (used when the extractor has already read
// the file and wants to avoid a second read).
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes m's content hash from SourcePath and compares it
// to expectedHash. An empty expectedHash means no hash was supplied
// (permitted only when the caller's policy allows it, e.g.
// use_lockfile=off) and Verify returns nil without reading the file.
func Verify(m *manifest.ToolManifest, expectedHash string) error {
	if expectedHash == "" {
		return nil
	}

	actual, err := HashFile(m.SourcePath)
	if err != nil {
		return &kerrors.MalformedManifestError{Path: m.SourcePath, Cause: err}
	}

	if actual != expectedHash {
		return &kerrors.IntegrityMismatchError{
			ToolID:       m.ToolID,
			Version:      m.Version,
			ExpectedHash: expectedHash,
			ActualHash:   actual,
		}
	}

	return nil
}
