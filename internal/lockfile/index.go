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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite"
)

// indexEntry is one row of the on-disk index: (category, tool_id,
// version) -> relative path plus bookkeeping timestamps.
type indexEntry struct {
	Category        string
	ToolID          string
	Version         string
	RelativePath    string
	CreatedAt       time.Time
	LastValidatedAt time.Time
}

// index is a write-through cache over a scope's lockfile directory,
// backed by a SQLite table for O(1) lookup by (category, tool_id,
// version). Corruption of the database file triggers a full rebuild
// by scanning the directory tree, so the index is never a source of
// truth the store cannot recover without — the .lock files on disk
// are authoritative.
type index struct {
	db   *sql.DB
	path string
}

const indexFileName = ".index"

// openIndex opens (creating if absent) the SQLite-backed index file
// under root. If the existing file is not a valid SQLite database —
// truncated, corrupted, or from an incompatible format — it is
// rebuilt from scratch by rescanning root.
func openIndex(root string) (*index, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile index: %w", err)
	}

	path := filepath.Join(root, indexFileName)
	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("lockfile index: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	idx := &index{db: db, path: path}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		// The existing file exists but is not a usable SQLite
		// database (corruption, truncation, foreign format). Start
		// over: the directory scan in rebuild is authoritative.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("lockfile index: corrupt index, failed to remove: %w", rmErr)
		}
		db, err = sql.Open("sqlite", connStr)
		if err != nil {
			return nil, fmt.Errorf("lockfile index: reopen after rebuild: %w", err)
		}
		db.SetMaxOpenConns(1)
		idx = &index{db: db, path: path}
		if err := idx.migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("lockfile index: migrate after rebuild: %w", err)
		}
		if err := idx.rebuild(ctx, root); err != nil {
			db.Close()
			return nil, fmt.Errorf("lockfile index: rebuild: %w", err)
		}
	}

	return idx, nil
}

func (idx *index) migrate(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS lockfile_index (
			category TEXT NOT NULL,
			tool_id TEXT NOT NULL,
			version TEXT NOT NULL,
			relative_path TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_validated_at TEXT NOT NULL,
			PRIMARY KEY (category, tool_id, version)
		)`)
	return err
}

// rebuild repopulates the index table by scanning root for .lock
// files and re-reading each one, used after the on-disk index is
// found corrupt. The .lock files themselves are the source of truth;
// the index is purely a lookup accelerator.
func (idx *index) rebuild(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".lock" {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var lf Lockfile
		if yaml.Unmarshal(data, &lf) != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		info, statErr := d.Info()
		created := lf.GeneratedAt
		if statErr == nil {
			created = info.ModTime().UTC()
		}
		_ = idx.upsert(ctx, indexEntry{
			Category:        lf.Category,
			ToolID:          lf.RootToolID,
			Version:         lf.RootVersion,
			RelativePath:    rel,
			CreatedAt:       created,
			LastValidatedAt: created,
		})
		return nil
	})
}

func (idx *index) upsert(ctx context.Context, e indexEntry) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO lockfile_index (category, tool_id, version, relative_path, created_at, last_validated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, tool_id, version) DO UPDATE SET
			relative_path = excluded.relative_path,
			last_validated_at = excluded.last_validated_at
	`, e.Category, e.ToolID, e.Version, e.RelativePath, e.CreatedAt.Format(time.RFC3339), e.LastValidatedAt.Format(time.RFC3339))
	return err
}

func (idx *index) lookup(ctx context.Context, category, toolID, version string) (*indexEntry, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT category, tool_id, version, relative_path, created_at, last_validated_at
		FROM lockfile_index WHERE category = ? AND tool_id = ? AND version = ?
	`, category, toolID, version)

	var e indexEntry
	var created, validated string
	if err := row.Scan(&e.Category, &e.ToolID, &e.Version, &e.RelativePath, &created, &validated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, created)
	e.LastValidatedAt, _ = time.Parse(time.RFC3339, validated)
	return &e, nil
}

func (idx *index) remove(ctx context.Context, category, toolID, version string) error {
	_, err := idx.db.ExecContext(ctx, `
		DELETE FROM lockfile_index WHERE category = ? AND tool_id = ? AND version = ?
	`, category, toolID, version)
	return err
}

func (idx *index) listAll(ctx context.Context, category string) ([]indexEntry, error) {
	var rows *sql.Rows
	var err error
	if category == "" {
		rows, err = idx.db.QueryContext(ctx, `
			SELECT category, tool_id, version, relative_path, created_at, last_validated_at
			FROM lockfile_index
		`)
	} else {
		rows, err = idx.db.QueryContext(ctx, `
			SELECT category, tool_id, version, relative_path, created_at, last_validated_at
			FROM lockfile_index WHERE category = ?
		`, category)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []indexEntry
	for rows.Next() {
		var e indexEntry
		var created, validated string
		if err := rows.Scan(&e.Category, &e.ToolID, &e.Version, &e.RelativePath, &created, &validated); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		e.LastValidatedAt, _ = time.Parse(time.RFC3339, validated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (idx *index) close() error {
	return idx.db.Close()
}
