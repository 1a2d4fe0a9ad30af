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
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watch on every configured scope root and
// calls Reload (and invalidates the extractor's per-file cache for
// the changed path) whenever a manifest file under one of them is
// created, written, renamed, or removed. The returned watcher must be
// closed by the caller when the store is torn down; a nil watcher and
// nil error pair is returned if no root path exists yet to watch.
//
// Watch is an optional, explicit reload signal — callers that do not
// want filesystem-driven invalidation can simply not call Watch and
// invoke Reload manually instead.
func (s *Store) Watch(logger *slog.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := 0
	for _, root := range s.roots {
		if root.Path == "" {
			continue
		}
		if err := watcher.Add(root.Path); err == nil {
			watched++
		}
	}
	if watched == 0 {
		watcher.Close()
		return nil, nil
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.extractor.Invalidate(event.Name)
				s.Reload()
				if logger != nil {
					logger.Debug("artefact store reloaded", "path", event.Name, "op", event.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Warn("artefact store watch error", "error", err)
				}
			}
		}
	}()

	return watcher, nil
}
