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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Resolver queries a fixed set of SecretBackends in priority order.
// The Auth Store is its only caller; it never targets a specific
// backend by name, so Resolver always walks the full chain.
type Resolver struct {
	backends []SecretBackend
}

// NewResolver keeps only the available backends, sorted by priority
// descending (env before keychain, matching internal/secrets.
// EnvBackendPriority > KeychainBackendPriority).
func NewResolver(backends ...SecretBackend) *Resolver {
	available := make([]SecretBackend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})
	return &Resolver{backends: available}
}

// Get returns the first value found by querying backends in priority order.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("get %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Set writes to the first backend in priority order that accepts
// writes, skipping any that return ErrReadOnlyBackend.
func (r *Resolver) Set(ctx context.Context, key, value string) error {
	for _, backend := range r.backends {
		err := backend.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		return fmt.Errorf("set %q in %s: %w", key, backend.Name(), err)
	}
	return errors.New("no writable backend available")
}

// Delete removes key from every writable backend that has it.
// Succeeds if at least one backend actually held the key.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, backend := range r.backends {
		err := backend.Delete(ctx, key)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrSecretNotFound), errors.Is(err, ErrReadOnlyBackend):
			continue
		default:
			return fmt.Errorf("delete %q from %s: %w", key, backend.Name(), err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return nil
}
