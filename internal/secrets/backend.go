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
)

var (
	// ErrSecretNotFound is returned when a key does not exist in a backend.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a backend cannot be used in the current environment.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrReadOnlyBackend is returned by Set/Delete on a backend that only supports Get.
	ErrReadOnlyBackend = errors.New("backend is read-only")
)

// SecretBackend stores the raw values behind an Auth Store credential
// field ("access_token", "refresh_token", "expires_at", "scopes").
// The kernel wires exactly two: the OS keychain and the process
// environment. Backends are queried in Priority order by Resolver.
type SecretBackend interface {
	// Name identifies the backend, e.g. "keychain" or "env".
	Name() string

	// Get retrieves a value by key. Returns ErrSecretNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. Returns ErrReadOnlyBackend if unsupported.
	Set(ctx context.Context, key, value string) error

	// Delete removes a value. Returns ErrSecretNotFound if absent,
	// ErrReadOnlyBackend if unsupported.
	Delete(ctx context.Context, key string) error

	// Available reports whether this backend is usable right now (the
	// keychain backend returns false when the OS keyring is locked or
	// unreachable).
	Available() bool

	// Priority ranks this backend among others (higher checked first).
	Priority() int
}
