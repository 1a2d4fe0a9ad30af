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
	"fmt"
	"os"
	"strings"
)

const (
	// EnvBackendPriority is the highest priority: an operator's
	// explicit env var always overrides a cached keychain value.
	EnvBackendPriority = 100

	envSecretPrefix = "KIWI_SECRET_"
)

// EnvBackend reads Auth Store credential fields from the process
// environment under KIWI_SECRET_<normalized key>, e.g. the
// "kiwi/supabase/access_token" field as KIWI_SECRET_KIWI_SUPABASE_ACCESS_TOKEN.
// It never writes: headless and CI environments provide credentials
// this way without ever touching a keychain.
type EnvBackend struct{}

// NewEnvBackend creates an environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a value from its normalized environment variable.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	if value := os.Getenv(e.normalizeKey(key)); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: environment variable not set", ErrSecretNotFound)
}

// Set always fails: the environment backend is read-only.
func (e *EnvBackend) Set(ctx context.Context, key, value string) error {
	return ErrReadOnlyBackend
}

// Delete always fails: the environment backend is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// Available returns true: the process environment is always readable.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority (highest).
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

// normalizeKey converts a credential key to an environment variable
// name. Example: "kiwi/supabase/access_token" ->
// "KIWI_SECRET_KIWI_SUPABASE_ACCESS_TOKEN".
func (e *EnvBackend) normalizeKey(key string) string {
	return envSecretPrefix + strings.ToUpper(strings.ReplaceAll(key, "/", "_"))
}
