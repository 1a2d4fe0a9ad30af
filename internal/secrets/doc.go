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

/*
Package secrets holds the two raw storage backends behind the Auth
Store (internal/auth): the OS keychain and the process environment.
It has exactly one caller, internal/auth.Store, which resolves a
credential's four fields (access_token, refresh_token, expires_at,
scopes) through a Resolver built over both.

# Backends

	keychain - OS keychain (macOS Keychain, Linux Secret Service, Windows
	           Credential Manager), read-write.
	env      - KIWI_SECRET_<normalized key> environment variables,
	           read-only; highest priority, so an operator's explicit
	           env var always overrides a cached keychain value.

Each implements SecretBackend:

	type SecretBackend interface {
	    Name() string
	    Get(ctx context.Context, key string) (string, error)
	    Set(ctx context.Context, key, value string) error
	    Delete(ctx context.Context, key string) error
	    Available() bool
	    Priority() int
	}

# Usage

	resolver := secrets.NewResolver(secrets.NewKeychainBackend(), secrets.NewEnvBackend())
	accessToken, err := resolver.Get(ctx, "kiwi/supabase/access_token")

Resolver.Get queries backends in priority order and returns the first
hit; Set and Delete walk the same order, skipping backends that
return ErrReadOnlyBackend.
*/
package secrets
