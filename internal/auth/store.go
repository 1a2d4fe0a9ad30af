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

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tombee/kiwi/internal/secrets"
	kerrors "github.com/tombee/kiwi/pkg/errors"
)

// Refresher performs the kernel-internal HTTP call that exchanges a
// refresh token for a new access token. Implementations go through
// the HTTP primitive, never a caller-visible tool invocation.
type Refresher interface {
	Refresh(ctx context.Context, service string, cred *Credential) (*Credential, error)
}

// Store is the kernel-only credential cache: SecretBackend-backed
// persistence plus an in-memory hydration cache, for the life of the
// kernel process.
type Store struct {
	backend       *secrets.Resolver
	servicePrefix string
	refresher     Refresher

	mu       sync.Mutex
	cache    map[string]*Credential
	refresh1 map[string]*sync.Cond // single-flight refresh coordination per service
	busy     map[string]bool
}

// NewStore creates a Store. servicePrefix namespaces every keychain
// key this Store writes (e.g. "kiwi"), so multiple kernel
// installations never collide in one OS keychain.
func NewStore(backend *secrets.Resolver, servicePrefix string, refresher Refresher) *Store {
	return &Store{
		backend:       backend,
		servicePrefix: servicePrefix,
		refresher:     refresher,
		cache:         make(map[string]*Credential),
		refresh1:      make(map[string]*sync.Cond),
		busy:          make(map[string]bool),
	}
}

func (s *Store) key(service, field string) string {
	return strings.Join([]string{s.servicePrefix, service, field}, "/")
}

// Set persists a credential for service, both to the backend and the
// in-memory cache. Called only by the external signin flow, never by
// the Executor itself.
func (s *Store) Set(ctx context.Context, service, accessToken, refreshToken string, expiresIn time.Duration, scopes []string) error {
	now := time.Now().UTC()
	cred := &Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scopes:       sortedCopy(scopes),
		CreatedAt:    now,
	}
	if expiresIn > 0 {
		cred.ExpiresAt = now.Add(expiresIn)
	} else if exp, err := expiryFromJWT(accessToken); err == nil {
		// expires_in was not supplied by the signin flow; fall back to
		// the token's own exp claim when it happens to be a JWT.
		cred.ExpiresAt = exp
	}

	if err := s.persist(ctx, service, cred); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[service] = cred
	s.mu.Unlock()
	return nil
}

func (s *Store) persist(ctx context.Context, service string, cred *Credential) error {
	if err := s.backend.Set(ctx, s.key(service, "access_token"), cred.AccessToken); err != nil {
		return fmt.Errorf("auth store: persist access_token: %w", err)
	}
	if cred.RefreshToken != "" {
		if err := s.backend.Set(ctx, s.key(service, "refresh_token"), cred.RefreshToken); err != nil {
			return fmt.Errorf("auth store: persist refresh_token: %w", err)
		}
	}
	expiresAt := ""
	if !cred.ExpiresAt.IsZero() {
		expiresAt = strconv.FormatInt(cred.ExpiresAt.Unix(), 10)
	}
	if err := s.backend.Set(ctx, s.key(service, "expires_at"), expiresAt); err != nil {
		return fmt.Errorf("auth store: persist expires_at: %w", err)
	}
	if len(cred.Scopes) > 0 {
		if err := s.backend.Set(ctx, s.key(service, "scopes"), strings.Join(cred.Scopes, " ")); err != nil {
			return fmt.Errorf("auth store: persist scopes: %w", err)
		}
	}
	return nil
}

func (s *Store) hydrate(ctx context.Context, service string) (*Credential, error) {
	accessToken, err := s.backend.Get(ctx, s.key(service, "access_token"))
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth store: hydrate: %w", err)
	}

	cred := &Credential{AccessToken: accessToken}

	if refreshToken, err := s.backend.Get(ctx, s.key(service, "refresh_token")); err == nil {
		cred.RefreshToken = refreshToken
	}
	if expiresAt, err := s.backend.Get(ctx, s.key(service, "expires_at")); err == nil && expiresAt != "" {
		if unix, convErr := strconv.ParseInt(expiresAt, 10, 64); convErr == nil {
			cred.ExpiresAt = time.Unix(unix, 0).UTC()
		}
	}
	if scopeStr, err := s.backend.Get(ctx, s.key(service, "scopes")); err == nil && scopeStr != "" {
		cred.Scopes = strings.Fields(scopeStr)
	}

	return cred, nil
}

// Get resolves a token for service, refreshing transparently if the
// cached token is within refreshLeeway of expiry and a refresh token
// exists. If scope is non-empty, the resolved token must grant it.
func (s *Store) Get(ctx context.Context, service, scope string) (string, error) {
	cred, err := s.resolve(ctx, service)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", &kerrors.AuthenticationRequiredError{Service: service, Reason: "no credentials"}
	}

	if cred.expired(time.Now().UTC()) {
		cred, err = s.refreshOnce(ctx, service, cred)
		if err != nil {
			return "", &kerrors.AuthenticationRequiredError{Service: service, Reason: err.Error()}
		}
	}

	if !cred.grantsScope(scope) {
		return "", &kerrors.ScopeUnavailableError{
			Service:         service,
			RequiredScope:   scope,
			AvailableScopes: cred.Scopes,
		}
	}

	return cred.AccessToken, nil
}

func (s *Store) resolve(ctx context.Context, service string) (*Credential, error) {
	s.mu.Lock()
	cred, ok := s.cache[service]
	s.mu.Unlock()
	if ok {
		return cred, nil
	}

	cred, err := s.hydrate(ctx, service)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.cache[service] = cred
	s.mu.Unlock()
	return cred, nil
}

// refreshOnce performs at most one refresh attempt per Get call,
// coordinating concurrent callers for the same service onto a single
// in-flight refresh via a sync.Cond.
func (s *Store) refreshOnce(ctx context.Context, service string, cred *Credential) (*Credential, error) {
	if s.refresher == nil || cred.RefreshToken == "" {
		return nil, errors.New("token expired and no refresh token available")
	}

	s.mu.Lock()
	cond, ok := s.refresh1[service]
	if !ok {
		cond = sync.NewCond(&s.mu)
		s.refresh1[service] = cond
	}
	for s.busy[service] {
		cond.Wait()
	}
	// Another goroutine may have already refreshed while we waited.
	if current := s.cache[service]; current != nil && !current.expired(time.Now().UTC()) {
		s.mu.Unlock()
		return current, nil
	}
	s.busy[service] = true
	s.mu.Unlock()

	refreshed, err := s.refresher.Refresh(ctx, service, cred)

	s.mu.Lock()
	s.busy[service] = false
	cond.Broadcast()
	if err == nil {
		s.cache[service] = refreshed
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if persistErr := s.persist(ctx, service, refreshed); persistErr != nil {
		return refreshed, nil // refreshed token is still usable even if persistence failed
	}

	return refreshed, nil
}

// Clear drops service's credentials from both the cache and the
// backend.
func (s *Store) Clear(ctx context.Context, service string) error {
	s.mu.Lock()
	delete(s.cache, service)
	s.mu.Unlock()

	for _, field := range []string{"access_token", "refresh_token", "expires_at", "scopes"} {
		if err := s.backend.Delete(ctx, s.key(service, field)); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
			return fmt.Errorf("auth store: clear %s: %w", field, err)
		}
	}
	return nil
}

// IsAuthenticated reports whether service has a usable (non-expired,
// or refreshable) credential without performing a refresh.
func (s *Store) IsAuthenticated(ctx context.Context, service string) (bool, error) {
	cred, err := s.resolve(ctx, service)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}
	if !cred.expired(time.Now().UTC()) {
		return true, nil
	}
	return cred.RefreshToken != "", nil
}

// Metadata returns a non-sensitive summary of service's credential —
// never the tokens themselves.
func (s *Store) Metadata(ctx context.Context, service string) (Metadata, error) {
	cred, err := s.resolve(ctx, service)
	if err != nil {
		return Metadata{}, err
	}
	if cred == nil {
		return Metadata{Service: service, Authenticated: false}, nil
	}
	return Metadata{
		Service:       service,
		Scopes:        sortedCopy(cred.Scopes),
		ExpiresAt:     cred.ExpiresAt,
		CreatedAt:     cred.CreatedAt,
		Authenticated: !cred.expired(time.Now().UTC()) || cred.RefreshToken != "",
	}, nil
}
