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
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tombee/kiwi/pkg/httpclient"
)

// OAuth2RefresherConfig configures the token endpoint an OAuth2Refresher
// calls for a given service. The request itself goes through the
// standard oauth2 TokenSource machinery, which is itself backed by an
// http.Client — a kernel-internal call, never a tool invocation.
type OAuth2RefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// OAuth2Refresher exchanges a refresh token for a new access token
// per service, via golang.org/x/oauth2, scoped to the Auth Store's
// (service -> Credential) shape rather than an HTTP transport.
type OAuth2Refresher struct {
	configs map[string]OAuth2RefresherConfig
	client  *http.Client
}

// NewOAuth2Refresher creates a refresher over a fixed set of
// per-service endpoint configs, set up once at kernel startup. The
// token endpoint is called through the same retrying, timeout-bounded
// client the rest of the kernel uses for outbound HTTP: refresh goes
// through the HTTP primitive's client, never as a caller-visible tool.
func NewOAuth2Refresher(configs map[string]OAuth2RefresherConfig) *OAuth2Refresher {
	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "kiwi-kernel-auth/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		// DefaultConfig always validates; this path is unreachable in
		// practice but New still returns an error signature to satisfy.
		client = http.DefaultClient
	}
	return &OAuth2Refresher{configs: configs, client: client}
}

// Refresh implements Refresher.
func (r *OAuth2Refresher) Refresh(ctx context.Context, service string, cred *Credential) (*Credential, error) {
	cfg, ok := r.configs[service]
	if !ok {
		return nil, fmt.Errorf("no oauth2 refresh endpoint configured for service %q", service)
	}
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("service %q has no refresh token", service)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}

	refreshed := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scopes:       cred.Scopes,
		CreatedAt:    time.Now().UTC(),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken // some providers omit an unchanged refresh token
	}
	if !token.Expiry.IsZero() {
		refreshed.ExpiresAt = token.Expiry.UTC()
	}

	return refreshed, nil
}
