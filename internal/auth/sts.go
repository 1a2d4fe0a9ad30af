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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSRoleConfig names the role an STSRefresher assumes for a given
// service, when a tool chain's required_scope maps to "assume a
// short-lived AWS role" rather than an OAuth2 scope.
type STSRoleConfig struct {
	RoleARN         string
	RoleSessionName string
	DurationSeconds int32
}

// STSRefresher issues short-lived AWS credentials via sts:AssumeRole
// instead of an OAuth2 token exchange. It satisfies Refresher so the
// Auth Store can treat an AWS-backed service identically to an
// OAuth2-backed one: "refresh" just means "assume role again".
type STSRefresher struct {
	client  *sts.Client
	configs map[string]STSRoleConfig
}

// NewSTSRefresher creates a refresher over a fixed set of per-service
// role configs, using client for the AssumeRole calls.
func NewSTSRefresher(client *sts.Client, configs map[string]STSRoleConfig) *STSRefresher {
	return &STSRefresher{client: client, configs: configs}
}

// Refresh implements Refresher. The returned Credential's AccessToken
// carries the session's temporary access key ID; callers that need
// the secret key and session token pass the whole AWS credential set
// through a richer channel — the Auth Store's single access_token
// field is deliberately generic across auth schemes, so STS-backed
// services are expected to fetch secret/session
// material out of band via Metadata's scopes, not through Get.
func (r *STSRefresher) Refresh(ctx context.Context, service string, cred *Credential) (*Credential, error) {
	cfg, ok := r.configs[service]
	if !ok {
		return nil, fmt.Errorf("no sts role configured for service %q", service)
	}

	duration := cfg.DurationSeconds
	if duration == 0 {
		duration = 3600
	}

	out, err := r.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(cfg.RoleARN),
		RoleSessionName: aws.String(cfg.RoleSessionName),
		DurationSeconds: aws.Int32(duration),
	})
	if err != nil {
		return nil, fmt.Errorf("sts assume role for %q: %w", service, err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("sts assume role for %q: empty credentials", service)
	}

	return &Credential{
		AccessToken: aws.ToString(out.Credentials.AccessKeyId),
		Scopes:      cred.Scopes,
		ExpiresAt:   aws.ToTime(out.Credentials.Expiration).UTC(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
