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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT inspects an access token's exp claim without
// verifying its signature — the Auth Store trusts the token because
// it only ever reads back what it itself persisted, issued by an
// external signin flow. This lets a service's credential carry an
// accurate ExpiresAt even when the issuer's token response omits
// expires_in.
func expiryFromJWT(accessToken string) (time.Time, error) {
	parser := jwt.NewParser()
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse unverified jwt: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return claims.ExpiresAt.Time.UTC(), nil
}
