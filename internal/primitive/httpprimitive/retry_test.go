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

package httpprimitive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicateDefaultMatchesSpecResolution(t *testing.T) {
	p := newStatusPredicate()

	cases := map[int]bool{
		200: false,
		404: false,
		429: true,
		500: true,
		503: true,
	}
	for status, want := range cases {
		got, err := p.retriable(defaultRetriableExpr, status)
		require.NoError(t, err)
		assert.Equal(t, want, got, "status %d", status)
	}
}

func TestStatusPredicateCustomExpression(t *testing.T) {
	p := newStatusPredicate()
	got, err := p.retriable("status == 418", 418)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestStatusPredicateRejectsNonBooleanExpression(t *testing.T) {
	p := newStatusPredicate()
	_, err := p.retriable("status + 1", 200)
	require.Error(t, err)
}

func TestStatusPredicateCachesCompiledProgram(t *testing.T) {
	p := newStatusPredicate()
	_, err := p.retriable(defaultRetriableExpr, 500)
	require.NoError(t, err)
	p.mu.RLock()
	_, cached := p.cache[defaultRetriableExpr]
	p.mu.RUnlock()
	assert.True(t, cached)
}

func TestIsRetryableErrorRejectsContextCancellation(t *testing.T) {
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(context.DeadlineExceeded))
}

func TestIsRetryableErrorMatchesTransientKeywords(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
	assert.True(t, isRetryableError(errors.New("read: connection reset by peer")))
	assert.False(t, isRetryableError(errors.New("permission denied")))
}

func TestCalculateBackoffGrowsExponentially(t *testing.T) {
	policy := RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, Jitter: 0}
	first := calculateBackoff(policy, 1)
	second := calculateBackoff(policy, 2)
	assert.GreaterOrEqual(t, second, first)
}

func TestIsIdempotentMethod(t *testing.T) {
	assert.True(t, isIdempotentMethod("GET"))
	assert.True(t, isIdempotentMethod("get"))
	assert.False(t, isIdempotentMethod("POST"))
	assert.False(t, isIdempotentMethod("PATCH"))
}
