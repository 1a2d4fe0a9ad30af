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
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// defaultRetriableExpr is the conservative default: network errors,
// 5xx, and 429 are retriable; no other 4xx ever is.
const defaultRetriableExpr = "status >= 500 || status == 429"

// RetryPolicy is the fully-resolved retry_policy field of an HTTP
// primitive Request.
type RetryPolicy struct {
	MaxAttempts     int // total attempts including the first; 1 = no retries
	InitialDelay    time.Duration
	Multiplier      float64
	Jitter          float64 // fraction of the computed delay added as jitter, 0..1
	RetriableStatus string  // expr-lang boolean expression over `status`; empty uses the default

	// AllowNonIdempotentRetry enables retrying methods other than
	// GET/HEAD/OPTIONS/PUT/DELETE. Default false: a manifest must opt
	// in explicitly, since retrying e.g. a bare POST can duplicate
	// side effects.
	AllowNonIdempotentRetry bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.RetriableStatus == "" {
		p.RetriableStatus = defaultRetriableExpr
	}
	return p
}

// statusPredicate compiles and caches retriable-status expressions so
// that a manifest's retry_policy overriding the default string does
// not pay compilation cost on every dispatch.
type statusPredicate struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newStatusPredicate() *statusPredicate {
	return &statusPredicate{cache: make(map[string]*vm.Program)}
}

func (p *statusPredicate) compile(src string) (*vm.Program, error) {
	p.mu.RLock()
	if prog, ok := p.cache[src]; ok {
		p.mu.RUnlock()
		return prog, nil
	}
	p.mu.RUnlock()

	prog, err := expr.Compile(src, expr.Env(map[string]interface{}{"status": 0}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile retriable_status expression %q: %w", src, err)
	}

	p.mu.Lock()
	p.cache[src] = prog
	p.mu.Unlock()
	return prog, nil
}

func (p *statusPredicate) retriable(src string, status int) (bool, error) {
	prog, err := p.compile(src)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(prog, map[string]interface{}{"status": status})
	if err != nil {
		return false, fmt.Errorf("evaluate retriable_status expression %q: %w", src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("retriable_status expression %q did not evaluate to a boolean", src)
	}
	return b, nil
}

// isIdempotentMethod reports whether method is safe to auto-retry
// without an explicit opt-in; mirrors the conservative default used
// elsewhere in the stack's HTTP client.
func isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// isRetryableError reports whether err (a RoundTrip failure, not an
// HTTP status) represents a transient condition worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRetryableError(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"temporary failure in name resolution",
		"eof",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

// calculateBackoff computes the delay before the given attempt
// (1-indexed: attempt 1 is the delay before the first retry).
func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	backoff := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))

	jitterFraction := policy.Jitter
	if jitterFraction <= 0 {
		jitterFraction = 0.2
	}
	jitter := rand.Float64() * jitterFraction * backoff

	return time.Duration(backoff + jitter)
}

// parseRetryAfter extracts a Retry-After delay, honoring both the
// seconds and HTTP-date forms. Returns 0 if absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}
