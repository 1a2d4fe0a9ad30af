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

// Package httpprimitive implements the HTTP terminal primitive:
// issuing a fully-templated HTTP request with retry/backoff and
// optional response streaming to a sink.
package httpprimitive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultTimeout is used when a manifest's merged config carries no
// timeout_ms.
const defaultTimeout = 30 * time.Second

// Request is the fully-resolved input to one HTTP dispatch — method,
// url, headers (including any injected Authorization), and body have
// already been templated and validated by the Executor.
type Request struct {
	Method      string
	URL         string
	Headers     map[string][]string
	Query       map[string]string
	Body        []byte
	TimeoutMs   int
	RetryPolicy RetryPolicy

	// BodySink, when non-nil, receives the response body as it
	// arrives instead of having it buffered into Result.Body.
	BodySink io.Writer
}

// Result is what the Executor packs into ExecutionResult.Data for an
// HTTP dispatch.
type Result struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Streamed bool
	Attempts int
}

// Primitive dispatches HTTP Requests.
type Primitive struct {
	client    *http.Client
	predicate *statusPredicate

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       float64
	burst     int
}

// Option configures a Primitive at construction.
type Option func(*Primitive)

// WithHTTPClient overrides the underlying *http.Client, e.g. to share
// connection pooling/TLS settings with the rest of the kernel.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Primitive) { p.client = c }
}

// WithPerHostRateLimit bounds outbound request rate to any single
// host to rps requests/sec with the given burst, so a manifest
// pointed at one downstream (e.g. a registry) cannot be used to
// hammer it. Rate limiting is optional: zero rps disables it.
func WithPerHostRateLimit(rps float64, burst int) Option {
	return func(p *Primitive) {
		p.rps = rps
		p.burst = burst
	}
}

// New creates an HTTP Primitive. The default client has no
// transport-level retry: retries are driven per-Request from
// RetryPolicy, since policy varies per manifest rather than per
// process.
func New(opts ...Option) *Primitive {
	p := &Primitive{
		client:    &http.Client{},
		predicate: newStatusPredicate(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Primitive) limiterFor(host string) *rate.Limiter {
	if p.rps <= 0 {
		return nil
	}
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.limiters[host] = l
	}
	return l
}

// Dispatch issues req, retrying per req.RetryPolicy on a retriable
// network error or status until attempts are exhausted or ctx is
// cancelled. The response body is streamed to req.BodySink when
// provided (backpressured by the sink, never buffered unboundedly);
// otherwise it is read fully into Result.Body.
func (p *Primitive) Dispatch(ctx context.Context, req Request) (*Result, error) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if req.TimeoutMs <= 0 {
		timeout = defaultTimeout
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	policy := req.RetryPolicy.withDefaults()
	if !policy.AllowNonIdempotentRetry && !isIdempotentMethod(req.Method) {
		policy.MaxAttempts = 1
	}

	fullURL, err := buildURL(req.URL, req.Query)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	var lastResp *Result
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if dispatchCtx.Err() != nil {
			if lastErr != nil {
				return lastResp, lastErr
			}
			return lastResp, dispatchCtx.Err()
		}

		result, retryAfter, err := p.attempt(dispatchCtx, req, fullURL)
		attempts++
		lastResp, lastErr = result, err
		if lastResp != nil {
			lastResp.Attempts = attempts
		}

		if attempt == policy.MaxAttempts {
			break
		}

		if err != nil {
			if !isRetryableError(err) {
				break
			}
		} else {
			retriable, predErr := p.predicate.retriable(policy.RetriableStatus, result.Status)
			if predErr != nil {
				return result, predErr
			}
			if !retriable {
				break
			}
		}

		delay := retryAfter
		if delay == 0 {
			delay = calculateBackoff(policy, attempt)
		}

		select {
		case <-time.After(delay):
		case <-dispatchCtx.Done():
			if lastErr != nil {
				return lastResp, lastErr
			}
			return lastResp, dispatchCtx.Err()
		}
	}

	return lastResp, lastErr
}

// attempt performs exactly one HTTP round trip, honoring per-host
// rate limiting and method-based idempotency is the caller's (retry
// loop's) concern, not this function's.
func (p *Primitive) attempt(ctx context.Context, req Request, fullURL string) (*Result, time.Duration, error) {
	parsed, err := url.Parse(fullURL)
	if err == nil {
		if limiter := p.limiterFor(parsed.Host); limiter != nil {
			if waitErr := limiter.Wait(ctx); waitErr != nil {
				return nil, 0, waitErr
			}
		}
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	result := &Result{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
	}

	if req.BodySink != nil {
		if _, copyErr := io.Copy(req.BodySink, resp.Body); copyErr != nil {
			return result, 0, fmt.Errorf("stream response body: %w", copyErr)
		}
		result.Streamed = true
	} else {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return result, 0, fmt.Errorf("read response body: %w", readErr)
		}
		result.Body = body
	}

	return result, parseRetryAfter(resp), nil
}

func buildURL(base string, query map[string]string) (string, error) {
	if len(query) == 0 {
		return base, nil
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
