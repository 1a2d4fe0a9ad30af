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

package kernel

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tombee/kiwi/internal/primitive/httpprimitive"
	"github.com/tombee/kiwi/internal/primitive/subprocess"
)

func firstString(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func asStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asInt(v interface{}, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return def
	}
}

func asStringMap(v interface{}) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]string:
		for k, val := range t {
			out[k] = val
		}
	case map[string]interface{}:
		for k, val := range t {
			if s, ok := val.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprintf("%v", val)
			}
		}
	}
	return out
}

func asHeaderMap(v interface{}) map[string][]string {
	out := map[string][]string{}
	m, ok := v.(map[string]interface{})
	if !ok {
		return out
	}
	for k, val := range m {
		switch vv := val.(type) {
		case string:
			out[k] = []string{vv}
		case []interface{}:
			for _, item := range vv {
				if s, ok := item.(string); ok {
					out[k] = append(out[k], s)
				}
			}
		}
	}
	return out
}

func buildSubprocessRequest(cfg map[string]interface{}, env map[string]string) subprocess.Request {
	return subprocess.Request{
		Command:    firstString(cfg, "command"),
		Args:       asStringSlice(cfg["args"]),
		Env:        env,
		Cwd:        firstString(cfg, "cwd"),
		TimeoutMs:  asInt(cfg["timeout_ms"], 0),
		StdinBytes: []byte(firstString(cfg, "stdin")),
		MaxOutput:  int64(asInt(cfg["max_output_bytes"], 0)),
	}
}

func buildHTTPRequest(cfg map[string]interface{}, headers map[string][]string) httpprimitive.Request {
	method := firstString(cfg, "method")
	if method == "" {
		method = http.MethodGet
	}
	return httpprimitive.Request{
		Method:      method,
		URL:         firstString(cfg, "url"),
		Headers:     headers,
		Query:       asStringMap(cfg["query"]),
		Body:        []byte(firstString(cfg, "body")),
		TimeoutMs:   asInt(cfg["timeout_ms"], 0),
		RetryPolicy: buildRetryPolicy(cfg["retry_policy"]),
	}
}

func buildRetryPolicy(v interface{}) httpprimitive.RetryPolicy {
	m, ok := v.(map[string]interface{})
	if !ok {
		return httpprimitive.RetryPolicy{}
	}
	policy := httpprimitive.RetryPolicy{
		MaxAttempts:     asInt(m["max_attempts"], 0),
		RetriableStatus: firstString(m, "retriable_status"),
	}
	if d, ok := m["initial_delay_ms"]; ok {
		policy.InitialDelay = time.Duration(asInt(d, 0)) * time.Millisecond
	}
	if mult, ok := m["multiplier"].(float64); ok {
		policy.Multiplier = mult
	}
	if jit, ok := m["jitter"].(float64); ok {
		policy.Jitter = jit
	}
	if allow, ok := m["allow_non_idempotent_retry"].(bool); ok {
		policy.AllowNonIdempotentRetry = allow
	}
	return policy
}

func subprocessResultToData(res *subprocess.Result) map[string]interface{} {
	return map[string]interface{}{
		"exit_code":        res.ExitCode,
		"stdout":           res.Stdout,
		"stderr":           res.Stderr,
		"stdout_truncated": res.StdoutTruncated,
		"stderr_truncated": res.StderrTruncated,
	}
}

func httpResultToData(res *httpprimitive.Result) map[string]interface{} {
	return map[string]interface{}{
		"status":   res.Status,
		"headers":  res.Headers,
		"body":     string(res.Body),
		"streamed": res.Streamed,
	}
}
