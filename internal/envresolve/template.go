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

package envresolve

import "strings"

// Template substitutes ${VAR} and ${VAR:-default} occurrences in s
// against env. A reference to an unbound variable with no default
// expands to the empty string; ${VAR:-} with VAR unset also yields
// the empty string. This is a total function: every well-formed
// ${...} token is replaced, never left dangling (Template Totality,
// the property the Executor relies on after the merged config has
// been templated).
func Template(s string, env map[string]string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "${")
		if start == -1 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		end := matchingBrace(s, start+2)
		if end == -1 {
			// Unterminated ${ — emit verbatim rather than consume the
			// rest of the string.
			b.WriteString(s[start:])
			break
		}

		token := s[start+2 : end]
		b.WriteString(expandToken(token, env))
		i = end + 1
	}

	return b.String()
}

// matchingBrace returns the index of the '}' matching the '{' that
// precedes position from (from is the index just after "${"), or -1
// if none is found. Templates never nest, so a simple forward scan
// suffices.
func matchingBrace(s string, from int) int {
	idx := strings.IndexByte(s[from:], '}')
	if idx == -1 {
		return -1
	}
	return from + idx
}

// expandToken resolves the interior of a single ${...} token: either
// "VAR" or "VAR:-default".
func expandToken(token string, env map[string]string) string {
	name, def, hasDefault := strings.Cut(token, ":-")
	if v, ok := env[name]; ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	if v, ok := env[name]; ok {
		// Bound but empty, no default: the bound (empty) value wins
		// over treating it as unset, matching shell ${VAR:-default}
		// semantics only when VAR is literally unset.
		return v
	}
	return ""
}

// ContainsUnresolved reports whether s still contains a ${...} token.
// Used by tests asserting Template Totality and by callers that want
// to detect templating left something unresolved (Template never
// leaves a token behind itself, but a caller may want to assert this
// of its own input before calling Template).
func ContainsUnresolved(s string) bool {
	start := strings.Index(s, "${")
	if start == -1 {
		return false
	}
	return matchingBrace(s, start+2) != -1
}
