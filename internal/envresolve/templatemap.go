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

// TemplateValue recursively applies Template to every string found in
// v, which may be a string, a []interface{}, a map[string]interface{},
// or any other value (returned unchanged). This is how the Executor
// templates a merged config map after resolving its environment:
// strings are substituted in place, structure is preserved.
func TemplateValue(v interface{}, env map[string]string) interface{} {
	switch t := v.(type) {
	case string:
		return Template(t, env)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = TemplateValue(item, env)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = Template(item, env)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = TemplateValue(item, env)
		}
		return out
	default:
		return v
	}
}

// TemplateConfig templates every string-valued entry (recursively) of
// a config map, returning a new map; cfg itself is left untouched.
func TemplateConfig(cfg map[string]interface{}, env map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = TemplateValue(v, env)
	}
	return out
}
