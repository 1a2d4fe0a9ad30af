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

	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/manifest"
)

// validateParams checks the caller's params against the terminal
// manifest's config_schema: every required field must be present,
// every declared property's value must match its type and (if set)
// its enum, and every property the caller omitted gets its schema
// default. Params outside the schema pass through untouched — a
// schema describes what the terminal understands, not an allowlist.
func validateParams(toolID string, schema *manifest.ConfigSchema, params map[string]interface{}) (map[string]interface{}, error) {
	validated := make(map[string]interface{}, len(params))
	for k, v := range params {
		validated[k] = v
	}

	if schema == nil {
		return validated, nil
	}

	for _, field := range schema.Required {
		if _, ok := params[field]; !ok {
			return nil, &kerrors.InvalidParamsError{ToolID: toolID, Field: field, Reason: "required field missing"}
		}
	}

	for name, v := range params {
		prop, ok := schema.Properties[name]
		if !ok || prop == nil {
			continue
		}
		if err := checkPropertyType(prop.Type, v); err != nil {
			return nil, &kerrors.InvalidParamsError{ToolID: toolID, Field: name, Reason: err.Error()}
		}
		if len(prop.Enum) > 0 {
			s, ok := v.(string)
			if !ok || !containsString(prop.Enum, s) {
				return nil, &kerrors.InvalidParamsError{
					ToolID: toolID,
					Field:  name,
					Reason: fmt.Sprintf("must be one of %v", prop.Enum),
				}
			}
		}
	}

	for name, prop := range schema.Properties {
		if prop == nil || prop.Default == nil {
			continue
		}
		if _, present := validated[name]; !present {
			validated[name] = prop.Default
		}
	}

	return validated, nil
}

func checkPropertyType(t string, v interface{}) error {
	switch t {
	case "", "any":
		return nil
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string")
		}
	case "integer", "number":
		switch v.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected %s", t)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean")
		}
	case "array":
		switch v.(type) {
		case []interface{}, []string:
		default:
			return fmt.Errorf("expected array")
		}
	case "object":
		if _, ok := v.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object")
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
