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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/kiwi/pkg/manifest"
)

func TestValidateParamsNilSchemaPassesThrough(t *testing.T) {
	params := map[string]interface{}{"anything": 1}
	out, err := validateParams("t", nil, params)
	require.NoError(t, err)
	assert.Equal(t, params, out)
}

func TestValidateParamsMissingRequiredField(t *testing.T) {
	schema := &manifest.ConfigSchema{Required: []string{"name"}}
	_, err := validateParams("t", schema, map[string]interface{}{})
	require.Error(t, err)
}

func TestValidateParamsTypeMismatch(t *testing.T) {
	schema := &manifest.ConfigSchema{
		Properties: map[string]*manifest.Property{"count": {Type: "integer"}},
	}
	_, err := validateParams("t", schema, map[string]interface{}{"count": "not-a-number"})
	require.Error(t, err)
}

func TestValidateParamsEnumRejectsOutOfSet(t *testing.T) {
	schema := &manifest.ConfigSchema{
		Properties: map[string]*manifest.Property{"level": {Type: "string", Enum: []string{"low", "high"}}},
	}
	_, err := validateParams("t", schema, map[string]interface{}{"level": "medium"})
	require.Error(t, err)
}

func TestValidateParamsFillsDefault(t *testing.T) {
	schema := &manifest.ConfigSchema{
		Properties: map[string]*manifest.Property{"level": {Type: "string", Default: "low"}},
	}
	out, err := validateParams("t", schema, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "low", out["level"])
}

func TestValidateParamsCallerValueWinsOverDefault(t *testing.T) {
	schema := &manifest.ConfigSchema{
		Properties: map[string]*manifest.Property{"level": {Type: "string", Default: "low"}},
	}
	out, err := validateParams("t", schema, map[string]interface{}{"level": "high"})
	require.NoError(t, err)
	assert.Equal(t, "high", out["level"])
}

func TestValidateParamsPassesThroughUndeclaredFields(t *testing.T) {
	schema := &manifest.ConfigSchema{
		Properties: map[string]*manifest.Property{"name": {Type: "string"}},
	}
	out, err := validateParams("t", schema, map[string]interface{}{"name": "x", "extra": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, out["extra"])
}
