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

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrimitive(t *testing.T) {
	cases := []struct {
		name string
		m    *ToolManifest
		want bool
	}{
		{"primitive", &ToolManifest{ToolType: ToolTypePrimitive, ExecutorID: ""}, true},
		{"runtime-with-executor", &ToolManifest{ToolType: ToolTypeRuntime, ExecutorID: "subprocess"}, false},
		{"user-no-executor-not-primitive-type", &ToolManifest{ToolType: ToolTypeUser, ExecutorID: ""}, false},
		{"primitive-with-executor-still-invalid", &ToolManifest{ToolType: ToolTypePrimitive, ExecutorID: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.m.IsPrimitive())
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original := &ToolManifest{
		ToolID:   "python_runtime",
		Version:  "1.0.0",
		ToolType: ToolTypeRuntime,
		Config:   map[string]interface{}{"command": "${KIWI_PYTHON}"},
		EnvConfig: &EnvConfig{
			Interpreter: []Resolver{{Kind: ResolverVenvPython, Var: "KIWI_PYTHON"}},
			Env:         map[string]string{"OUT_DIR": "${OUT_ROOT:-/tmp}/build"},
		},
	}

	clone := original.Clone()
	clone.Config["command"] = "mutated"
	clone.EnvConfig.Env["OUT_DIR"] = "mutated"
	clone.EnvConfig.Interpreter[0].Var = "MUTATED"

	require.Equal(t, "${KIWI_PYTHON}", original.Config["command"])
	require.Equal(t, "${OUT_ROOT:-/tmp}/build", original.EnvConfig.Env["OUT_DIR"])
	require.Equal(t, "KIWI_PYTHON", original.EnvConfig.Interpreter[0].Var)
}

func TestCloneNilFieldsSafe(t *testing.T) {
	original := &ToolManifest{ToolID: "subprocess", ToolType: ToolTypePrimitive}
	clone := original.Clone()
	assert.Nil(t, clone.Config)
	assert.Nil(t, clone.EnvConfig)
}
