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

// ExecutionResult is Execute's sole return shape: success carries the
// terminal primitive's output in Data; failure carries a
// human-readable Error and whatever Metadata a caller needs to decide
// what to do next (auth_required, lockfile_mismatch, truncated,
// attempts, ...).
type ExecutionResult struct {
	Success    bool
	Data       map[string]interface{}
	Error      string
	DurationMs int64
	Metadata   map[string]interface{}
}
