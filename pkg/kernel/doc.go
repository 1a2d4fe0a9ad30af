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

// Package kernel is the trusted supervisor that resolves a symbolic
// tool_id into an executor chain, verifies it, merges and templates
// its configuration, validates caller params, injects credentials,
// and dispatches the call to a terminal primitive (subprocess or
// http).
//
// A Kernel wires together the Artefact Store, the Metadata Extractor,
// the Lockfile Store, the Auth Store, and the two terminal
// primitives. Execute runs the full state machine for one
// invocation; Search, Load, and Help are read-only entry points over
// the same Artefact Store.
package kernel
