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

import "github.com/tombee/kiwi/internal/lockfile"

// IntegrityMode toggles content-hash verification on a chain's
// manifests during Execute.
type IntegrityMode string

const (
	// IntegrityOff skips hash verification entirely.
	IntegrityOff IntegrityMode = "off"

	// IntegrityOn verifies each chain element's content hash against
	// the loaded lockfile entry for that position (or against nothing,
	// permissively, when no lockfile was loaded for this call).
	IntegrityOn IntegrityMode = "on"
)

// Options configures one Execute call. Cancellation is carried on the
// context passed to Execute, not here.
type Options struct {
	// UseLockfile selects reproducibility enforcement. The zero value
	// defers to the Kernel's configured default.
	UseLockfile lockfile.Mode

	// VerifyIntegrity toggles content-hash verification. The zero
	// value defers to the Kernel's configured default.
	VerifyIntegrity IntegrityMode

	// Env is the caller-supplied environment overlay, merged over
	// every other source during environment resolution.
	Env map[string]string
}

func (o Options) withDefaults(cfg Config) Options {
	if o.UseLockfile == "" {
		o.UseLockfile = cfg.DefaultUseLockfile
	}
	if o.VerifyIntegrity == "" {
		o.VerifyIntegrity = cfg.DefaultVerifyIntegrity
	}
	return o
}
