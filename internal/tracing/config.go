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

package tracing

// Config holds observability configuration.
type Config struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Sampling configures trace sampling.
	Sampling SamplingConfig

	// Redaction configures sensitive data handling.
	Redaction RedactionConfig
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Enabled activates sampling (default: false - sample all).
	Enabled bool

	// Type is the sampling strategy: "head" or "tail".
	Type string

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	// Rate of 1.0 means sample all traces.
	Rate float64

	// AlwaysSampleErrors samples all traces with errors.
	AlwaysSampleErrors bool
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	// Level is the redaction mode: "none", "standard", or "strict".
	Level string

	// Patterns are custom redaction patterns.
	Patterns []RedactionPattern
}

// RedactionPattern defines a sensitive data pattern.
type RedactionPattern struct {
	// Name identifies this pattern.
	Name string

	// Regex is the pattern to match.
	Regex string

	// Replacement is the string to substitute.
	Replacement string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false, // Opt-in
		ServiceName:    "kiwi",
		ServiceVersion: "unknown",
		Sampling: SamplingConfig{
			Enabled:            false,
			Type:               "head",
			Rate:               1.0, // Sample all by default
			AlwaysSampleErrors: true,
		},
		Redaction: RedactionConfig{
			Level:    "strict", // Strict by default for safety
			Patterns: nil,      // No custom patterns
		},
	}
}
