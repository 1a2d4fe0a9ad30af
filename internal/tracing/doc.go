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

/*
Package tracing provides distributed tracing and observability for the kiwi
tool execution kernel.

This package implements OpenTelemetry-based tracing for execute() calls, the
state machine steps within them, and terminal primitive dispatch. It
also provides Prometheus metrics collection and correlation ID propagation
for distributed debugging.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry
  - Prometheus metrics export
  - Correlation ID propagation across services
  - Primitive dispatch tracing (subprocess and HTTP)
  - execute() call and state machine step span creation

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "kiwi",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Rate: 0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(cfg)

Get a tracer and create spans:

	tracer := provider.Tracer("kiwi.kernel")

	ctx, span := tracer.Start(ctx, "execute-step",
	    trace.WithAttributes(
	        attribute.String("step", step),
	    ),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link requests across service boundaries:

	// In HTTP middleware
	correlationID := tracing.FromContext(ctx)

	// Add to outbound requests
	req.Header.Set("X-Correlation-ID", string(correlationID))

	// Middleware extracts and injects
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

Prometheus metrics are collected:

	// Get metrics collector
	collector := provider.MetricsCollector()

	// Record events
	collector.RecordCallStart(ctx, callID, toolID)
	collector.RecordCallComplete(ctx, callID, toolID, "Succeeded", duration)

Metrics exposed at /metrics:

  - kiwi_calls_total{tool_id,status}
  - kiwi_call_duration_seconds{tool_id,status}
  - kiwi_steps_total{tool_id,step,status}
  - kiwi_primitive_dispatches_total{primitive,status}
  - kiwi_bytes_transferred_total{primitive}

# Configuration

Full configuration options:

	kernel:
	  observability:
	    enabled: true
	    service_name: kiwi
	    sampling:
	      type: ratio
	      rate: 0.1
	      always_sample_errors: true
	    redaction:
	      level: standard
	      patterns:
	        - name: api_key
	          regex: "sk-[a-zA-Z0-9]+"
	          replacement: "[REDACTED]"

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper
  - MetricsCollector: Prometheus metrics recording
  - CorrelationID: Request correlation across services
  - Sampler: Configurable trace sampling

# Subpackages

  - redact: Credential and secret redaction for span attributes and logs
*/
package tracing
