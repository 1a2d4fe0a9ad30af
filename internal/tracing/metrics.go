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

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheSizer reports the size of an in-memory cache, used for the
// extractor's manifest cache and the store's scan state.
type CacheSizer interface {
	CacheSize() int
}

// ActiveCallCounter reports how many execute() calls are in flight.
type ActiveCallCounter interface {
	ActiveCallCount() int
}

// MetricsCollector collects Prometheus-compatible metrics for execute()
// call processing: the full execution state machine, primitive dispatch,
// and the in-memory caches the Artefact Store and extractor maintain.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	callsTotal               metric.Int64Counter
	stepsTotal               metric.Int64Counter
	primitiveDispatchesTotal metric.Int64Counter
	bytesTransferredTotal    metric.Int64Counter

	// Histograms
	callDuration     metric.Float64Histogram
	stepDuration     metric.Float64Histogram
	primitiveLatency metric.Float64Histogram

	// Gauges (using observable gauges)
	activeCalls   map[string]bool // Track in-flight call IDs
	activeCallsMu sync.RWMutex
	queueDepth    int64 // Calls waiting on a per-host rate limiter
	queueDepthMu  sync.RWMutex

	// Cache metrics sources
	extractorCache    CacheSizer
	storeCache        CacheSizer
	activeCallCounter ActiveCallCounter
	cacheMu           sync.RWMutex
	callCounterMu     sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("kiwi.kernel")

	mc := &MetricsCollector{
		meter:       meter,
		activeCalls: make(map[string]bool),
	}

	var err error

	// Initialize counters
	mc.callsTotal, err = meter.Int64Counter(
		"kiwi_calls_total",
		metric.WithDescription("Total number of execute() calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepsTotal, err = meter.Int64Counter(
		"kiwi_steps_total",
		metric.WithDescription("Total number of state machine steps executed"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	mc.primitiveDispatchesTotal, err = meter.Int64Counter(
		"kiwi_primitive_dispatches_total",
		metric.WithDescription("Total number of terminal primitive dispatches"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	mc.bytesTransferredTotal, err = meter.Int64Counter(
		"kiwi_bytes_transferred_total",
		metric.WithDescription("Total bytes read from primitive responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	// Initialize histograms
	mc.callDuration, err = meter.Float64Histogram(
		"kiwi_call_duration_seconds",
		metric.WithDescription("execute() call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepDuration, err = meter.Float64Histogram(
		"kiwi_step_duration_seconds",
		metric.WithDescription("State machine step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.primitiveLatency, err = meter.Float64Histogram(
		"kiwi_primitive_latency_seconds",
		metric.WithDescription("Terminal primitive dispatch latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	// Initialize observable gauges
	_, err = meter.Int64ObservableGauge(
		"kiwi_active_calls",
		metric.WithDescription("Number of currently in-flight execute() calls"),
		metric.WithUnit("{call}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.activeCallsMu.RLock()
			count := len(mc.activeCalls)
			mc.activeCallsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"kiwi_queue_depth",
		metric.WithDescription("Number of calls waiting on a per-host rate limiter"),
		metric.WithUnit("{call}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.queueDepthMu.RLock()
			depth := mc.queueDepth
			mc.queueDepthMu.RUnlock()
			observer.Observe(depth)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	// Cache metrics
	_, err = meter.Int64ObservableGauge(
		"kiwi_extractor_cache_size",
		metric.WithDescription("Number of manifests held in the extractor cache"),
		metric.WithUnit("{manifest}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.cacheMu.RLock()
			cache := mc.extractorCache
			mc.cacheMu.RUnlock()
			if cache != nil {
				observer.Observe(int64(cache.CacheSize()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"kiwi_store_cache_size",
		metric.WithDescription("Number of tool IDs indexed by the store's last scan"),
		metric.WithUnit("{tool}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.cacheMu.RLock()
			cache := mc.storeCache
			mc.cacheMu.RUnlock()
			if cache != nil {
				observer.Observe(int64(cache.CacheSize()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"kiwi_goroutines",
		metric.WithDescription("Number of active goroutines"),
		metric.WithUnit("{goroutine}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(runtime.NumGoroutine()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"kiwi_calls_in_memory",
		metric.WithDescription("Number of in-flight calls tracked by the active call counter"),
		metric.WithUnit("{call}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.callCounterMu.RLock()
			counter := mc.activeCallCounter
			mc.callCounterMu.RUnlock()
			if counter != nil {
				observer.Observe(int64(counter.ActiveCallCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"kiwi_heap_bytes",
		metric.WithDescription("Current heap allocation in bytes"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			observer.Observe(int64(m.HeapAlloc))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordCallStart records the start of an execute() call.
func (mc *MetricsCollector) RecordCallStart(ctx context.Context, callID, toolID string) {
	mc.activeCallsMu.Lock()
	mc.activeCalls[callID] = true
	mc.activeCallsMu.Unlock()
}

// RecordCallComplete records the completion of an execute() call.
func (mc *MetricsCollector) RecordCallComplete(ctx context.Context, callID, toolID, status string, duration time.Duration) {
	mc.activeCallsMu.Lock()
	delete(mc.activeCalls, callID)
	mc.activeCallsMu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String("tool_id", toolID),
		attribute.String("status", status),
	}

	mc.callsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStepComplete records the completion of one execution state machine step.
func (mc *MetricsCollector) RecordStepComplete(ctx context.Context, toolID, step, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("tool_id", toolID),
		attribute.String("step", step),
		attribute.String("status", status),
	}

	mc.stepsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPrimitiveDispatch records a terminal primitive (subprocess or
// http) dispatch completion.
func (mc *MetricsCollector) RecordPrimitiveDispatch(ctx context.Context, primitiveType, status string, bytesRead int64, latency time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("primitive", primitiveType),
		attribute.String("status", status),
	}

	mc.primitiveDispatchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.primitiveLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))

	if bytesRead > 0 {
		mc.bytesTransferredTotal.Add(ctx, bytesRead, metric.WithAttributes(attribute.String("primitive", primitiveType)))
	}
}

// IncrementQueueDepth increments the count of calls waiting on a rate limiter.
func (mc *MetricsCollector) IncrementQueueDepth() {
	mc.queueDepthMu.Lock()
	mc.queueDepth++
	mc.queueDepthMu.Unlock()
}

// DecrementQueueDepth decrements the count of calls waiting on a rate limiter.
func (mc *MetricsCollector) DecrementQueueDepth() {
	mc.queueDepthMu.Lock()
	if mc.queueDepth > 0 {
		mc.queueDepth--
	}
	mc.queueDepthMu.Unlock()
}

// SetExtractorCache sets the cache sizer for extractor manifest cache metrics.
func (mc *MetricsCollector) SetExtractorCache(cache CacheSizer) {
	mc.cacheMu.Lock()
	mc.extractorCache = cache
	mc.cacheMu.Unlock()
}

// SetStoreCache sets the cache sizer for store scan-result metrics.
func (mc *MetricsCollector) SetStoreCache(cache CacheSizer) {
	mc.cacheMu.Lock()
	mc.storeCache = cache
	mc.cacheMu.Unlock()
}

// SetActiveCallCounter sets the counter backing the in-memory active call gauge.
func (mc *MetricsCollector) SetActiveCallCounter(counter ActiveCallCounter) {
	mc.callCounterMu.Lock()
	mc.activeCallCounter = counter
	mc.callCounterMu.Unlock()
}
