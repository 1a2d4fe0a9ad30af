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
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/kiwi/internal/envresolve"
	"github.com/tombee/kiwi/internal/integrity"
	"github.com/tombee/kiwi/internal/lockfile"
	"github.com/tombee/kiwi/internal/log"
	kerrors "github.com/tombee/kiwi/pkg/errors"
	"github.com/tombee/kiwi/pkg/observability"
)

// The state machine's step names, shared with internal/log's
// per-step logging and used verbatim as span events. Transitions are
// strictly forward; cancellation can fire between any two of them.
const (
	StepResolving        = "Resolving"
	StepVerifying        = "Verifying"
	StepValidating       = "Validating"
	StepMerging          = "Merging"
	StepResolvingEnv     = "Resolving-Env"
	StepTemplating       = "Templating"
	StepValidatingParams = "Validating-Params"
	StepAuthenticating   = "Authenticating"
	StepExecuting        = "Executing"
)

// Execute resolves tool_id's executor chain, verifies its integrity
// and lockfile status, merges and templates its configuration,
// validates params against the terminal's schema, injects credentials
// when the chain requires a scope, and dispatches to the terminal
// primitive. It never panics: every failure path returns a populated
// ExecutionResult with Success=false.
func (k *Kernel) Execute(ctx context.Context, toolID string, params map[string]interface{}, opts Options) *ExecutionResult {
	start := time.Now()
	callID := uuid.New().String()
	opts = opts.withDefaults(k.cfg)

	atomic.AddInt64(&k.activeCalls, 1)
	defer atomic.AddInt64(&k.activeCalls, -1)

	logger := log.WithCallContext(k.logger, callID, toolID)

	var span observability.SpanHandle
	if k.tracer != nil {
		ctx, span = k.tracer.Start(ctx, "kernel.execute", observability.WithAttributes(map[string]any{
			"call_id": callID,
			"tool_id": toolID,
		}))
		defer span.End()
	}
	if k.metrics != nil {
		k.metrics.RecordCallStart(ctx, callID, toolID)
	}

	result := k.run(ctx, logger, span, callID, toolID, params, opts, start)

	if k.metrics != nil {
		status := "succeeded"
		if !result.Success {
			status = "failed"
		}
		k.metrics.RecordCallComplete(ctx, callID, toolID, status, time.Since(start))
	}
	if span != nil {
		if result.Success {
			span.SetStatus(observability.StatusCodeOK, "")
		} else {
			span.SetStatus(observability.StatusCodeError, result.Error)
		}
	}

	return result
}

func (k *Kernel) run(
	ctx context.Context,
	logger *slog.Logger,
	span observability.SpanHandle,
	callID, toolID string,
	params map[string]interface{},
	opts Options,
	start time.Time,
) *ExecutionResult {
	stepStart := time.Now()
	markStep := func(name string) {
		logger.Debug("step complete", log.String(log.StepKey, name))
		if span != nil {
			span.AddEvent(name, nil)
		}
		if k.metrics != nil {
			k.metrics.RecordStepComplete(ctx, toolID, name, "ok", time.Since(stepStart))
		}
		stepStart = time.Now()
	}

	// Step 1: Resolving.
	if res := k.checkCancelled(ctx, toolID, StepResolving, start); res != nil {
		return res
	}
	chain, err := k.resolveChain(toolID)
	if err != nil {
		return k.fail(err, start, nil)
	}
	if len(chain) == 0 {
		return k.fail(&kerrors.MalformedChainError{ToolID: toolID, Reason: "chain resolved empty"}, start, nil)
	}
	root := chain[0]
	terminal := chain[len(chain)-1]
	markStep(StepResolving)

	// Step 2: Verifying.
	if res := k.checkCancelled(ctx, toolID, StepVerifying, start); res != nil {
		return res
	}
	var lf *lockfile.Lockfile
	if opts.UseLockfile != lockfile.ModeOff {
		lf, err = k.lockfiles.Load(root.ToolID, root.Version, root.Category)
		if err != nil {
			return k.fail(err, start, nil)
		}
	}
	if opts.VerifyIntegrity == IntegrityOn {
		for i, m := range chain {
			expected := ""
			if lf != nil && i < len(lf.Entries) {
				expected = lf.Entries[i].ContentHash
			}
			if err := integrity.Verify(m, expected); err != nil {
				return k.fail(err, start, nil)
			}
		}
	}
	markStep(StepVerifying)

	// Step 3: Validating (lockfile mode).
	if res := k.checkCancelled(ctx, toolID, StepValidating, start); res != nil {
		return res
	}
	metadata := map[string]interface{}{}
	if opts.UseLockfile != lockfile.ModeOff {
		if lf == nil {
			if opts.UseLockfile == lockfile.ModeStrict {
				return k.fail(&kerrors.LockfileMissingError{ToolID: root.ToolID, Version: root.Version}, start, metadata)
			}
		} else {
			validation := lockfile.Validate(lf, chain)
			if !validation.Matched {
				metadata["lockfile_mismatch"] = true
				metadata["lockfile_mismatches"] = validation.Mismatches
				if err := lockfile.ApplyMode(opts.UseLockfile, root.ToolID, root.Version, validation); err != nil {
					return k.fail(err, start, metadata)
				}
			}
		}
	}
	markStep(StepValidating)

	// Step 4: locate primitive — the terminal is already known; only
	// its identity remains to be validated.
	if !terminal.IsPrimitive() {
		return k.fail(&kerrors.MalformedChainError{ToolID: terminal.ToolID, Reason: "chain does not terminate at a primitive"}, start, metadata)
	}
	primitive, err := primitiveKindOf(terminal)
	if err != nil {
		return k.fail(err, start, metadata)
	}

	// Step 5: Merging.
	if res := k.checkCancelled(ctx, toolID, StepMerging, start); res != nil {
		return res
	}
	merged := mergeConfigs(chain)
	markStep(StepMerging)

	// Step 6: Resolving-Env.
	if res := k.checkCancelled(ctx, toolID, StepResolvingEnv, start); res != nil {
		return res
	}
	envCfg := firstRuntimeEnvConfig(chain)
	resolvedEnv := envresolve.Resolve(envCfg, envresolve.Options{
		Roots:       k.envRoots,
		CallerEnv:   opts.Env,
		AllowDotEnv: k.cfg.AllowDotEnv,
	})
	markStep(StepResolvingEnv)

	// Step 7: Templating.
	if res := k.checkCancelled(ctx, toolID, StepTemplating, start); res != nil {
		return res
	}
	templated := envresolve.TemplateConfig(merged, resolvedEnv)
	markStep(StepTemplating)

	// Step 8: Validating-Params.
	if res := k.checkCancelled(ctx, toolID, StepValidatingParams, start); res != nil {
		return res
	}
	validatedParams, err := validateParams(terminal.ToolID, terminal.ConfigSchema, params)
	if err != nil {
		return k.fail(err, start, metadata)
	}
	for name, v := range validatedParams {
		templated[name] = v
	}
	markStep(StepValidatingParams)

	// Step 9: Authenticating.
	if res := k.checkCancelled(ctx, toolID, StepAuthenticating, start); res != nil {
		return res
	}
	var headers map[string][]string
	if primitive == primitiveKindHTTP {
		headers = asHeaderMap(templated["headers"])
	}
	scope := firstRequiredScope(chain)
	if scope != "" {
		if primitive != primitiveKindHTTP {
			return k.fail(&kerrors.AuthOnNonHTTPTerminalError{ToolID: toolID, TerminalToolID: terminal.ToolID}, start, metadata)
		}
		token, err := k.authStore.Get(ctx, k.cfg.AuthService, scope)
		if err != nil {
			metadata["auth_required"] = true
			return k.fail(err, start, metadata)
		}
		if headers == nil {
			headers = make(map[string][]string)
		}
		headers["Authorization"] = []string{"Bearer " + token}
	}
	markStep(StepAuthenticating)

	// Step 10: Executing.
	if res := k.checkCancelled(ctx, toolID, StepExecuting, start); res != nil {
		return res
	}
	var data map[string]interface{}
	switch primitive {
	case primitiveKindSubprocess:
		data, err = k.dispatchSubprocess(ctx, toolID, templated, resolvedEnv, metadata, start)
	case primitiveKindHTTP:
		data, err = k.dispatchHTTP(ctx, toolID, templated, headers, metadata, start)
	}
	if err != nil {
		return k.fail(err, start, metadata)
	}
	markStep(StepExecuting)

	// Step 11: Return.
	metadata["call_id"] = callID
	return &ExecutionResult{
		Success:    true,
		Data:       data,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   metadata,
	}
}

func (k *Kernel) dispatchSubprocess(ctx context.Context, toolID string, cfg map[string]interface{}, env map[string]string, metadata map[string]interface{}, start time.Time) (map[string]interface{}, error) {
	req := buildSubprocessRequest(cfg, env)
	dispatchStart := time.Now()
	res, err := k.subprocess.Dispatch(ctx, req)
	duration := time.Since(dispatchStart)

	if k.metrics != nil {
		status := "ok"
		if err != nil || (res != nil && res.ExitCode != 0) {
			status = "error"
		}
		bytesRead := int64(0)
		if res != nil {
			bytesRead = int64(len(res.Stdout))
		}
		k.metrics.RecordPrimitiveDispatch(ctx, "subprocess", status, bytesRead, duration)
	}

	if ctx.Err() == context.Canceled {
		return nil, &kerrors.CancelledError{ToolID: toolID, Step: StepExecuting}
	}
	if res != nil && res.TimedOut {
		return nil, &kerrors.KernelTimeoutError{ToolID: toolID, TimeoutMs: req.TimeoutMs}
	}
	if err != nil {
		return nil, &kerrors.PrimitiveFailureError{ToolID: toolID, Cause: err}
	}
	if res.StdoutTruncated || res.StderrTruncated {
		metadata["truncated"] = true
	}
	return subprocessResultToData(res), nil
}

func (k *Kernel) dispatchHTTP(ctx context.Context, toolID string, cfg map[string]interface{}, headers map[string][]string, metadata map[string]interface{}, start time.Time) (map[string]interface{}, error) {
	req := buildHTTPRequest(cfg, headers)
	dispatchStart := time.Now()
	res, err := k.http.Dispatch(ctx, req)
	duration := time.Since(dispatchStart)

	if res != nil {
		metadata["attempts"] = res.Attempts
	}
	if k.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		bytesRead := int64(0)
		if res != nil {
			bytesRead = int64(len(res.Body))
		}
		k.metrics.RecordPrimitiveDispatch(ctx, "http", status, bytesRead, duration)
	}

	if ctx.Err() == context.Canceled {
		return nil, &kerrors.CancelledError{ToolID: toolID, Step: StepExecuting}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &kerrors.KernelTimeoutError{ToolID: toolID, TimeoutMs: req.TimeoutMs}
		}
		return nil, &kerrors.PrimitiveFailureError{ToolID: toolID, Cause: err}
	}
	return httpResultToData(res), nil
}

// checkCancelled returns a populated ExecutionResult if ctx is already
// done, or nil if the call should proceed into the named step.
func (k *Kernel) checkCancelled(ctx context.Context, toolID, step string, start time.Time) *ExecutionResult {
	select {
	case <-ctx.Done():
		return k.fail(&kerrors.CancelledError{ToolID: toolID, Step: step}, start, map[string]interface{}{"cancelled": true})
	default:
		return nil
	}
}

func (k *Kernel) fail(err error, start time.Time, metadata map[string]interface{}) *ExecutionResult {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if ke, ok := err.(kerrors.KernelError); ok {
		metadata["error_kind"] = ke.ErrorKind()
	}
	return &ExecutionResult{
		Success:    false,
		Error:      err.Error(),
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   metadata,
	}
}
