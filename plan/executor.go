package plan

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/goplan/orchestrator/orcherr"
	"github.com/goplan/orchestrator/plan/retry"
	"github.com/goplan/orchestrator/telemetry"
)

type (
	// StepInvoker executes a single resolved step against its tool. The
	// returned cost is added to the plan's running total regardless of
	// outcome. Implementations typically delegate to the invoke package's
	// polymorphic dispatch over registry/adapter/sandbox/dispatch.
	StepInvoker interface {
		Invoke(ctx context.Context, tool string, args map[string]any) (result json.RawMessage, cost float64, err error)
	}

	// Executor runs Plans to completion against a StepInvoker.
	Executor struct {
		invoker        StepInvoker
		logger         telemetry.Logger
		metrics        telemetry.Metrics
		maxConcurrency int
		maxWallTime    time.Duration
	}

	// Option configures an Executor.
	Option func(*Executor)
)

// WithLogger sets the executor's logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithMetrics sets the executor's metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithMaxConcurrency bounds the number of steps dispatched concurrently
// within a single DAG level. Zero (the default) leaves a level unbounded.
func WithMaxConcurrency(n int) Option { return func(e *Executor) { e.maxConcurrency = n } }

// WithMaxWallTime sets the plan-level wall-clock budget. Once cumulative
// elapsed time exceeds it, a step timeout becomes terminal instead of
// transient-and-retryable.
func WithMaxWallTime(d time.Duration) Option { return func(e *Executor) { e.maxWallTime = d } }

// New constructs an Executor backed by invoker.
func New(invoker StepInvoker, opts ...Option) *Executor {
	e := &Executor{
		invoker: invoker,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute runs plan to completion, honoring dependencies, retries, timeouts,
// and reference substitution, and renders the synthesis template (if any)
// once every step has reached a terminal state. It returns an error only
// when the plan itself is malformed (duplicate/unknown step ids, a cycle);
// any other failure is reported inside the returned Result.
func (e *Executor) Execute(ctx context.Context, p Plan, variables map[string]any) (Result, error) {
	if p.RequestID == "" {
		p.RequestID = NewRequestID()
	}

	deps, levels, err := buildGraph(p.Steps)
	if err != nil {
		return Result{}, err
	}

	stepByID := make(map[string]*Step, len(p.Steps))
	for i := range p.Steps {
		stepByID[p.Steps[i].ID] = &p.Steps[i]
	}

	execCtx := newExecutionContext(variables)
	planStart := time.Now()

	for _, group := range levels.levelsOf(p.Steps) {
		// Every dependency a step in this level can reference belongs to an
		// earlier, already-completed level (levels are assigned by
		// longest-path-from-root), so a plain copy taken before the level
		// starts is a safe, immutable read snapshot for every goroutine
		// below: no writer touches it, and no reader touches the live map.
		snapshot := ExecutionContext{Variables: execCtx.Variables, Results: copyResults(execCtx.Results)}

		var wg sync.WaitGroup
		var mu sync.Mutex
		sem := make(chan struct{}, e.concurrencyFor(len(group)))

		for _, id := range group {
			id := id
			step := stepByID[id]

			if skipReason, skip := skippedDependency(deps[id], snapshot); skip {
				mu.Lock()
				execCtx.Results[id] = StepResult{StepID: id, State: StateSkipped, SkippedDueTo: skipReason}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				result := e.runStep(ctx, *step, snapshot, planStart)

				mu.Lock()
				execCtx.Results[id] = result
				execCtx.Cost += result.Cost
				mu.Unlock()
			}()
		}
		wg.Wait()
		execCtx.Elapsed = time.Since(planStart)
	}

	status := planStatus(execCtx)
	res := Result{RequestID: p.RequestID, Status: status, Context: execCtx}

	if p.FinalSynthesis != nil {
		synth, synthErr := renderSynthesis(p.FinalSynthesis.PromptTemplate, execCtx)
		if synthErr != nil {
			e.logger.Error(ctx, "synthesis template render failed", "request_id", p.RequestID, "error", synthErr)
		} else {
			res.Synthesis = synth
		}
	}
	return res, nil
}

// copyResults returns a shallow copy of a step-result map, used to hand
// each DAG level an immutable read snapshot of every earlier level's
// results without sharing the live, concurrently-written map.
func copyResults(results map[string]StepResult) map[string]StepResult {
	out := make(map[string]StepResult, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

// concurrencyFor returns the in-flight cap for a level of size n: unbounded
// (n) unless the executor was configured with a tighter MaxConcurrency.
func (e *Executor) concurrencyFor(n int) int {
	if e.maxConcurrency > 0 && e.maxConcurrency < n {
		return e.maxConcurrency
	}
	if n <= 0 {
		return 1
	}
	return n
}

// skippedDependency reports whether any of deps failed, timed out, or was
// itself skipped, in which case the dependent step must be skipped rather
// than dispatched.
func skippedDependency(deps []string, ctx ExecutionContext) (string, bool) {
	for _, dep := range deps {
		r, ok := ctx.Results[dep]
		if !ok {
			continue
		}
		switch r.State {
		case StateFailed, StateTimedOut, StateSkipped:
			return dep, true
		}
	}
	return "", false
}

// runStep resolves step's input against snapshot and invokes the tool,
// retrying transient failures per step.Retry with a fixed/exponential
// time.Timer-based backoff honoring ctx cancellation. Cost is checked
// against nothing at the step level (plan.md carries no per-step cost cap);
// a per-attempt timeout derives from step.TimeoutMS (default 30s), and a
// timeout becomes terminal instead of retryable once the plan's cumulative
// wall time exceeds e.maxWallTime.
func (e *Executor) runStep(ctx context.Context, step Step, snapshot ExecutionContext, planStart time.Time) StepResult {
	resolved, err := resolveInput(step.Input, snapshot)
	if err != nil {
		return StepResult{StepID: step.ID, State: StateFailed, Err: err, ErrKind: string(orcherr.ValidationError), ErrMessage: err.Error()}
	}

	timeout := DefaultStepTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}

	maxAttempts := 1
	var backoffBase time.Duration
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoffBase = time.Duration(step.Retry.BackoffMS) * time.Millisecond
	}

	var (
		totalCost    float64
		lastErr      error
		timedOut     bool
		attemptsUsed int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptsUsed = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		value, cost, invokeErr := e.invoker.Invoke(attemptCtx, step.Tool, resolved)
		cancel()
		totalCost += cost

		if invokeErr == nil {
			payload := value
			if payload == nil {
				payload = json.RawMessage("null")
			}
			return StepResult{StepID: step.ID, State: StateSucceeded, Value: payload, Attempts: attempt, Cost: totalCost, Duration: time.Since(planStart), ResolvedInput: resolved}
		}

		lastErr = invokeErr
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
			elapsedTotal := time.Since(planStart)
			if e.maxWallTime > 0 && elapsedTotal > e.maxWallTime {
				break // terminal: plan-level wall budget exhausted
			}
			if attempt >= maxAttempts {
				break
			}
			if !waitBackoff(ctx, backoffBase, attempt) {
				break
			}
			continue
		}

		timedOut = false
		if !retry.IsRetryable(invokeErr) || attempt >= maxAttempts {
			break
		}
		if !waitBackoff(ctx, backoffBase, attempt) {
			break
		}
	}

	if timedOut {
		return StepResult{StepID: step.ID, State: StateTimedOut, Err: lastErr, ErrMessage: lastErr.Error(), Attempts: attemptsUsed, Cost: totalCost, ResolvedInput: resolved}
	}
	kind := orcherr.InternalError
	var oe *orcherr.Error
	if errors.As(lastErr, &oe) {
		kind = oe.Kind
	}
	result := StepResult{StepID: step.ID, State: StateFailed, Err: lastErr, ErrKind: string(kind), ErrMessage: lastErr.Error(), Attempts: attemptsUsed, Cost: totalCost, ResolvedInput: resolved}
	if isSchemaShaped(lastErr) {
		result.RetryHint = buildRetryHint(e.invoker, step.Tool, lastErr)
	}
	return result
}

// waitBackoff sleeps for a delay that grows with attempt (base * 2^(attempt-1)),
// returning false if ctx is cancelled first.
func waitBackoff(ctx context.Context, base time.Duration, attempt int) bool {
	if base <= 0 {
		return true
	}
	delay := base << uint(attempt-1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// planStatus classifies the plan-wide outcome from its terminal step
// results: success if every step succeeded, failed if none did, partial
// otherwise.
func planStatus(ctx ExecutionContext) Outcome {
	var succeeded, other int
	for _, r := range ctx.Results {
		if r.State == StateSucceeded {
			succeeded++
		} else {
			other++
		}
	}
	switch {
	case other == 0 && succeeded > 0:
		return OutcomeSuccess
	case succeeded == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}
