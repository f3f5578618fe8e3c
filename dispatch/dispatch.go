package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/goplan/orchestrator/orcherr"
	"github.com/goplan/orchestrator/telemetry"
)

type (
	// Invoker calls a single sub-agent and returns its raw value, an
	// optional scalar score (used by BestScore aggregation), and the cost
	// incurred. Implementations typically wrap a model/planner client.
	Invoker interface {
		Invoke(ctx context.Context, agent string, prompt string, args map[string]any) (value any, score float64, cost float64, err error)
	}

	// Dispatcher fans out a set of SubAgentConfig invocations under a
	// Guardrails bundle and reduces the successful results with an
	// Aggregator.
	Dispatcher struct {
		invoker Invoker
		cache   IdempotencyCache
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)
)

// WithIdempotencyCache installs the cache used to short-circuit repeated
// requests. Without one, idempotency_ttl > 0 has no effect.
func WithIdempotencyCache(c IdempotencyCache) Option { return func(d *Dispatcher) { d.cache = c } }

// WithLogger sets the dispatcher's logger.
func WithLogger(l telemetry.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithMetrics sets the dispatcher's metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// New constructs a Dispatcher backed by invoker.
func New(invoker Invoker, opts ...Option) *Dispatcher {
	d := &Dispatcher{invoker: invoker, logger: telemetry.NewNoopLogger(), metrics: telemetry.NewNoopMetrics()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// budgetState is the dispatch-wide mutable guardrail bookkeeping shared by
// every in-flight request.
type budgetState struct {
	mu           sync.Mutex
	spentCost    float64
	maxCost      float64
	costExceeded bool
}

// withinBudget reports whether max_cost has room for another attempt.
// Checked before every attempt, including retries, per the dispatch-budget
// ordering decision.
func (b *budgetState) withinBudget() bool {
	if b.maxCost <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.costExceeded
}

func (b *budgetState) record(cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentCost += cost
	if b.maxCost > 0 && b.spentCost >= b.maxCost {
		b.costExceeded = true
	}
}

// Dispatch fans out configs under guardrails, aggregates successful
// results with strategy, and returns the full breakdown. Each request's
// recursion-depth check happens before any network I/O, per spec.md.
func (d *Dispatcher) Dispatch(ctx context.Context, configs []SubAgentConfig, guardrails Guardrails, strategy Aggregator) (Result, error) {
	ambient := BudgetFromContext(ctx)
	if guardrails.MaxRecursionDepth > 0 && ambient.Depth >= guardrails.MaxRecursionDepth {
		results := make([]RequestResult, len(configs))
		for i, c := range configs {
			results[i] = RequestResult{AgentName: c.Name, State: StateFailed, Err: orcherr.Newf(orcherr.RecursionLimit, "recursion depth %d exceeds max_recursion_depth %d", ambient.Depth, guardrails.MaxRecursionDepth)}
		}
		return Result{Requests: results}, nil
	}

	if guardrails.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, guardrails.MaxDuration)
		defer cancel()
	}

	maxConcurrency := guardrails.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = len(configs)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)

	var limiter *keyedLimiter
	if guardrails.RateLimit != nil {
		limiter = newKeyedLimiter(*guardrails.RateLimit)
	}

	budget := &budgetState{maxCost: guardrails.MaxCost, spentCost: ambient.Cost, costExceeded: guardrails.MaxCost > 0 && ambient.Cost >= guardrails.MaxCost}

	childCtx := WithBudget(ctx, Budget{Depth: ambient.Depth + 1, Cost: ambient.Cost})

	results := make([]RequestResult, len(configs))
	leaders := make(map[string]int)     // idempotency key -> index that performs the live call
	followers := make(map[string][]int) // idempotency key -> indexes that copy the leader's result

	var wg sync.WaitGroup
	for i, cfg := range configs {
		i, cfg := i, cfg
		results[i] = RequestResult{AgentName: cfg.Name, State: StateQueued}

		prompt, err := renderTemplate(cfg.Template, cfg.Arguments)
		if err != nil {
			results[i] = RequestResult{AgentName: cfg.Name, State: StateFailed, Err: err}
			continue
		}

		identity := cfg.Identity
		if identity == "" {
			identity = idempotencyKey(cfg.Name, prompt, cfg.Arguments)
		}

		if guardrails.IdempotencyTTL > 0 && d.cache != nil {
			if cached, ok := d.cache.Get(ctx, identity); ok {
				cached.State = StateDedupCached
				results[i] = cached
				continue
			}
		}

		if guardrails.Deduplicate {
			if _, ok := leaders[identity]; ok {
				followers[identity] = append(followers[identity], i)
				continue
			}
			leaders[identity] = i
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-childCtx.Done():
				results[i] = RequestResult{AgentName: cfg.Name, State: StateCancelled, Err: childCtx.Err()}
				return
			}
			defer func() { <-sem }()

			if limiter != nil {
				key := guardrails.RateLimit.Key
				if key == "" {
					key = cfg.Name
				}
				results[i].State = StateThrottled
				if err := limiter.wait(childCtx, key); err != nil {
					results[i] = RequestResult{AgentName: cfg.Name, State: StateFailed, Err: err}
					return
				}
			}

			if !budget.withinBudget() {
				results[i] = RequestResult{AgentName: cfg.Name, State: StateFailed, Err: orcherr.New(orcherr.BudgetExceeded, "max_cost exhausted before dispatch")}
				return
			}

			results[i].State = StateRunning
			start := time.Now()
			budget.mu.Lock()
			reqCtx := WithBudget(childCtx, Budget{Depth: ambient.Depth + 1, Cost: budget.spentCost})
			budget.mu.Unlock()
			value, score, cost, err := d.invoker.Invoke(reqCtx, cfg.Name, prompt, cfg.Arguments)
			duration := time.Since(start)
			budget.record(cost)

			switch {
			case childCtx.Err() != nil && err != nil:
				results[i] = RequestResult{AgentName: cfg.Name, State: StateCancelled, Cost: cost, Duration: duration, Err: childCtx.Err()}
			case err != nil:
				results[i] = RequestResult{AgentName: cfg.Name, State: StateFailed, Cost: cost, Duration: duration, Err: err}
			default:
				results[i] = RequestResult{AgentName: cfg.Name, State: StateSucceeded, Value: value, Score: score, Cost: cost, Duration: duration}
				if guardrails.IdempotencyTTL > 0 && d.cache != nil {
					d.cache.Set(childCtx, identity, results[i], guardrails.IdempotencyTTL)
				}
			}
		}()
	}
	wg.Wait()

	// Fan each leader's result back to every deduped follower.
	for identity, leader := range leaders {
		for _, idx := range followers[identity] {
			results[idx] = results[leader]
			results[idx].State = StateDedupCached
		}
	}

	var successes []RequestResult
	for _, r := range results {
		if r.State == StateSucceeded || r.State == StateDedupCached {
			successes = append(successes, r)
		}
	}

	var aggregated any
	if strategy != nil {
		aggregated = strategy(successes)
	}

	return Result{Aggregated: aggregated, Requests: results}, nil
}
