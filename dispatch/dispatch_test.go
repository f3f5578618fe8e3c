package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	calls int64
	fn    func(ctx context.Context, agent string, args map[string]any) (any, float64, float64, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, agent, _ string, args map[string]any) (any, float64, float64, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.fn(ctx, agent, args)
}

func TestDispatchCollectAll(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, agent string, _ map[string]any) (any, float64, float64, error) {
		return agent + "-result", 0, 1, nil
	}}
	d := New(inv)

	configs := []SubAgentConfig{
		{Name: "a", Template: "go {{x}}", Arguments: map[string]any{"x": "1"}},
		{Name: "b", Template: "go {{x}}", Arguments: map[string]any{"x": "2"}},
	}
	result, err := d.Dispatch(context.Background(), configs, DefaultGuardrails(), CollectAll())
	require.NoError(t, err)
	require.Len(t, result.Requests, 2)
	for _, r := range result.Requests {
		require.Equal(t, StateSucceeded, r.State)
	}
	values, ok := result.Aggregated.([]any)
	require.True(t, ok)
	require.Len(t, values, 2)
}

func TestDispatchRejectsUndefinedTemplateArg(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, agent string, _ map[string]any) (any, float64, float64, error) {
		return "ok", 0, 0, nil
	}}
	d := New(inv)
	configs := []SubAgentConfig{{Name: "a", Template: "go {{missing}}", Arguments: map[string]any{}}}
	result, err := d.Dispatch(context.Background(), configs, DefaultGuardrails(), CollectAll())
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.Requests[0].State)
	require.Error(t, result.Requests[0].Err)
}

func TestDispatchRecursionLimit(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, _ string, _ map[string]any) (any, float64, float64, error) { return "x", 0, 0, nil }}
	d := New(inv)
	ctx := WithBudget(context.Background(), Budget{Depth: 3})
	g := DefaultGuardrails()
	g.MaxRecursionDepth = 3

	result, err := d.Dispatch(ctx, []SubAgentConfig{{Name: "a", Template: "go"}}, g, CollectAll())
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.Requests[0].State)
	require.ErrorContains(t, result.Requests[0].Err, "recursion")
	require.Equal(t, int64(0), inv.calls)
}

func TestDispatchMaxCostStopsFurtherAttempts(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, _ string, _ map[string]any) (any, float64, float64, error) { return "x", 0, 100, nil }}
	d := New(inv)
	g := DefaultGuardrails()
	g.MaxConcurrency = 1
	g.MaxCost = 50

	configs := []SubAgentConfig{{Name: "a", Template: "go"}, {Name: "b", Template: "go"}}
	result, err := d.Dispatch(context.Background(), configs, g, CollectAll())
	require.NoError(t, err)

	var failed, succeeded int
	for _, r := range result.Requests {
		switch r.State {
		case StateSucceeded:
			succeeded++
		case StateFailed:
			failed++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)
}

func TestDispatchBestScore(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, agent string, _ map[string]any) (any, float64, float64, error) {
		if agent == "winner" {
			return "best", 0.9, 0, nil
		}
		return "also-ran", 0.1, 0, nil
	}}
	d := New(inv)
	configs := []SubAgentConfig{{Name: "winner", Template: "go"}, {Name: "loser", Template: "go"}}
	result, err := d.Dispatch(context.Background(), configs, DefaultGuardrails(), BestScore())
	require.NoError(t, err)
	require.Equal(t, "best", result.Aggregated)
}

func TestDispatchIdempotencyCacheHit(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, _ string, _ map[string]any) (any, float64, float64, error) { return "fresh", 0, 1, nil }}
	cache := NewMemoryIdempotencyCache(16)
	d := New(inv, WithIdempotencyCache(cache))
	g := DefaultGuardrails()

	cfg := []SubAgentConfig{{Name: "a", Template: "go {{x}}", Arguments: map[string]any{"x": "1"}}}
	_, err := d.Dispatch(context.Background(), cfg, g, CollectAll())
	require.NoError(t, err)
	require.Equal(t, int64(1), inv.calls)

	result, err := d.Dispatch(context.Background(), cfg, g, CollectAll())
	require.NoError(t, err)
	require.Equal(t, int64(1), inv.calls)
	require.Equal(t, StateDedupCached, result.Requests[0].State)
}

func TestDispatchMaxDurationCancelsSlowAgents(t *testing.T) {
	inv := &fakeInvoker{fn: func(ctx context.Context, _ string, _ map[string]any) (any, float64, float64, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "x", 0, 0, nil
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		}
	}}
	d := New(inv)
	g := DefaultGuardrails()
	g.MaxDuration = 5 * time.Millisecond

	result, err := d.Dispatch(context.Background(), []SubAgentConfig{{Name: "a", Template: "go"}}, g, CollectAll())
	require.NoError(t, err)
	require.NotEqual(t, StateSucceeded, result.Requests[0].State)
}
