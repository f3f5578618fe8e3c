package plan

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goplan/orchestrator/orcherr"
)

type fakeStepInvoker struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, tool string, args map[string]any) (any, float64, error)
}

func newFakeStepInvoker(fn func(ctx context.Context, tool string, args map[string]any) (any, float64, error)) *fakeStepInvoker {
	return &fakeStepInvoker{calls: map[string]int{}, fn: fn}
}

func (f *fakeStepInvoker) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, float64, error) {
	f.mu.Lock()
	f.calls[tool]++
	f.mu.Unlock()
	v, cost, err := f.fn(ctx, tool, args)
	if err != nil {
		return nil, cost, err
	}
	b, merr := json.Marshal(v)
	if merr != nil {
		return nil, cost, merr
	}
	return b, cost, nil
}

func TestExecuteLinearChain(t *testing.T) {
	inv := newFakeStepInvoker(func(_ context.Context, tool string, args map[string]any) (any, float64, error) {
		switch tool {
		case "make":
			return map[string]any{"n": 3}, 0, nil
		case "double":
			v := args["v"].(float64)
			return map[string]any{"v": v * 2}, 0, nil
		}
		return nil, 0, nil
	})
	e := New(inv)
	p := Plan{
		RequestID: "r1",
		Steps: []Step{
			{ID: "A", Tool: "make", Input: map[string]any{}},
			{ID: "B", Tool: "double", Input: map[string]any{"v": "step:A.n"}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Status)
	require.Equal(t, StateSucceeded, result.Context.Results["A"].State)
	require.Equal(t, StateSucceeded, result.Context.Results["B"].State)

	var bVal map[string]any
	require.NoError(t, json.Unmarshal(result.Context.Results["B"].Value, &bVal))
	require.Equal(t, float64(6), bVal["v"])
}

func TestExecuteFanOut(t *testing.T) {
	var mu sync.Mutex
	running := 0
	maxRunning := 0
	inv := newFakeStepInvoker(func(_ context.Context, _ string, _ map[string]any) (any, float64, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return "ok", 0, nil
	})
	e := New(inv)
	p := Plan{
		RequestID: "r2",
		Steps: []Step{
			{ID: "X", Tool: "t"}, {ID: "Y", Tool: "t"}, {ID: "Z", Tool: "t"},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Status)
	require.GreaterOrEqual(t, maxRunning, 2)
}

func TestExecutePartialFailureSkipsDependents(t *testing.T) {
	inv := newFakeStepInvoker(func(_ context.Context, tool string, _ map[string]any) (any, float64, error) {
		if tool == "fails" {
			return nil, 0, orcherr.New(orcherr.ValidationError, "permanent failure")
		}
		return "ok", 0, nil
	})
	e := New(inv)
	p := Plan{
		RequestID: "r3",
		Steps: []Step{
			{ID: "A", Tool: "ok1"},
			{ID: "B", Tool: "fails", DependsOn: []string{"A"}},
			{ID: "C", Tool: "ok2"},
			{ID: "D", Tool: "ok3", DependsOn: []string{"C"}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePartial, result.Status)
	require.Equal(t, StateSucceeded, result.Context.Results["A"].State)
	require.Equal(t, StateFailed, result.Context.Results["B"].State)
	require.Equal(t, StateSucceeded, result.Context.Results["C"].State)
	require.Equal(t, StateSucceeded, result.Context.Results["D"].State)
}

func TestExecuteSkipsTransitiveDependents(t *testing.T) {
	inv := newFakeStepInvoker(func(_ context.Context, tool string, _ map[string]any) (any, float64, error) {
		if tool == "fails" {
			return nil, 0, orcherr.New(orcherr.ValidationError, "permanent failure")
		}
		return "ok", 0, nil
	})
	e := New(inv)
	p := Plan{
		Steps: []Step{
			{ID: "A", Tool: "fails"},
			{ID: "B", Tool: "ok", DependsOn: []string{"A"}},
			{ID: "C", Tool: "ok", DependsOn: []string{"B"}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.Context.Results["A"].State)
	require.Equal(t, StateSkipped, result.Context.Results["B"].State)
	require.Equal(t, "A", result.Context.Results["B"].SkippedDueTo)
	require.Equal(t, StateSkipped, result.Context.Results["C"].State)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	attempts := 0
	inv := newFakeStepInvoker(func(_ context.Context, _ string, _ map[string]any) (any, float64, error) {
		attempts++
		if attempts < 3 {
			return nil, 0, orcherr.New(orcherr.Transient, "flaky")
		}
		return "ok", 0, nil
	})
	e := New(inv)
	p := Plan{
		Steps: []Step{
			{ID: "A", Tool: "t", Retry: &RetryPolicy{MaxAttempts: 3, BackoffMS: 1}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, result.Context.Results["A"].State)
	require.Equal(t, 3, result.Context.Results["A"].Attempts)
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	attempts := 0
	inv := newFakeStepInvoker(func(_ context.Context, _ string, _ map[string]any) (any, float64, error) {
		attempts++
		return nil, 0, orcherr.New(orcherr.ValidationError, "bad args")
	})
	e := New(inv)
	p := Plan{
		Steps: []Step{
			{ID: "A", Tool: "t", Retry: &RetryPolicy{MaxAttempts: 5, BackoffMS: 1}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.Context.Results["A"].State)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, result.Context.Results["A"].Attempts, "a permanent failure on the first attempt must report 1, not MaxAttempts")
}

func TestExecuteAttachesRetryHintForSchemaShapedFailure(t *testing.T) {
	inv := newFakeStepInvoker(func(_ context.Context, _ string, _ map[string]any) (any, float64, error) {
		return nil, 0, orcherr.New(orcherr.ValidationError, "jsonschema: missing properties 'query'")
	})
	e := New(inv)
	p := Plan{
		Steps: []Step{{ID: "A", Tool: "web.search"}},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.Context.Results["A"].State)
	require.NotNil(t, result.Context.Results["A"].RetryHint)
	require.Equal(t, "missing_required_field", result.Context.Results["A"].RetryHint.Reason)
	require.Equal(t, []string{"query"}, result.Context.Results["A"].RetryHint.MissingFields)
	require.Equal(t, "web.search", result.Context.Results["A"].RetryHint.Tool)
}

func TestExecuteRejectsUndefinedReferenceWithoutInvoking(t *testing.T) {
	inv := newFakeStepInvoker(func(_ context.Context, _ string, _ map[string]any) (any, float64, error) {
		return "should-not-run", 0, nil
	})
	e := New(inv)
	p := Plan{
		Steps: []Step{
			{ID: "A", Tool: "t", Input: map[string]any{"v": "{{missing}}"}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.Context.Results["A"].State)
	require.Equal(t, string(orcherr.ValidationError), result.Context.Results["A"].ErrKind)
	require.Equal(t, 0, inv.calls["t"])
}

func TestExecuteStepTimeoutBecomesTerminalOverPlanBudget(t *testing.T) {
	inv := newFakeStepInvoker(func(ctx context.Context, _ string, _ map[string]any) (any, float64, error) {
		<-ctx.Done()
		return nil, 0, ctx.Err()
	})
	e := New(inv, WithMaxWallTime(1*time.Millisecond))
	p := Plan{
		Steps: []Step{
			{ID: "A", Tool: "t", TimeoutMS: 5, Retry: &RetryPolicy{MaxAttempts: 3, BackoffMS: 1}},
		},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, StateTimedOut, result.Context.Results["A"].State)
}

func TestExecuteRendersSynthesis(t *testing.T) {
	inv := newFakeStepInvoker(func(_ context.Context, _ string, _ map[string]any) (any, float64, error) {
		return map[string]any{"n": 7}, 0, nil
	})
	e := New(inv)
	p := Plan{
		Steps:          []Step{{ID: "A", Tool: "t"}},
		FinalSynthesis: &Synthesis{PromptTemplate: "result is {{.Results.A.value.n}}"},
	}
	result, err := e.Execute(context.Background(), p, nil)
	require.NoError(t, err)
	require.Equal(t, "result is 7", result.Synthesis)
}
