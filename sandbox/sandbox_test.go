package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goplan/orchestrator/orcherr"
)

type fakeInvoker struct {
	fn func(ctx context.Context, tool string, args map[string]any) (any, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	v, err := f.fn(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func TestRunExecutesToolCallAndCapturesOutput(t *testing.T) {
	inv := &fakeInvoker{fn: func(_ context.Context, tool string, args map[string]any) (any, error) {
		return map[string]any{"doubled": args["n"].(int64) * 2}, nil
	}}
	sb := New(inv, nil)
	code := `
result = add(n=21)
output = {"doubled": result["doubled"]}
`
	out, err := sb.Run(context.Background(), code, []string{"add"}, nil)
	require.NoError(t, err)
	result := out.Result.(map[string]any)
	require.Equal(t, float64(42), result["doubled"])
	require.Len(t, out.CallLog, 1)
	require.Equal(t, "add", out.CallLog[0].Tool)
}

func TestRunRejectsPositionalToolArgs(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "x", nil }}
	sb := New(inv, nil)
	_, err := sb.Run(context.Background(), `x = add(1)`, []string{"add"}, nil)
	require.Error(t, err)
}

func TestRunEnforcesMaxCalls(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "ok", nil }}
	sb := New(inv, nil, WithMaxCalls(2))
	code := `
a = ping()
b = ping()
c = ping()
`
	out, err := sb.Run(context.Background(), code, []string{"ping"}, nil)
	require.Error(t, err)
	require.Equal(t, string(orcherr.BudgetExceeded), out.ErrKind)
}

func TestRunNoLoadFunction(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "ok", nil }}
	sb := New(inv, nil)
	_, err := sb.Run(context.Background(), `load("x.star", "y")`, nil, nil)
	require.Error(t, err)
}

func TestRunGatherFansOutConcurrently(t *testing.T) {
	inv := &fakeInvoker{fn: func(ctx context.Context, tool string, args map[string]any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return args["n"], nil
	}}
	sb := New(inv, nil)
	code := `
def call_a():
    return get(n=1)

def call_b():
    return get(n=2)

output = gather(call_a, call_b)
`
	start := time.Now()
	out, err := sb.Run(context.Background(), code, []string{"get"}, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Less(t, elapsed, 9*time.Millisecond)
	require.Equal(t, []any{float64(1), float64(2)}, out.Result)
}

func TestRunCallerVariablesAreBound(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "ok", nil }}
	sb := New(inv, nil)
	out, err := sb.Run(context.Background(), `output = {"id": caller_id}`, nil, map[string]any{"caller_id": "user-42"})
	require.NoError(t, err)
	require.Equal(t, "user-42", out.Result.(map[string]any)["id"])
}

func TestRunValidatorRejectsBadArgs(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "ok", nil }}
	validator := validatorFunc(func(string, json.RawMessage) error {
		return orcherr.New(orcherr.ValidationError, "missing required field")
	})
	sb := New(inv, validator)
	out, err := sb.Run(context.Background(), `output = add(n=1)`, []string{"add"}, nil)
	require.Error(t, err)
	require.Equal(t, string(orcherr.ValidationError), out.ErrKind)
}

func TestRunWallClockCapCancelsBusyLoop(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "ok", nil }}
	sb := New(inv, nil, WithMaxElapsed(10*time.Millisecond))
	code := `
x = 0
for i in range(100000000):
    x = x + 1
output = {"x": x}
`
	out, err := sb.Run(context.Background(), code, nil, nil)
	require.Error(t, err)
	require.Equal(t, string(orcherr.BudgetExceeded), out.ErrKind)
}

func TestTokenizeDeterministicWithinSession(t *testing.T) {
	inv := &fakeInvoker{fn: func(context.Context, string, map[string]any) (any, error) { return "ok", nil }}
	sb := New(inv, nil)
	out, err := sb.Run(context.Background(), `output = {"a": tokenize("secret@example.com"), "b": tokenize("secret@example.com")}`, nil, nil)
	require.NoError(t, err)
	m := out.Result.(map[string]any)
	require.Equal(t, m["a"], m["b"])
}

type validatorFunc func(tool string, args json.RawMessage) error

func (v validatorFunc) ValidateArgs(tool string, args json.RawMessage) error { return v(tool, args) }
