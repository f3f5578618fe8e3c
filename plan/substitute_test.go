package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func succeededContext(t *testing.T, stepID, jsonValue string, vars map[string]any) ExecutionContext {
	t.Helper()
	ctx := newExecutionContext(vars)
	ctx.Results[stepID] = StepResult{StepID: stepID, State: StateSucceeded, Value: []byte(jsonValue)}
	return ctx
}

func TestResolveStepRefWholeValue(t *testing.T) {
	ctx := succeededContext(t, "A", `{"n":3}`, nil)
	v, err := resolveValue("step:A", ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": float64(3)}, v)
}

func TestResolveStepRefDottedPath(t *testing.T) {
	ctx := succeededContext(t, "A", `{"n":3,"nested":{"inner":"x"}}`, nil)
	v, err := resolveValue("step:A.nested.inner", ctx)
	require.NoError(t, err)
	require.Equal(t, "x", v)
}

func TestResolveStepRefArrayIndex(t *testing.T) {
	ctx := succeededContext(t, "A", `{"items":[10,20,30]}`, nil)
	v, err := resolveValue("step:A.items.1", ctx)
	require.NoError(t, err)
	require.Equal(t, float64(20), v)
}

func TestResolveStepRefMissingStepFails(t *testing.T) {
	ctx := succeededContext(t, "A", `{}`, nil)
	_, err := resolveValue("step:ghost", ctx)
	require.Error(t, err)
}

func TestResolveStepRefUnsucceededStepFails(t *testing.T) {
	ctx := newExecutionContext(nil)
	ctx.Results["A"] = StepResult{StepID: "A", State: StateFailed}
	_, err := resolveValue("step:A", ctx)
	require.Error(t, err)
}

func TestResolveVariablePlaceholder(t *testing.T) {
	ctx := succeededContext(t, "A", `{}`, map[string]any{"name": "alice"})
	v, err := resolveValue("hello {{name}}", ctx)
	require.NoError(t, err)
	require.Equal(t, "hello alice", v)
}

func TestResolveVariableMissingFails(t *testing.T) {
	ctx := newExecutionContext(nil)
	_, err := resolveValue("hello {{missing}}", ctx)
	require.Error(t, err)
}

func TestResolveInputWalksNestedTree(t *testing.T) {
	ctx := succeededContext(t, "A", `{"n":3}`, map[string]any{"label": "x"})
	input := map[string]any{
		"direct": "step:A.n",
		"nested": map[string]any{"inner": []any{"{{label}}", 5}},
	}
	resolved, err := resolveInput(input, ctx)
	require.NoError(t, err)
	require.Equal(t, float64(3), resolved["direct"])
	nested := resolved["nested"].(map[string]any)
	inner := nested["inner"].([]any)
	require.Equal(t, "x", inner[0])
	require.Equal(t, 5, inner[1])
}
