package invoke

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goplan/orchestrator/adapter"
	"github.com/goplan/orchestrator/dispatch"
	"github.com/goplan/orchestrator/orcherr"
	"github.com/goplan/orchestrator/registry"
	"github.com/goplan/orchestrator/sandbox"
)

func newTestRegistry(t *testing.T, def *registry.ToolDefinition) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(context.Background(), def))
	return reg
}

func TestInvokeNativeTool(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{
		Name:        "double",
		Description: "doubles a number",
		Parameters:  []registry.ParameterDescriptor{{Name: "n", Type: "number", Required: true}},
	})
	in := New(reg, WithNative("double", func(_ context.Context, args map[string]any) (any, float64, error) {
		n := args["n"].(float64)
		return map[string]any{"result": n * 2}, 0.01, nil
	}))

	result, cost, err := in.Invoke(context.Background(), "double", map[string]any{"n": 21.0})
	require.NoError(t, err)
	require.Equal(t, 0.01, cost)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, float64(42), decoded["result"])
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := registry.New()
	in := New(reg)
	_, _, err := in.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.NotFound, oe.Kind)
}

func TestInvokeNativeMissingImplementation(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{Name: "noop"})
	in := New(reg)
	_, _, err := in.Invoke(context.Background(), "noop", nil)
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.InternalError, oe.Kind)
}

func TestInvokeValidatesArgsBeforeDispatch(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{
		Name:       "double",
		Parameters: []registry.ParameterDescriptor{{Name: "n", Type: "number", Required: true}},
	})
	called := false
	in := New(reg, WithNative("double", func(context.Context, map[string]any) (any, float64, error) {
		called = true
		return nil, 0, nil
	}))

	_, _, err := in.Invoke(context.Background(), "double", map[string]any{})
	require.Error(t, err)
	require.False(t, called)
}

type fakeCaller struct {
	resp adapter.InvokeResponse
	err  error
}

func (f *fakeCaller) Invoke(context.Context, adapter.InvokeRequest) (adapter.InvokeResponse, error) {
	return f.resp, f.err
}

func TestInvokeRemoteTool(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{Name: "remote-lookup", Remote: true})
	caller := &fakeCaller{resp: adapter.InvokeResponse{Result: json.RawMessage(`{"ok":true}`)}}
	in := New(reg, WithRemote(caller))

	result, cost, err := in.Invoke(context.Background(), "remote-lookup", map[string]any{"id": "1"})
	require.NoError(t, err)
	require.Zero(t, cost)
	require.JSONEq(t, `{"ok":true}`, string(result))
}

func TestInvokeRemoteClassifiesRPCError(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{Name: "remote-lookup", Remote: true})
	caller := &fakeCaller{err: &adapter.RPCError{Code: adapter.JSONRPCMethodNotFound, Message: "unknown method"}}
	in := New(reg, WithRemote(caller))

	_, _, err := in.Invoke(context.Background(), "remote-lookup", nil)
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.NotFound, oe.Kind)
}

type fakeSubAgentInvoker struct {
	fn func(ctx context.Context, agent, prompt string, args map[string]any) (any, float64, float64, error)
}

func (f *fakeSubAgentInvoker) Invoke(ctx context.Context, agent, prompt string, args map[string]any) (any, float64, float64, error) {
	return f.fn(ctx, agent, prompt, args)
}

func TestInvokeSubAgentTool(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{
		Name:           "summarize",
		IsAgentTool:    true,
		AgentName:      "summarizer",
		PromptTemplate: "summarize {{doc}}",
	})
	sub := &fakeSubAgentInvoker{fn: func(_ context.Context, agent, prompt string, _ map[string]any) (any, float64, float64, error) {
		require.Equal(t, "summarizer", agent)
		require.Equal(t, "summarize report.pdf", prompt)
		return "short summary", 0, 0.5, nil
	}}
	d := dispatch.New(sub)
	in := New(reg, WithDispatcher(d, dispatch.DefaultGuardrails()))

	result, cost, err := in.Invoke(context.Background(), "summarize", map[string]any{"doc": "report.pdf"})
	require.NoError(t, err)
	require.Equal(t, 0.5, cost)
	var decoded string
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, "short summary", decoded)
}

type fakeSandboxInvoker struct{}

func (fakeSandboxInvoker) Invoke(_ context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if tool == "inner" {
		return json.Marshal(map[string]any{"n": args["n"]})
	}
	return nil, orcherr.Newf(orcherr.NotFound, "tool %q not registered", tool)
}

func TestInvokeSandboxedCodeTool(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{
		Name: "transform",
		Kind: registry.KindSandboxedCode,
		Code: `
r = inner(n=value)
output = {"doubled": r["n"] * 2}
`,
		Meta: registry.ToolMeta{SandboxTools: []string{"inner"}},
	})
	in := New(reg, WithSandboxFactory(func() *sandbox.Sandbox {
		return sandbox.New(fakeSandboxInvoker{}, nil)
	}))

	result, cost, err := in.Invoke(context.Background(), "transform", map[string]any{"value": int64(3)})
	require.NoError(t, err)
	require.Zero(t, cost)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, float64(6), decoded["doubled"])
}

func TestInvokeAppliesDecorateMiddleware(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{
		Name: "double",
		Decorate: func(next registry.InvokeFunc) registry.InvokeFunc {
			return func(ctx context.Context, args map[string]any) (json.RawMessage, float64, error) {
				result, cost, err := next(ctx, args)
				return result, cost + 1, err
			}
		},
	})
	in := New(reg, WithNative("double", func(_ context.Context, args map[string]any) (any, float64, error) {
		return map[string]any{"n": args["n"]}, 0.5, nil
	}))

	_, cost, err := in.Invoke(context.Background(), "double", map[string]any{"n": 1.0})
	require.NoError(t, err)
	require.Equal(t, 1.5, cost)
}

func TestExampleReturnsFirstRegisteredExample(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{
		Name:     "web.search",
		Examples: []registry.Example{{Input: map[string]any{"query": "cats"}}},
	})
	in := New(reg)

	example, ok := in.Example("web.search")
	require.True(t, ok)
	require.JSONEq(t, `{"query":"cats"}`, string(example))

	_, ok = in.Example("missing")
	require.False(t, ok)
}

func TestAdaptRoutesSandboxToolInvokerThroughInvoke(t *testing.T) {
	reg := newTestRegistry(t, &registry.ToolDefinition{Name: "double"})
	in := New(reg, WithNative("double", func(_ context.Context, args map[string]any) (any, float64, error) {
		return map[string]any{"n": args["n"]}, 0, nil
	}))
	adapted := in.Adapt()

	result, err := adapted.Invoke(context.Background(), "double", map[string]any{"n": float64(4)})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, float64(4), decoded["n"])
}
