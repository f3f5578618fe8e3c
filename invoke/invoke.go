// Package invoke implements the polymorphic tool invocation layer: a single
// entry point that looks up a tool's registered definition and routes the
// call to a kind-specific invoker — native, remote, sandboxed-code, or
// sub-agent — behind one interface. It is the StepInvoker the plan executor
// runs against and the ToolInvoker the sandbox calls back into for
// tool-within-a-fragment calls, so a sandboxed-code tool or a plan step
// reach the same catalog through the same dispatch path.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goplan/orchestrator/adapter"
	"github.com/goplan/orchestrator/dispatch"
	"github.com/goplan/orchestrator/orcherr"
	"github.com/goplan/orchestrator/registry"
	"github.com/goplan/orchestrator/sandbox"
	"github.com/goplan/orchestrator/telemetry"
)

type (
	// NativeFunc implements one in-process, compiled-in tool. cost is the
	// resource cost attributed to the call (0 if the tool has none).
	NativeFunc func(ctx context.Context, args map[string]any) (result any, cost float64, err error)

	// Catalog resolves a tool name to its definition and validates argument
	// payloads against it. *registry.Registry satisfies this interface.
	Catalog interface {
		Get(name string) (*registry.ToolDefinition, error)
		ValidateArgs(name string, args json.RawMessage) error
	}

	// Invoker is the polymorphic dispatcher: one Invoke method that selects
	// among native/remote/sandboxed-code/sub-agent invokers by the tool's
	// registered Kind. It implements plan.StepInvoker directly, and Adapt
	// produces a sandbox.ToolInvoker for registering as a sandboxed-code
	// tool's inner invoker or as the top-level sandbox.Sandbox invoker.
	Invoker struct {
		catalog    Catalog
		native     map[string]NativeFunc
		remote     adapter.Caller
		dispatcher *dispatch.Dispatcher
		guardrails dispatch.Guardrails
		sandboxes  func() *sandbox.Sandbox
		logger     telemetry.Logger
	}

	// Option configures an Invoker.
	Option func(*Invoker)
)

// WithNative registers a compiled-in implementation for a KindNative tool.
func WithNative(name string, fn NativeFunc) Option {
	return func(in *Invoker) { in.native[name] = fn }
}

// WithRemote installs the Caller used for KindRemote tools.
func WithRemote(c adapter.Caller) Option { return func(in *Invoker) { in.remote = c } }

// WithDispatcher installs the Dispatcher used for KindSubAgent tools, along
// with the Guardrails bundle applied to every such dispatch.
func WithDispatcher(d *dispatch.Dispatcher, guardrails dispatch.Guardrails) Option {
	return func(in *Invoker) {
		in.dispatcher = d
		in.guardrails = guardrails
	}
}

// WithSandboxFactory installs a constructor for the Sandbox used to run
// KindSandboxedCode tools. A factory (rather than a shared instance) is
// used because each run needs a fresh per-call budget session; most callers
// should pass a closure that returns sandbox.New(in.Adapt(), in.catalog, ...)
// with whatever Options the deployment wants.
func WithSandboxFactory(f func() *sandbox.Sandbox) Option {
	return func(in *Invoker) { in.sandboxes = f }
}

// WithLogger sets the invoker's logger.
func WithLogger(l telemetry.Logger) Option { return func(in *Invoker) { in.logger = l } }

// New constructs an Invoker backed by catalog. Kind-specific invokers are
// wired in with Options; a tool whose kind has no corresponding invoker
// configured fails with InternalError when called.
func New(catalog Catalog, opts ...Option) *Invoker {
	in := &Invoker{
		catalog: catalog,
		native:  make(map[string]NativeFunc),
		logger:  telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in
}

// Invoke resolves tool's definition and routes the call to the matching
// kind-specific invoker. When the definition carries a Decorate middleware,
// it wraps the kind-specific invoker before the call runs. It satisfies
// plan.StepInvoker.
func (in *Invoker) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, float64, error) {
	def, err := in.catalog.Get(tool)
	if err != nil {
		return nil, 0, err
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, 0, orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("tool %s: failed to encode arguments", tool), err)
	}
	if err := in.catalog.ValidateArgs(tool, raw); err != nil {
		return nil, 0, err
	}

	call := registry.InvokeFunc(func(ctx context.Context, args map[string]any) (json.RawMessage, float64, error) {
		switch def.Kind {
		case registry.KindNative, "":
			return in.invokeNative(ctx, def, args)
		case registry.KindRemote:
			return in.invokeRemote(ctx, def, args)
		case registry.KindSandboxedCode:
			return in.invokeSandboxed(ctx, def, args)
		case registry.KindSubAgent:
			return in.invokeSubAgent(ctx, def, args)
		default:
			return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: unknown kind %q", tool, def.Kind)
		}
	})
	if def.Decorate != nil {
		call = def.Decorate(call)
	}
	return call(ctx, args)
}

// Example returns the first example payload registered for tool, if any,
// satisfying plan.ExampleProvider so a failed step's RetryHint can carry a
// correction sample instead of only a message string.
func (in *Invoker) Example(tool string) (json.RawMessage, bool) {
	def, err := in.catalog.Get(tool)
	if err != nil || len(def.Examples) == 0 {
		return nil, false
	}
	payload, err := json.Marshal(def.Examples[0].Input)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (in *Invoker) invokeNative(ctx context.Context, def *registry.ToolDefinition, args map[string]any) (json.RawMessage, float64, error) {
	fn, ok := in.native[def.Name]
	if !ok {
		return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: no native implementation registered", def.Name)
	}
	result, cost, err := fn(ctx, args)
	if err != nil {
		return nil, cost, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, cost, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("tool %s: result is not serializable", def.Name), err)
	}
	return payload, cost, nil
}

func (in *Invoker) invokeRemote(ctx context.Context, def *registry.ToolDefinition, args map[string]any) (json.RawMessage, float64, error) {
	if in.remote == nil {
		return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: no remote caller configured", def.Name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, 0, orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("tool %s: failed to encode arguments", def.Name), err)
	}
	resp, err := in.remote.Invoke(ctx, adapter.InvokeRequest{Tool: def.Name, Args: raw})
	if err != nil {
		return nil, 0, adapter.Classify(def.Name, err)
	}
	return resp.Result, 0, nil
}

func (in *Invoker) invokeSandboxed(ctx context.Context, def *registry.ToolDefinition, args map[string]any) (json.RawMessage, float64, error) {
	if in.sandboxes == nil {
		return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: no sandbox configured", def.Name)
	}
	if def.Code == "" {
		return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: sandboxed-code tool has no source", def.Name)
	}
	sb := in.sandboxes()
	out, err := sb.Run(ctx, def.Code, def.Meta.SandboxTools, args)
	if err != nil {
		return nil, 0, err
	}
	payload, err := json.Marshal(out.Result)
	if err != nil {
		return nil, 0, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("tool %s: sandbox output is not serializable", def.Name), err)
	}
	return payload, 0, nil
}

func (in *Invoker) invokeSubAgent(ctx context.Context, def *registry.ToolDefinition, args map[string]any) (json.RawMessage, float64, error) {
	if in.dispatcher == nil {
		return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: no dispatcher configured", def.Name)
	}
	agentName := def.AgentName
	if agentName == "" {
		agentName = def.Name
	}
	result, err := in.dispatcher.Dispatch(ctx, []dispatch.SubAgentConfig{{
		Name:      agentName,
		Template:  def.PromptTemplate,
		Arguments: args,
	}}, in.guardrails, dispatch.CollectAll())
	if err != nil {
		return nil, 0, err
	}
	if len(result.Requests) != 1 {
		return nil, 0, orcherr.Newf(orcherr.InternalError, "tool %s: expected exactly one dispatch result, got %d", def.Name, len(result.Requests))
	}
	req := result.Requests[0]
	if req.Err != nil {
		return nil, req.Cost, req.Err
	}
	payload, err := json.Marshal(req.Value)
	if err != nil {
		return nil, req.Cost, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("tool %s: sub-agent result is not serializable", def.Name), err)
	}
	return payload, req.Cost, nil
}

// Adapt returns a sandbox.ToolInvoker view of in, dropping the cost return
// value plan.StepInvoker carries but sandbox.ToolInvoker has no use for.
// Pass the result to sandbox.New so a fragment's tool calls route back
// through the same polymorphic dispatch a plan step would use.
func (in *Invoker) Adapt() sandbox.ToolInvoker { return toolInvokerAdapter{in} }

type toolInvokerAdapter struct{ in *Invoker }

func (a toolInvokerAdapter) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	result, _, err := a.in.Invoke(ctx, tool, args)
	return result, err
}
