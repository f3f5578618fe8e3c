// Package sandbox implements the programmatic tool-calling sandbox: a
// restricted execution environment for planner-emitted orchestration code.
// Fragments run as Starlark, whose language design already forbids
// import/eval/exec/file-I/O/reflection; each catalog tool becomes one
// Starlark builtin bound into the fragment's global scope, and a gather
// primitive fans out concurrent tool calls under a bounded goroutine pool.
package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/goplan/orchestrator/orcherr"
	"github.com/goplan/orchestrator/telemetry"
)

type (
	// Sandbox executes planner-emitted code fragments against a fixed
	// ToolInvoker/SchemaValidator pair, under per-run call-count and
	// wall-clock caps.
	Sandbox struct {
		invoker           ToolInvoker
		validator         SchemaValidator
		maxCalls          int
		maxElapsed        time.Duration
		gatherConcurrency int
		logger            telemetry.Logger
	}

	// Option configures a Sandbox.
	Option func(*Sandbox)

	// RunOption configures a single Run call.
	RunOption func(*runConfig)

	runConfig struct {
		secret []byte
	}

	// Output is a fragment's structured execution record: captured stdout,
	// the `output` global (if the fragment set one), the full call log,
	// elapsed wall time, and — on failure — the classified error.
	Output struct {
		Stdout   string         `json:"stdout,omitempty"`
		Result   any            `json:"output,omitempty"`
		CallLog  []CallLogEntry `json:"call_log"`
		Elapsed  time.Duration  `json:"elapsed"`
		ErrKind  string         `json:"err_kind,omitempty"`
		ErrMsg   string         `json:"err_message,omitempty"`
	}
)

// WithMaxCalls bounds the number of tool calls a single Run may make.
// Zero (the default) leaves the call count unbounded.
func WithMaxCalls(n int) Option { return func(sb *Sandbox) { sb.maxCalls = n } }

// WithMaxElapsed bounds a single Run's wall-clock time. Zero leaves it
// unbounded; spec.md's default of 30s should be passed explicitly by
// callers that want it.
func WithMaxElapsed(d time.Duration) Option { return func(sb *Sandbox) { sb.maxElapsed = d } }

// WithGatherConcurrency bounds the goroutine pool gather uses within a Run.
func WithGatherConcurrency(n int) Option { return func(sb *Sandbox) { sb.gatherConcurrency = n } }

// WithLogger sets the sandbox's logger.
func WithLogger(l telemetry.Logger) Option { return func(sb *Sandbox) { sb.logger = l } }

// WithSecret seeds a single Run's tokenize() builtin with a caller-supplied
// HMAC key, making its tokens reversible by whoever holds the same secret.
// Without it, Run generates a process-random key and tokens are
// non-reversible.
func WithSecret(secret []byte) RunOption { return func(c *runConfig) { c.secret = secret } }

// New constructs a Sandbox backed by invoker, validating arguments against
// validator before every call (validator may be nil to skip validation,
// e.g. in tests).
func New(invoker ToolInvoker, validator SchemaValidator, opts ...Option) *Sandbox {
	sb := &Sandbox{
		invoker: invoker,
		validator: validator,
		logger:  telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sb)
		}
	}
	return sb
}

// Run executes code as a restricted Starlark fragment. toolNames lists the
// catalog tools made callable this run; callerVars binds additional
// read-only globals (identity, request context) the fragment may reference
// directly. A failure terminates the fragment and is reported in the
// returned Output (ErrKind/ErrMsg) as well as returned as an error, matching
// spec.md's "failure terminates the code fragment ... without further tool
// calls".
func (sb *Sandbox) Run(ctx context.Context, code string, toolNames []string, callerVars map[string]any, opts ...RunOption) (Output, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	session := newSession(ctx, sb.maxCalls, sb.maxElapsed, cfg.secret)

	predeclared := make(starlark.StringDict, len(toolNames)+len(callerVars)+1)
	for _, name := range toolNames {
		predeclared[name] = newToolBuiltin(name, sb.invoker, sb.validator, session, true)
	}
	predeclared["gather"] = newGatherBuiltin(session, sb.gatherConcurrency)
	predeclared["tokenize"] = newTokenizeBuiltin(session)
	for name, value := range callerVars {
		sv, err := toStarlark(value)
		if err != nil {
			return Output{}, orcherr.Newf(orcherr.ValidationError, "caller variable %q: %v", name, err)
		}
		predeclared[name] = sv
	}

	var stdout strings.Builder
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
	}

	if sb.maxElapsed > 0 {
		timer := time.AfterFunc(sb.maxElapsed, func() {
			thread.Cancel("sandbox wall-clock budget exceeded")
		})
		defer timer.Stop()
	}

	globals, err := starlark.ExecFile(thread, "<fragment>", code, predeclared)
	elapsed := time.Since(session.start)

	out := Output{
		Stdout:  stdout.String(),
		CallLog: session.snapshotLog(),
		Elapsed: elapsed,
	}

	if err != nil {
		classified := classifyStarlarkError(err)
		out.ErrKind = string(classified.Kind)
		out.ErrMsg = classified.Message
		return out, classified
	}

	if result, ok := globals["output"]; ok {
		decoded, convErr := fromStarlark(result)
		if convErr != nil {
			classified := orcherr.Wrap(orcherr.ValidationError, "fragment output binding is not convertible", convErr)
			out.ErrKind = string(classified.Kind)
			out.ErrMsg = classified.Message
			return out, classified
		}
		out.Result = decoded
	}
	return out, nil
}

// classifyStarlarkError maps a Starlark execution failure onto the shared
// error taxonomy: a builtin already returning an *orcherr.Error is passed
// through unchanged; a cancellation (the wall-clock watchdog) is reported
// as BudgetExceeded; anything else (syntax errors, unbound names, type
// errors raised by the Starlark runtime itself) is a ValidationError since
// it reflects a malformed fragment, not a transient condition.
func classifyStarlarkError(err error) *orcherr.Error {
	var oe *orcherr.Error
	if errors.As(err, &oe) {
		return oe
	}
	if strings.Contains(err.Error(), "cancelled") {
		return orcherr.Newf(orcherr.BudgetExceeded, "fragment cancelled: %v", err)
	}
	return orcherr.Newf(orcherr.ValidationError, "fragment execution failed: %v", err)
}
