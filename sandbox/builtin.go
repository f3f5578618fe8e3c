package sandbox

import (
	"context"
	"encoding/json"
	"strings"

	"go.starlark.net/starlark"

	"github.com/goplan/orchestrator/orcherr"
)

type (
	// ToolInvoker executes one tool call on behalf of a running fragment.
	// Implementations typically delegate to the invoke package.
	ToolInvoker interface {
		Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)
	}

	// SchemaValidator validates an argument payload against a tool's
	// registered input schema before it is invoked. *registry.Registry
	// satisfies this interface.
	SchemaValidator interface {
		ValidateArgs(tool string, args json.RawMessage) error
	}
)

// newToolBuiltin binds name into the fragment's global scope as a callable
// that validates its keyword arguments, enforces the session's call-count
// and wall-clock caps, invokes the tool, and logs the call.
func newToolBuiltin(name string, invoker ToolInvoker, validator SchemaValidator, session *Session, root bool) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, orcherr.Newf(orcherr.ValidationError, "%s: tool calls must use keyword arguments", name)
		}

		if err := session.checkBudget(); err != nil {
			return nil, err
		}

		argMap, err := kwargsToMap(kwargs)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(argMap)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.InternalError, "failed to encode tool arguments", err)
		}
		if validator != nil {
			if err := validator.ValidateArgs(name, raw); err != nil {
				return nil, err
			}
		}

		callCtx := session.ctx
		if session.maxElapsed > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(session.ctx, session.remaining())
			defer cancel()
		}

		caller := session.nextCallerID(root && !strings.Contains(thread.Name, "/gather"))
		result, invokeErr := invoker.Invoke(callCtx, name, argMap)
		session.recordCall(name, raw, len(result), caller, invokeErr)
		if invokeErr != nil {
			return nil, invokeErr
		}

		var decoded any
		if err := json.Unmarshal(result, &decoded); err != nil {
			return nil, orcherr.Wrap(orcherr.InternalError, "tool result is not valid JSON", err)
		}
		return toStarlark(decoded)
	})
}

// newTokenizeBuiltin binds "tokenize" into the fragment's global scope: a
// one-argument callable that HMAC-tokenizes a string value using the
// session's secret (caller-supplied or process-random), so a fragment can
// carry a sensitive value through intermediate steps without the raw value
// ever appearing in the call log or the final output.
func newTokenizeBuiltin(session *Session) *starlark.Builtin {
	return starlark.NewBuiltin("tokenize", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var value starlark.String
		if err := starlark.UnpackArgs("tokenize", args, kwargs, "value", &value); err != nil {
			return nil, orcherr.Newf(orcherr.ValidationError, "tokenize: %v", err)
		}
		return starlark.String(tokenize(session.secret, string(value))), nil
	})
}
