package plan

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/goplan/orchestrator/orcherr"
)

var variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// resolveInput walks step's input tree and substitutes every step:<id>[.path]
// and {{variable}} reference from ctx. It returns a new tree; ctx itself is
// never mutated. Any unresolved reference fails the whole step with a
// ValidationError and the step must not be dispatched.
func resolveInput(input map[string]any, ctx ExecutionContext) (map[string]any, error) {
	resolved := make(map[string]any, len(input))
	for k, v := range input {
		r, err := resolveValue(v, ctx)
		if err != nil {
			return nil, err
		}
		resolved[k] = r
	}
	return resolved, nil
}

func resolveValue(v any, ctx ExecutionContext) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, ctx)
	case map[string]any:
		return resolveInput(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString substitutes a single string value. A bare "step:<id>[.path]"
// reference replaces the whole string with the referenced value (any JSON
// type); a string containing one or more {{variable}} placeholders is
// rendered as text, each placeholder replaced by its variable's value.
func resolveString(s string, ctx ExecutionContext) (any, error) {
	if m := stepRefPattern.FindStringSubmatch(s); m != nil {
		return resolveStepRef(m[1], m[2], ctx)
	}
	if !variablePattern.MatchString(s) {
		return s, nil
	}
	var firstErr error
	out := variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := variablePattern.FindStringSubmatch(match)[1]
		val, ok := ctx.Variables[name]
		if !ok {
			firstErr = orcherr.Newf(orcherr.ValidationError, "reference to undefined variable %q", name)
			return match
		}
		return stringify(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// resolveStepRef resolves "step:<id>" or "step:<id>.<dotted.path>" against
// ctx.Results. The referenced step must have succeeded; dotted path segments
// index maps by key and arrays by integer index.
func resolveStepRef(stepID, path string, ctx ExecutionContext) (any, error) {
	result, ok := ctx.Results[stepID]
	if !ok {
		return nil, orcherr.Newf(orcherr.ValidationError, "reference to unknown step %q", stepID)
	}
	if result.State != StateSucceeded {
		return nil, orcherr.Newf(orcherr.ValidationError, "reference to step %q which has not succeeded (state %s)", stepID, result.State)
	}

	var value any
	if err := json.Unmarshal(result.Value, &value); err != nil {
		return nil, orcherr.Newf(orcherr.ValidationError, "step %q result is not decodable JSON: %v", stepID, err)
	}
	if path == "" {
		return value, nil
	}

	for _, segment := range strings.Split(path, ".") {
		switch node := value.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, orcherr.Newf(orcherr.ValidationError, "step %q has no field %q at path %q", stepID, segment, path)
			}
			value = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, orcherr.Newf(orcherr.ValidationError, "step %q has no index %q at path %q", stepID, segment, path)
			}
			value = node[idx]
		default:
			return nil, orcherr.Newf(orcherr.ValidationError, "step %q.%s does not resolve: %q is not an object or array", stepID, path, segment)
		}
	}
	return value, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
