package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/goplan/orchestrator/orcherr"
)

// toStarlark converts a decoded-JSON Go value (string, float64, bool, nil,
// []any, map[string]any — the shapes encoding/json produces) into a
// starlark.Value a fragment can operate on.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case float64:
		return starlark.Float(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T for starlark conversion", v)
	}
}

// fromStarlark converts a starlark.Value produced by a fragment (a tool
// argument, a gather result, the final `output` binding) back into a plain
// Go value using the same JSON-decoded shapes toStarlark accepts, so it
// round-trips through encoding/json cleanly.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		// Outside int64 range: preserve the exact value as a decimal string
		// rather than lose precision through a float64 round-trip.
		return val.BigInt().String(), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.Tuple:
		out := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			e, err := fromStarlark(val[i])
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case *starlark.List:
		out := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			e, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, orcherr.New(orcherr.ValidationError, "sandbox output dict keys must be strings")
			}
			e, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = e
		}
		return out, nil
	default:
		return nil, orcherr.Newf(orcherr.ValidationError, "unsupported starlark value of type %s", v.Type())
	}
}

// kwargsToMap decodes a builtin's keyword arguments into a plain argument
// map. Tool bindings accept keyword arguments exclusively, mirroring how a
// planner-emitted call reads (tool_name(arg=value, ...)).
func kwargsToMap(kwargs []starlark.Tuple) (map[string]any, error) {
	out := make(map[string]any, len(kwargs))
	for _, kv := range kwargs {
		name, ok := kv[0].(starlark.String)
		if !ok {
			return nil, orcherr.New(orcherr.ValidationError, "keyword argument name must be a string")
		}
		v, err := fromStarlark(kv[1])
		if err != nil {
			return nil, err
		}
		out[string(name)] = v
	}
	return out, nil
}
