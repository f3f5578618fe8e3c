package plan

import (
	"encoding/json"
	"strings"
	"text/template"

	"github.com/goplan/orchestrator/orcherr"
)

// synthesisFuncs mirrors the teacher's CompileAgentToolTemplates default
// helper set: a JSON marshaler and a string joiner, the two helpers a
// synthesis prompt commonly needs to render step results.
var synthesisFuncs = template.FuncMap{
	"tojson": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"join": strings.Join,
}

// renderSynthesis compiles and executes prompt against ctx with
// missingkey=error, so a template referencing an unresolved field fails
// loudly rather than rendering "<no value>".
func renderSynthesis(prompt string, ctx ExecutionContext) (string, error) {
	tmpl, err := template.New("synthesis").Funcs(synthesisFuncs).Option("missingkey=error").Parse(prompt)
	if err != nil {
		return "", orcherr.Newf(orcherr.ValidationError, "invalid synthesis template: %v", err)
	}

	data := synthesisData(ctx)
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", orcherr.Newf(orcherr.ValidationError, "synthesis template execution failed: %v", err)
	}
	return out.String(), nil
}

// synthesisData projects an ExecutionContext into the shape a synthesis
// template references: .Variables and .Results, with each step's result
// decoded from its raw JSON so dotted-field access and tojson both work.
func synthesisData(ctx ExecutionContext) map[string]any {
	results := make(map[string]any, len(ctx.Results))
	for id, r := range ctx.Results {
		entry := map[string]any{"state": string(r.State)}
		if len(r.Value) > 0 {
			var v any
			if err := json.Unmarshal(r.Value, &v); err == nil {
				entry["value"] = v
			}
		}
		if r.ErrMessage != "" {
			entry["error"] = r.ErrMessage
		}
		results[id] = entry
	}
	return map[string]any{
		"Variables": ctx.Variables,
		"Results":   results,
	}
}
