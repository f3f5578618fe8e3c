package plan

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/goplan/orchestrator/orcherr"
)

// ExampleProvider is optionally implemented by a StepInvoker that can supply
// a sample payload for a tool, used to enrich a RetryHint beyond what the
// failing error message alone carries.
type ExampleProvider interface {
	Example(tool string) (json.RawMessage, bool)
}

var (
	missingPropertyPattern = regexp.MustCompile(`missing propert(?:y|ies) '([^']+)'`)
	enumViolationPattern   = regexp.MustCompile(`value must be one of`)
)

// buildRetryHint classifies a step's ValidationError into a reason code and,
// where the underlying jsonschema message names them, a missing-field list,
// so a caller doesn't have to parse ErrMessage itself. invoker is consulted
// for an example payload when it implements ExampleProvider.
func buildRetryHint(invoker StepInvoker, tool string, err error) *RetryHint {
	msg := err.Error()
	hint := &RetryHint{Tool: tool}

	switch {
	case missingPropertyPattern.MatchString(msg):
		hint.Reason = "missing_required_field"
		m := missingPropertyPattern.FindStringSubmatch(msg)
		hint.MissingFields = splitFieldList(m[1])
	case enumViolationPattern.MatchString(msg):
		hint.Reason = "invalid_enum_value"
	default:
		hint.Reason = "invalid_arguments"
	}

	if provider, ok := invoker.(ExampleProvider); ok {
		if example, found := provider.Example(tool); found {
			hint.Example = example
		}
	}
	return hint
}

func splitFieldList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, "'")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isSchemaShaped reports whether err is (or wraps) a ValidationError worth
// attaching a RetryHint to, as opposed to a security/budget failure the hint
// format has nothing useful to say about.
func isSchemaShaped(err error) bool {
	var oe *orcherr.Error
	if !errors.As(err, &oe) {
		return false
	}
	return oe.Kind == orcherr.ValidationError
}
