package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goplan/orchestrator/orcherr"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// containsControlChar reports whether s contains a C0 or C1 control
// character other than \n or \t, the signature of a template crafted to
// exploit a downstream prompt parser.
func containsControlChar(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\t' {
			continue
		}
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return true
		}
	}
	return false
}

// renderTemplate substitutes {{key}} placeholders in template from args.
// It rejects templates or values containing control-character sequences
// with a SecurityViolation, and an absent key with a ValidationError
// (spec's TemplateError, folded into the ValidationError kind since no
// argument resolution failure is ever retried).
func renderTemplate(template string, args map[string]any) (string, error) {
	if containsControlChar(template) {
		return "", orcherr.New(orcherr.SecurityViolation, "template contains forbidden control characters")
	}

	var missing string
	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if missing != "" {
			return match
		}
		key := placeholderPattern.FindStringSubmatch(match)[1]
		val, ok := args[key]
		if !ok {
			missing = key
			return match
		}
		s := fmt.Sprintf("%v", val)
		if containsControlChar(s) {
			missing = key
			return match
		}
		return s
	})
	if missing != "" {
		if _, ok := args[missing]; ok {
			return "", orcherr.Newf(orcherr.SecurityViolation, "template argument %q contains forbidden control characters", missing)
		}
		return "", orcherr.Newf(orcherr.ValidationError, "template references undefined argument %q", missing)
	}
	return rendered, nil
}

// redactSensitive is a best-effort redaction pass over argument values: it
// returns a copy of args with string values masked wherever they match the
// same sensitive-data patterns the sandbox's data filter uses. Dispatch does
// not call it; idempotency keys are computed from the raw arguments.
func redactSensitive(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		out[k] = redactString(s)
	}
	return out
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`),                    // email
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                       // SSN
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),                     // credit card
	regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`),                 // IPv4
	regexp.MustCompile(`\b(?:\+?\d{1,2}[ -]?)?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`), // phone
}

func redactString(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string { return strings.Repeat("*", len(m)) })
	}
	return s
}
