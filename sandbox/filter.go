package sandbox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
)

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`),
	regexp.MustCompile(`\b(?:\+?\d{1,2}[ -]?)?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`),
}

// redactString replaces every sensitive-pattern match in s with asterisks of
// the same length, preserving shape for log readability without leaking the
// value.
func redactString(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string {
			out := make([]byte, len(m))
			for i := range out {
				out[i] = '*'
			}
			return string(out)
		})
	}
	return s
}

// redactJSON walks a JSON document's string leaves and redacts sensitive
// patterns before the payload reaches a call-log entry. Non-JSON or
// unparseable input is returned unchanged (it wasn't going to carry a
// recognizable pattern anyway).
func redactJSON(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	redacted := redactValue(v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return redactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = redactValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = redactValue(child)
		}
		return out
	default:
		return v
	}
}

// randomKey generates a process-random HMAC key for sessions that were not
// given a caller-supplied tokenization secret, making their tokens
// non-reversible by design: nothing outside this process run can recompute
// them.
func randomKey() []byte {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return buf
}

// tokenize returns a deterministic, non-reversible (without secret) token
// for s: HMAC-SHA256 keyed by secret, truncated to a readable prefix. Equal
// inputs under the same secret always tokenize identically, letting callers
// correlate tokenized values across a session without recovering the
// original.
func tokenize(secret []byte, s string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(s))
	return "tok_" + hex.EncodeToString(mac.Sum(nil))[:32]
}
