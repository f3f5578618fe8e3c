package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goplan/orchestrator/orcherr"
)

// CallLogEntry records one tool invocation made by a running fragment: the
// tool name, its (sensitivity-redacted) argument payload, the size of the
// result, when it happened, and which synthetic caller made it (the root
// fragment, or one of gather's concurrent callees).
type CallLogEntry struct {
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args"`
	ResultSize int             `json:"result_size"`
	Timestamp  time.Time       `json:"timestamp"`
	Caller     string          `json:"caller"`
	Err        string          `json:"err,omitempty"`
}

// Session is the per-run mutable accounting shared by every tool builtin and
// every gather-spawned goroutine bound into one fragment's execution: the
// call count is updated atomically, and the call log and caller sequence
// are guarded by mu, since gather fans invocations out across goroutines.
type Session struct {
	ctx context.Context

	maxCalls   int64
	callCount  int64
	start      time.Time
	maxElapsed time.Duration

	mu        sync.Mutex
	log       []CallLogEntry
	callerSeq int

	secret []byte
}

// newSession constructs a Session bound to ctx, enforcing maxCalls total
// tool invocations and maxElapsed total wall time. secret seeds the
// tokenize builtin's HMAC key; when empty a process-random key is
// generated, making tokens non-reversible by design.
func newSession(ctx context.Context, maxCalls int, maxElapsed time.Duration, secret []byte) *Session {
	return &Session{
		ctx:        ctx,
		maxCalls:   int64(maxCalls),
		start:      time.Now(),
		maxElapsed: maxElapsed,
		secret:     secretOrRandom(secret),
	}
}

// checkBudget increments the call counter and reports BudgetExceeded if
// either the call-count cap or the elapsed wall-clock cap has been
// breached. It is called once per tool invocation, before the invocation
// itself, so a breach never performs the call it would have exceeded.
func (s *Session) checkBudget() error {
	n := atomic.AddInt64(&s.callCount, 1)
	if s.maxCalls > 0 && n > s.maxCalls {
		return orcherr.Newf(orcherr.BudgetExceeded, "sandbox call-count cap (%d) exceeded", s.maxCalls)
	}
	if s.maxElapsed > 0 && time.Since(s.start) > s.maxElapsed {
		return orcherr.Newf(orcherr.BudgetExceeded, "sandbox wall-clock cap (%s) exceeded", s.maxElapsed)
	}
	return nil
}

// remaining returns the time left before the elapsed cap, used to bound an
// individual tool invocation's own context so it cannot outlive the
// session's wall-clock budget. A non-positive maxElapsed means unbounded.
func (s *Session) remaining() time.Duration {
	if s.maxElapsed <= 0 {
		return 0
	}
	left := s.maxElapsed - time.Since(s.start)
	if left <= 0 {
		return time.Millisecond
	}
	return left
}

// nextCallerID returns a synthetic, monotonically increasing caller
// identifier distinguishing calls made by the root fragment ("root") from
// each call made inside one of gather's concurrently spawned callees
// ("gather-1", "gather-2", ...).
func (s *Session) nextCallerID(root bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root {
		return "root"
	}
	s.callerSeq++
	return fmt.Sprintf("gather-%d", s.callerSeq)
}

// recordCall appends a redacted call-log entry. args are recorded with any
// sensitive pattern masked (see filter.go); the result is recorded only by
// its size.
func (s *Session) recordCall(tool string, args json.RawMessage, resultSize int, caller string, err error) {
	entry := CallLogEntry{
		Tool:       tool,
		Args:       redactJSON(args),
		ResultSize: resultSize,
		Timestamp:  time.Now(),
		Caller:     caller,
	}
	if err != nil {
		entry.Err = err.Error()
	}
	s.mu.Lock()
	s.log = append(s.log, entry)
	s.mu.Unlock()
}

// snapshotLog returns a copy of the call log accumulated so far.
func (s *Session) snapshotLog() []CallLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallLogEntry, len(s.log))
	copy(out, s.log)
	return out
}

func secretOrRandom(secret []byte) []byte {
	if len(secret) > 0 {
		return secret
	}
	return randomKey()
}
