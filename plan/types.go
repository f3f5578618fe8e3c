// Package plan implements the plan executor: a DAG scheduler that resolves
// step dependencies, substitutes inter-step references, and enforces
// per-step timeouts, retries, and partial-failure semantics.
package plan

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	// RetryPolicy is a step's declared retry behavior.
	RetryPolicy struct {
		// MaxAttempts is the total number of attempts including the first,
		// defaulting to 1 (no retry) when unset.
		MaxAttempts int `json:"max_attempts,omitempty"`
		// BackoffMS is the base delay between attempts in milliseconds.
		BackoffMS int `json:"backoff_ms,omitempty"`
	}

	// Step is one node of a Plan's DAG: a tool invocation whose input may
	// reference other steps' results or plan-level variables.
	Step struct {
		// ID is unique within the owning Plan.
		ID string `json:"id"`
		// Tool is the name of a tool that must resolve in the active catalog.
		Tool string `json:"tool"`
		// Input is the step's argument tree, prior to reference substitution.
		Input map[string]any `json:"input"`
		// DependsOn lists step ids that must succeed before this step is
		// eligible to run. When empty, dependencies are inferred from
		// step:<id> references found in Input.
		DependsOn []string `json:"depends_on,omitempty"`
		// Retry is this step's retry policy. A zero value means no retries.
		Retry *RetryPolicy `json:"retry,omitempty"`
		// TimeoutMS overrides the default per-step timeout (30s) when set.
		TimeoutMS int `json:"timeout_ms,omitempty"`
	}

	// Synthesis describes the optional final-answer template rendered once
	// every step has reached a terminal state.
	Synthesis struct {
		PromptTemplate string `json:"prompt_template"`
	}

	// Plan is an identifier, an ordered list of Steps, and an optional
	// synthesis template. Step identifiers must be unique and the step
	// dependency graph must be acyclic.
	Plan struct {
		RequestID      string     `json:"request_id"`
		Steps          []Step     `json:"steps"`
		FinalSynthesis *Synthesis `json:"final_synthesis,omitempty"`
	}

	// StepState is a step's position in its state machine:
	// pending -> ready -> running -> {succeeded, failed, timed_out}, with
	// skipped reachable from pending/ready when a dependency fails.
	// Transitions are monotonic.
	StepState string

	// Outcome is the plan-level result classification.
	Outcome string

	// StepResult is one step's terminal record: its state, value (on
	// success), classified error (on failure/timeout/skip), and the
	// resolved input it was actually invoked with.
	StepResult struct {
		StepID        string          `json:"step_id"`
		State         StepState       `json:"state"`
		Value         json.RawMessage `json:"value,omitempty"`
		Err           error           `json:"-"`
		ErrKind       string          `json:"err_kind,omitempty"`
		ErrMessage    string          `json:"err_message,omitempty"`
		SkippedDueTo  string          `json:"skipped_due_to,omitempty"`
		Attempts      int             `json:"attempts,omitempty"`
		Cost          float64         `json:"cost,omitempty"`
		Duration      time.Duration   `json:"duration,omitempty"`
		ResolvedInput map[string]any  `json:"resolved_input,omitempty"`
		RetryHint     *RetryHint      `json:"retry_hint,omitempty"`
	}

	// RetryHint is a machine-readable correction signal attached to a
	// StepResult that failed with a schema-shaped ValidationError, so a
	// caller (or the synthesis template) can act on it without parsing
	// ErrMessage.
	RetryHint struct {
		Reason        string          `json:"reason"`
		Tool          string          `json:"tool"`
		MissingFields []string        `json:"missing_fields,omitempty"`
		Example       json.RawMessage `json:"example,omitempty"`
	}

	// ExecutionContext is the mutable store of step results and variables
	// maintained across one plan execution. Reads performed by
	// reference-resolvers see an immutable snapshot; only the executor
	// mutates it.
	ExecutionContext struct {
		Variables map[string]any        `json:"variables,omitempty"`
		Results   map[string]StepResult `json:"results"`
		Cost      float64                `json:"cost"`
		Elapsed   time.Duration          `json:"elapsed"`
		Depth     int                    `json:"depth"`
	}

	// Result is the full outcome of executing a Plan.
	Result struct {
		RequestID string           `json:"request_id"`
		Status    Outcome          `json:"status"`
		Context   ExecutionContext `json:"context"`
		Synthesis string           `json:"synthesis,omitempty"`
	}
)

// NewRequestID generates a fresh identifier for a Plan whose caller did not
// supply one. Execute calls this automatically when Plan.RequestID is empty.
func NewRequestID() string { return uuid.NewString() }

const (
	StatePending   StepState = "pending"
	StateReady     StepState = "ready"
	StateRunning   StepState = "running"
	StateSucceeded StepState = "succeeded"
	StateFailed    StepState = "failed"
	StateTimedOut  StepState = "timed_out"
	StateSkipped   StepState = "skipped"
)

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// DefaultStepTimeout is applied when a step omits TimeoutMS.
const DefaultStepTimeout = 30 * time.Second

// newExecutionContext builds an empty context seeded with the given
// variables, ready for one plan execution.
func newExecutionContext(variables map[string]any) ExecutionContext {
	if variables == nil {
		variables = map[string]any{}
	}
	return ExecutionContext{
		Variables: variables,
		Results:   make(map[string]StepResult),
	}
}
