// Package registry implements the tool registry: the catalog of tool
// definitions available to a plan, hybrid discovery over that catalog (see
// the search subpackage), and the planner-facing snapshot format consumed
// when building a plan.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// ToolKind closes the set of ways a registered tool's invocation can be
// carried out. Dispatch selects the kind-specific invoker by switching on
// this value; see the invoke package.
type ToolKind string

const (
	// KindNative is a tool invoked in-process by code compiled into this
	// module.
	KindNative ToolKind = "native"
	// KindRemote is a tool whose invocation is delegated to a remote
	// adapter (see the adapter package).
	KindRemote ToolKind = "remote"
	// KindSandboxedCode is a tool whose implementation is itself a
	// planner-authored code fragment, executed by the sandbox package
	// rather than by a compiled Go function.
	KindSandboxedCode ToolKind = "sandboxed-code"
	// KindSubAgent is a tool backed by a sub-agent dispatch (agent-as-tool).
	KindSubAgent ToolKind = "sub-agent"
)

// InvokeFunc is the terminal shape of a tool invocation as seen by
// Middleware: resolved args in, a raw JSON result/cost/error out. It matches
// invoke.Invoker's own call shape without this package importing invoke.
type InvokeFunc func(ctx context.Context, args map[string]any) (json.RawMessage, float64, error)

// Middleware wraps a tool's invocation with cross-cutting behavior (rate
// limiting, telemetry, redaction) without changing ToolDefinition's
// registered shape. The invoke package applies a non-nil
// ToolDefinition.Decorate around the kind-specific invoker it resolves.
type Middleware func(next InvokeFunc) InvokeFunc

type (
	// Example is a sample (input, output) pair attached to a ToolDefinition,
	// shown to the planner at PlannerFormatOptions.IncludeExamples and
	// offered to a failed step as a RetryHint correction sample.
	Example struct {
		Input  map[string]any  `json:"input"`
		Output json.RawMessage `json:"output,omitempty"`
	}

	// ParameterDescriptor documents a single named input accepted by a tool.
	ParameterDescriptor struct {
		// Name is the parameter identifier as it appears in a step's Args.
		Name string `json:"name"`
		// Type is a JSON Schema primitive or composite type name.
		Type string `json:"type"`
		// Description is a short human-readable explanation shown to the planner.
		Description string `json:"description,omitempty"`
		// Required marks the parameter as mandatory for invocation.
		Required bool `json:"required"`
		// Default records the parameter's documented default value. It is
		// not substituted into a call's arguments when the parameter is
		// omitted.
		Default any `json:"default,omitempty"`
		// Enum restricts the parameter to one of a fixed set of values.
		Enum []any `json:"enum,omitempty"`
	}

	// ToolDefinition is the registry's unit of discoverable, invocable
	// capability. It covers native tools, remote-adapter tools, and
	// sub-agents registered as tools (IsAgentTool).
	ToolDefinition struct {
		// Name is the globally unique tool identifier.
		Name string `json:"name"`
		// Description explains what the tool does, used both by humans and by
		// the search index's lexical/semantic scoring.
		Description string `json:"description"`
		// Tags are free-form labels used for filtering and forced routing.
		Tags []string `json:"tags,omitempty"`
		// Parameters describes the tool's input contract.
		Parameters []ParameterDescriptor `json:"parameters,omitempty"`
		// InputSchema is the compiled JSON Schema document for Parameters,
		// generated at registration time and used to validate step Args before
		// invocation.
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
		// ReturnSchema optionally documents the shape of a successful result,
		// surfaced to the planner only at PlannerFormatOptions detail "full".
		ReturnSchema json.RawMessage `json:"return_schema,omitempty"`
		// Domain tags the business area a tool belongs to (e.g. "finance",
		// "hr"), filterable via ListFilter and distinct from Tags, which are
		// free-form and may carry several per tool.
		Domain string `json:"domain,omitempty"`
		// Plugin names the source that registered this definition (a plugin,
		// decorator, or YAML loader), filterable via ListFilter.
		Plugin string `json:"plugin,omitempty"`
		// Examples are sample (input, output) pairs surfaced to the planner at
		// detail level "full" with PlannerFormatOptions.IncludeExamples, and
		// offered as a RetryHint correction sample on a failed step.
		Examples []Example `json:"examples,omitempty"`
		// Kind selects which invoker handles this tool's calls. Register
		// derives it from IsAgentTool/Remote/Code when left zero, defaulting
		// to KindNative.
		Kind ToolKind `json:"kind"`
		// IsAgentTool marks a tool backed by a sub-agent dispatch rather than a
		// direct invocation. Implies Kind == KindSubAgent.
		IsAgentTool bool `json:"is_agent_tool,omitempty"`
		// AgentName names the sub-agent configuration this tool dispatches to.
		// Only meaningful when IsAgentTool is true.
		AgentName string `json:"agent_name,omitempty"`
		// PromptTemplate is rendered with a step's Args (via {{arg_name}}
		// placeholders) to produce the sub-agent's prompt. Only meaningful
		// when Kind == KindSubAgent.
		PromptTemplate string `json:"prompt_template,omitempty"`
		// Remote marks a tool whose invocation is delegated to a remote
		// adapter (see the adapter package) rather than executed in-process.
		// Implies Kind == KindRemote.
		Remote bool `json:"remote,omitempty"`
		// Code holds a planner-authored source fragment executed by the
		// sandbox package on every call. Only meaningful when Kind ==
		// KindSandboxedCode.
		Code string `json:"code,omitempty"`
		// Decorate, when set, wraps this tool's invocation with middleware
		// applied by the invoke package around the kind-specific invoker it
		// resolves (rate limiting, telemetry, redaction). Not serializable;
		// set in process, never loaded from a catalog snapshot.
		Decorate Middleware `json:"-"`
		// Meta carries implementation-defined metadata (paging hints, result
		// reminders, confirmation requirements) that does not affect routing.
		Meta ToolMeta `json:"meta,omitempty"`
		// RegisteredAt records when the definition was added to the catalog.
		RegisteredAt time.Time `json:"registered_at"`
		// ContentHash is a stable SHA-256 digest of the definition's semantic
		// content (name, kind, description, parameters), recomputed on every Register call
		// and used to detect accidental redefinition and as a
		// cache-invalidation key for the search index.
		ContentHash string `json:"content_hash"`
	}

	// ToolMeta mirrors the kind of auxiliary routing metadata a registered
	// tool may carry without it affecting the core invocation contract.
	ToolMeta struct {
		// Paging describes cursor-based pagination support, if any.
		Paging *PagingSpec `json:"paging,omitempty"`
		// BoundedResult records a size cap for a tool's result. The plan
		// executor does not read it; results enter a plan's execution
		// context at full size.
		BoundedResult int `json:"bounded_result,omitempty"`
		// RequiresConfirmation marks tools whose invocation a plan must gate
		// behind an explicit confirmation step.
		RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
		// SandboxTools lists the catalog tool names a KindSandboxedCode tool's
		// fragment may call. Ignored for other kinds.
		SandboxTools []string `json:"sandbox_tools,omitempty"`
	}

	// PagingSpec documents a tool's pagination contract.
	PagingSpec struct {
		CursorParam string `json:"cursor_param"`
		PageSizeMax int    `json:"page_size_max,omitempty"`
	}

	// ToolCatalog is a read-only, ordered view over a set of registered
	// tools, as returned by Snapshot. ContentHash is a digest over each
	// tool's name and own ContentHash, in name order, usable as a
	// cache key by downstream components (search, plan) without them
	// recomputing it.
	ToolCatalog struct {
		Tools       []*ToolDefinition `json:"tools"`
		Source      string            `json:"source,omitempty"`
		ContentHash string            `json:"content_hash"`
		Generated   time.Time         `json:"generated"`
	}
)

// catalogContentHash digests a catalog's tools by folding each tool's own
// ContentHash into a single SHA-256 sum, sorted by name so tool registration
// order never changes the result.
func catalogContentHash(tools []*ToolDefinition) string {
	sorted := make([]*ToolDefinition, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, t := range sorted {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		h.Write([]byte(t.ContentHash))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// contentHash computes the stable digest used for ToolDefinition.ContentHash.
// It hashes name, kind, description, and a canonical (name-sorted) rendering
// of parameters so that field reordering does not change the hash.
func contentHash(name string, kind ToolKind, description string, params []ParameterDescriptor) string {
	sorted := make([]ParameterDescriptor, len(params))
	copy(sorted, params)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(description))
	for _, p := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(p.Name))
		h.Write([]byte{0})
		h.Write([]byte(p.Type))
		if p.Required {
			h.Write([]byte{1})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// resolveKind returns def.Kind if already set, otherwise derives it from the
// legacy boolean routing flags, defaulting to KindNative.
func resolveKind(def *ToolDefinition) ToolKind {
	switch {
	case def.Kind != "":
		return def.Kind
	case def.IsAgentTool:
		return KindSubAgent
	case def.Remote:
		return KindRemote
	case def.Code != "":
		return KindSandboxedCode
	default:
		return KindNative
	}
}
