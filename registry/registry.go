package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/goplan/orchestrator/orcherr"
	"github.com/goplan/orchestrator/telemetry"
)

type (
	// Registry is the in-process tool catalog. It owns registration,
	// lookup, listing, planner-facing snapshots, and parameter validation.
	// A single Registry is shared across plan executions via SystemContext.
	Registry struct {
		mu    sync.RWMutex
		tools map[string]*entry

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		obs     *Observability
		cache   Cache
		source  string
	}

	entry struct {
		def      *ToolDefinition
		compiled *jsonschema.Schema
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithLogger sets the registry's logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithMetrics sets the registry's metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithTracer sets the registry's tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Registry) { r.tracer = t } }

// WithCache installs a Cache the registry consults from CachedSnapshot
// before recomputing the catalog, and invalidates on every Register.
func WithCache(c Cache) Option { return func(r *Registry) { r.cache = c } }

// WithSource tags every snapshot this Registry produces with name, letting a
// downstream consumer holding several catalogs tell which one a snapshot
// came from.
func WithSource(name string) Option { return func(r *Registry) { r.source = name } }

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{tools: make(map[string]*entry)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.obs = NewObservability(r.logger, r.metrics, r.tracer)
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	return r
}

// Register appends a tool definition to the catalog. It computes the
// definition's ContentHash, compiles its InputSchema (synthesizing one from
// Parameters when InputSchema is empty), and rejects definitions whose
// schema does not compile. The catalog is append-only: Register fails with a
// DuplicateName error if def.Name is already present, since the only way to
// replace or remove a tool is to build a new Registry.
func (r *Registry) Register(ctx context.Context, def *ToolDefinition) error {
	start := time.Now()
	ctx, span := r.obs.StartSpan(ctx, OpRegister)
	var outcome OperationOutcome
	var opErr error
	defer func() {
		r.obs.LogOperation(ctx, OperationEvent{Operation: OpRegister, Tool: def.Name, Duration: time.Since(start), Outcome: outcome, Error: errString(opErr)})
		r.obs.RecordOperationMetrics(OperationEvent{Operation: OpRegister, Outcome: outcome, Duration: time.Since(start)})
		r.obs.EndSpan(span, outcome, opErr)
	}()

	if def == nil || def.Name == "" {
		outcome = OutcomeError
		opErr = orcherr.New(orcherr.ValidationError, "tool definition must have a name")
		return opErr
	}

	r.mu.RLock()
	_, exists := r.tools[def.Name]
	r.mu.RUnlock()
	if exists {
		outcome = OutcomeError
		opErr = orcherr.Newf(orcherr.DuplicateName, "tool %q already registered", def.Name)
		return opErr
	}

	schemaDoc, err := buildInputSchema(def)
	if err != nil {
		outcome = OutcomeError
		opErr = orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("tool %s: invalid parameter schema", def.Name), err)
		return opErr
	}
	compiled, err := compileSchema(def.Name, schemaDoc)
	if err != nil {
		outcome = OutcomeError
		opErr = orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("tool %s: schema does not compile", def.Name), err)
		return opErr
	}
	def.InputSchema = schemaDoc
	def.Kind = resolveKind(def)
	def.ContentHash = contentHash(def.Name, def.Kind, def.Description, def.Parameters)
	def.RegisteredAt = time.Now()

	r.mu.Lock()
	if _, ok := r.tools[def.Name]; ok {
		r.mu.Unlock()
		outcome = OutcomeError
		opErr = orcherr.Newf(orcherr.DuplicateName, "tool %q already registered", def.Name)
		return opErr
	}
	r.tools[def.Name] = &entry{def: def, compiled: compiled}
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.Invalidate(ctx)
	}

	outcome = OutcomeSuccess
	return nil
}

// Get returns the tool definition for name, or a NotFound *orcherr.Error.
func (r *Registry) Get(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, orcherr.Newf(orcherr.NotFound, "tool %q not registered", name)
	}
	return e.def, nil
}

// ListFilter narrows List to definitions matching every non-zero field. A
// zero-value ListFilter matches everything.
type ListFilter struct {
	Kind   ToolKind
	Domain string
	Plugin string
}

func (f ListFilter) matches(def *ToolDefinition) bool {
	if f.Kind != "" && def.Kind != f.Kind {
		return false
	}
	if f.Domain != "" && def.Domain != f.Domain {
		return false
	}
	if f.Plugin != "" && def.Plugin != f.Plugin {
		return false
	}
	return true
}

// List returns the registered tool definitions matching filter, sorted by
// name for deterministic output. An empty ListFilter returns every tool.
func (r *Registry) List(filter ListFilter) []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		if filter.matches(e.def) {
			out = append(out, e.def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns an immutable, timestamped view of the full catalog,
// tagged with the registry's source (see WithSource) and a content hash over
// every tool's own ContentHash, suitable for caching and for feeding the
// search index.
func (r *Registry) Snapshot() ToolCatalog {
	tools := r.List(ListFilter{})
	return ToolCatalog{
		Tools:       tools,
		Source:      r.source,
		ContentHash: catalogContentHash(tools),
		Generated:   time.Now(),
	}
}

// CachedSnapshot returns the catalog through the registry's Cache when one
// is configured, recomputing and repopulating it on a miss. Without a
// configured cache it behaves exactly like Snapshot.
func (r *Registry) CachedSnapshot(ctx context.Context) ToolCatalog {
	start := time.Now()
	if r.cache == nil {
		return r.Snapshot()
	}
	if catalog, ok := r.cache.Get(ctx); ok {
		r.obs.LogOperation(ctx, OperationEvent{Operation: OpCacheGet, Outcome: OutcomeCacheHit, Duration: time.Since(start), ResultCount: len(catalog.Tools)})
		r.obs.RecordOperationMetrics(OperationEvent{Operation: OpCacheGet, Outcome: OutcomeCacheHit, Duration: time.Since(start)})
		return catalog
	}
	r.obs.LogOperation(ctx, OperationEvent{Operation: OpCacheGet, Outcome: OutcomeCacheMiss, Duration: time.Since(start)})
	r.obs.RecordOperationMetrics(OperationEvent{Operation: OpCacheGet, Outcome: OutcomeCacheMiss, Duration: time.Since(start)})
	catalog := r.Snapshot()
	r.cache.Set(ctx, catalog)
	return catalog
}

// ValidateArgs validates a tool's raw JSON arguments against its compiled
// input schema, returning a ValidationError describing every violation.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return orcherr.Newf(orcherr.NotFound, "tool %q not registered", name)
	}
	if e.compiled == nil {
		return nil
	}
	var payload any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &payload); err != nil {
			return orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("tool %s: arguments are not valid JSON", name), err)
		}
	} else {
		payload = map[string]any{}
	}
	if err := e.compiled.Validate(payload); err != nil {
		return orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("tool %s: arguments failed schema validation", name), err)
	}
	return nil
}

// DetailLevel controls how much of a ToolDefinition ToPlannerFormat projects.
type DetailLevel string

const (
	// DetailName projects only the tool's identifier.
	DetailName DetailLevel = "name"
	// DetailSummary adds description and parameter names.
	DetailSummary DetailLevel = "summary"
	// DetailFull adds full parameter schemas, return schema, and examples
	// (when PlannerFormatOptions.IncludeExamples is set).
	DetailFull DetailLevel = "full"
)

// PlannerFormatOptions configures ToPlannerFormat's projection. A zero value
// is equivalent to DetailSummary with examples omitted.
type PlannerFormatOptions struct {
	DetailLevel     DetailLevel
	IncludeExamples bool
}

// ToPlannerFormat renders the catalog into a provider-neutral, planner-facing
// representation. DetailLevel controls projection: "name" returns only the
// identifier; "summary" (the default) adds description and parameter names;
// "full" adds parameter schemas, return schema, and, when IncludeExamples is
// set, examples. Schema internals and bookkeeping fields (ContentHash,
// RegisteredAt) are never included: the planner has no use for how the
// catalog maintains itself.
func (r *Registry) ToPlannerFormat(opts PlannerFormatOptions) []PlannerTool {
	detail := opts.DetailLevel
	if detail == "" {
		detail = DetailSummary
	}

	tools := r.List(ListFilter{})
	out := make([]PlannerTool, 0, len(tools))
	for _, t := range tools {
		pt := PlannerTool{Name: t.Name}
		if detail == DetailName {
			out = append(out, pt)
			continue
		}

		pt.Description = t.Description
		pt.Tags = t.Tags
		if detail == DetailSummary {
			pt.ParameterNames = parameterNames(t.Parameters)
			out = append(out, pt)
			continue
		}

		pt.Parameters = t.Parameters
		pt.ReturnSchema = t.ReturnSchema
		if opts.IncludeExamples {
			pt.Examples = t.Examples
		}
		out = append(out, pt)
	}
	return out
}

func parameterNames(params []ParameterDescriptor) []string {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

// PlannerTool is the renderable shape a planner consumes when composing a
// plan. Which fields are populated depends on the DetailLevel requested of
// ToPlannerFormat.
type PlannerTool struct {
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Tags           []string              `json:"tags,omitempty"`
	ParameterNames []string              `json:"parameter_names,omitempty"`
	Parameters     []ParameterDescriptor `json:"parameters,omitempty"`
	ReturnSchema   json.RawMessage       `json:"return_schema,omitempty"`
	Examples       []Example             `json:"examples,omitempty"`
}

// buildInputSchema returns def.InputSchema unchanged if provided, otherwise
// synthesizes a JSON Schema document from Parameters.
func buildInputSchema(def *ToolDefinition) (json.RawMessage, error) {
	if len(def.InputSchema) > 0 {
		return def.InputSchema, nil
	}
	properties := make(map[string]any, len(def.Parameters))
	var required []string
	for _, p := range def.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

func compileSchema(name string, doc json.RawMessage) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(doc, &schemaDoc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	resource := "tool://" + name + ".json"
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
