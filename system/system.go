// Package system assembles the orchestrator's dependency-injection root: a
// single Context holding the tool catalog, the search engine, dispatcher
// guardrail defaults, and the telemetry triple, constructed once at process
// start. The plan executor, dispatcher, sandbox, and invoke constructors do
// not take a Context; callers build them from its fields. There is no
// package-level singleton state; every dependency arrives through New or a
// functional Option.
package system

import (
	"github.com/goplan/orchestrator/dispatch"
	"github.com/goplan/orchestrator/registry"
	"github.com/goplan/orchestrator/registry/search"
	"github.com/goplan/orchestrator/telemetry"
)

// Context is the explicit dependency root shared across a running
// orchestrator. It is a plain struct; callers read its fields directly
// rather than going through accessor methods.
type Context struct {
	// Catalog is the tool registry.
	Catalog *registry.Registry
	// Search is the hybrid discovery engine over Catalog.
	Search *search.Searcher
	// DispatchGuardrails are the default guardrail bundle for sub-agent
	// dispatches; callers pass them to dispatch.Dispatcher.Dispatch.
	DispatchGuardrails dispatch.Guardrails
	// Logger, Metrics, and Tracer are the ambient telemetry triple, shared
	// by every component constructed against this Context.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Option configures a Context during New.
type Option func(*Context)

// WithSearch installs the hybrid search engine.
func WithSearch(s *search.Searcher) Option { return func(c *Context) { c.Search = s } }

// WithDispatchGuardrails overrides the default guardrail bundle. Without
// this, New uses dispatch.DefaultGuardrails().
func WithDispatchGuardrails(g dispatch.Guardrails) Option {
	return func(c *Context) { c.DispatchGuardrails = g }
}

// WithLogger sets the shared logger.
func WithLogger(l telemetry.Logger) Option { return func(c *Context) { c.Logger = l } }

// WithMetrics sets the shared metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(c *Context) { c.Metrics = m } }

// WithTracer sets the shared tracer.
func WithTracer(t telemetry.Tracer) Option { return func(c *Context) { c.Tracer = t } }

// New constructs a Context around catalog. Telemetry defaults to no-ops and
// DispatchGuardrails defaults to dispatch.DefaultGuardrails() when not
// overridden by an Option.
func New(catalog *registry.Registry, opts ...Option) *Context {
	c := &Context{
		Catalog:            catalog,
		DispatchGuardrails: dispatch.DefaultGuardrails(),
		Logger:             telemetry.NewNoopLogger(),
		Metrics:            telemetry.NewNoopMetrics(),
		Tracer:             telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}
