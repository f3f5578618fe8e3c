package registry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goplan/orchestrator/telemetry"
)

// OperationType identifies the type of registry operation for observability.
type OperationType string

const (
	OpRegister  OperationType = "register"
	OpGet       OperationType = "get"
	OpList      OperationType = "list"
	OpSnapshot  OperationType = "snapshot"
	OpSearch    OperationType = "search"
	OpCacheGet  OperationType = "cache_get"
	OpCacheSet  OperationType = "cache_set"
)

// OperationOutcome represents the result of a registry operation.
type OperationOutcome string

const (
	OutcomeSuccess   OperationOutcome = "success"
	OutcomeError     OperationOutcome = "error"
	OutcomeCacheHit  OperationOutcome = "cache_hit"
	OutcomeCacheMiss OperationOutcome = "cache_miss"
)

// OperationEvent is a structured log/metric event for a registry operation.
type OperationEvent struct {
	Operation   OperationType
	Tool        string
	Query       string
	Duration    time.Duration
	Outcome     OperationOutcome
	Error       string
	ResultCount int
}

// Observability provides structured logging, metrics, and tracing for
// registry operations, mirroring the pattern used across the orchestrator's
// other packages so every component emits consistent telemetry shape.
type Observability struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// NewObservability creates an Observability instance, defaulting any nil
// component to its no-op implementation.
func NewObservability(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Observability {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Observability{logger: logger, metrics: metrics, tracer: tracer}
}

// LogOperation emits a structured log event for a registry operation.
func (o *Observability) LogOperation(ctx context.Context, event OperationEvent) {
	keyvals := []any{
		"operation", string(event.Operation),
		"outcome", string(event.Outcome),
		"duration_ms", event.Duration.Milliseconds(),
	}
	if event.Tool != "" {
		keyvals = append(keyvals, "tool", event.Tool)
	}
	if event.Query != "" {
		keyvals = append(keyvals, "query", event.Query)
	}
	if event.ResultCount > 0 {
		keyvals = append(keyvals, "result_count", event.ResultCount)
	}
	if event.Error != "" {
		keyvals = append(keyvals, "error", event.Error)
	}

	switch event.Outcome {
	case OutcomeError:
		o.logger.Error(ctx, "registry operation failed", keyvals...)
	default:
		o.logger.Info(ctx, "registry operation completed", keyvals...)
	}
}

// RecordOperationMetrics records counters, timers, and gauges for a registry
// operation.
func (o *Observability) RecordOperationMetrics(event OperationEvent) {
	tags := []string{"operation", string(event.Operation), "outcome", string(event.Outcome)}

	o.metrics.RecordTimer("registry.operation.duration", event.Duration, tags...)
	switch event.Outcome {
	case OutcomeSuccess:
		o.metrics.IncCounter("registry.operation.success", 1, tags...)
	case OutcomeError:
		o.metrics.IncCounter("registry.operation.error", 1, tags...)
	case OutcomeCacheHit:
		o.metrics.IncCounter("registry.cache.hit", 1, tags...)
	case OutcomeCacheMiss:
		o.metrics.IncCounter("registry.cache.miss", 1, tags...)
	}
	if event.ResultCount > 0 {
		o.metrics.RecordGauge("registry.operation.result_count", float64(event.ResultCount), tags...)
	}
}

// StartSpan starts a new trace span for a registry operation.
func (o *Observability) StartSpan(ctx context.Context, op OperationType, attrs ...attribute.KeyValue) (context.Context, telemetry.Span) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	}
	return o.tracer.Start(ctx, "registry."+string(op), opts...)
}

// EndSpan ends a trace span with the operation outcome.
func (o *Observability) EndSpan(span telemetry.Span, outcome OperationOutcome, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(outcome))
	}
	span.End()
}
