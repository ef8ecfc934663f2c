package execution

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolkov/gqlscope/internal/collector"
	"github.com/avolkov/gqlscope/internal/filter"
	"github.com/avolkov/gqlscope/internal/graphql/fieldtrace"
	"github.com/avolkov/gqlscope/internal/graphql/fingerprint"
	gqlmetrics "github.com/avolkov/gqlscope/internal/graphql/metrics"
	"github.com/avolkov/gqlscope/internal/graphql/nplusone"
	"github.com/avolkov/gqlscope/internal/observability"
	"github.com/avolkov/gqlscope/internal/sanitize"
)

// Coordinator defaults.
const (
	DefaultMaxQuerySize    = 10_000
	DefaultMaxResponseSize = 256 * 1024
)

// Config configures per-operation instrumentation.
type Config struct {
	// MaxQuerySize truncates stored query text.
	MaxQuerySize int `yaml:"maxQuerySize"`

	// RecommendedDepth is the depth above which warnings are attached.
	RecommendedDepth int `yaml:"recommendedDepth"`

	// NPlusOneThreshold is the resolver call count that triggers a warning.
	NPlusOneThreshold int `yaml:"nPlusOneThreshold"`

	// MaxResponseSize gates response capture; larger responses are
	// replaced with a size marker.
	MaxResponseSize int `yaml:"maxResponseSize"`

	// SensitivePatterns are the key patterns masked in variables and
	// responses. Empty uses the sanitizer defaults.
	SensitivePatterns []string `yaml:"sensitivePatterns"`

	// Trace configures the per-operation field tracer.
	Trace fieldtrace.Config `yaml:"trace"`
}

// DefaultConfig returns the default instrumentation configuration.
func DefaultConfig() Config {
	return Config{
		MaxQuerySize:      DefaultMaxQuerySize,
		RecommendedDepth:  fingerprint.DefaultRecommendedDepth,
		NPlusOneThreshold: nplusone.DefaultThreshold,
		MaxResponseSize:   DefaultMaxResponseSize,
		Trace: fieldtrace.Config{
			Enabled:    true,
			SampleRate: 0.1,
			MaxTraces:  fieldtrace.DefaultMaxTraces,
		},
	}
}

// Coordinator creates and finalizes the per-operation analyzers. One
// coordinator serves all operations; all mutable state lives on the
// OperationContext it hands out.
type Coordinator struct {
	cfg     Config
	sink    collector.Collector
	filter  *filter.Filter
	metrics *gqlmetrics.Metrics
	tracer  *observability.Tracer
	logger  observability.Logger
}

// Option is a functional option for the coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithFilter sets the record filter. Operations the filter rejects are
// counted but emit no records.
func WithFilter(f *filter.Filter) Option {
	return func(c *Coordinator) {
		c.filter = f
	}
}

// WithMetrics sets the operation metrics instance.
func WithMetrics(m *gqlmetrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer enables OpenTelemetry spans per operation.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// NewCoordinator creates an execution coordinator emitting to sink.
func NewCoordinator(cfg Config, sink collector.Collector, opts ...Option) *Coordinator {
	if cfg.MaxQuerySize <= 0 {
		cfg.MaxQuerySize = DefaultMaxQuerySize
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	if cfg.NPlusOneThreshold <= 0 {
		cfg.NPlusOneThreshold = nplusone.DefaultThreshold
	}
	if sink == nil {
		sink = collector.NewNopCollector()
	}

	c := &Coordinator{
		cfg:    cfg,
		sink:   sink,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = gqlmetrics.GetMetrics()
	}

	return c
}

// BeginOperation analyzes the query and creates the operation's confined
// instrumentation state. It is cheap enough for the hot path: one analyzer
// pass over the query plus map allocations.
func (c *Coordinator) BeginOperation(ctx context.Context, query string) *OperationContext {
	fp := fingerprint.Analyze(query, c.cfg.MaxQuerySize)
	depth := fingerprint.AnalyzeDepth(query, c.cfg.RecommendedDepth)

	oc := &OperationContext{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Query:         fp.Query,
		OperationName: fp.OperationName,
		OperationType: fp.OperationType,
		StartedAt:     time.Now(),
		Fingerprint:   fp,
		Depth:         depth,
		FieldCount:    fingerprint.CountFields(query),
		Introspection: fingerprint.IsIntrospection(query),
		phaseStarts:   make(map[string]time.Time),
		phases:        make(map[string]time.Duration),
	}
	oc.ctx = observability.ContextWithCorrelationID(ctx, oc.CorrelationID)
	oc.ctx = observability.ContextWithOperationID(oc.ctx, oc.ID)

	c.metrics.RecordAnalysis(oc.OperationType, depth.MaxDepth, oc.FieldCount)
	if oc.Introspection {
		c.metrics.RecordIntrospection()
	}
	if strings.HasSuffix(fp.Query, fingerprint.TruncationMarker) {
		c.metrics.RecordTruncatedQuery()
	}

	if c.filter != nil && !c.filter.Match(filter.Operation{
		Type:          oc.OperationType,
		Name:          oc.OperationName,
		Depth:         depth.MaxDepth,
		Introspection: oc.Introspection,
	}) {
		oc.Filtered = true
		return oc
	}

	oc.detector = nplusone.NewDetector()
	oc.tracer = fieldtrace.NewTracer(c.cfg.Trace)
	if oc.tracer.Active() {
		c.metrics.RecordSampledTrace()
	}

	if c.tracer != nil {
		oc.ctx, oc.span = c.tracer.StartSpan(oc.ctx, "graphql.operation",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("graphql.operation.hash", fp.Hash),
				attribute.String("graphql.operation.type", oc.OperationType),
				attribute.String("graphql.operation.name", oc.OperationName),
				attribute.Int("graphql.operation.depth", depth.MaxDepth),
			),
		)
	}

	return oc
}

// ResolveBegin records the start of one field resolution. Returns the token
// to hand back to ResolveEnd, or nil when this field is not traced. The
// bookkeeping is synchronous and O(1).
func (c *Coordinator) ResolveBegin(
	oc *OperationContext,
	path, parentType, fieldName, returnType, parentID string,
) *fieldtrace.Span {
	if oc == nil || oc.Filtered {
		return nil
	}
	oc.detector.RecordCall(parentType, fieldName, parentID)
	return oc.tracer.StartField(path, parentType, fieldName, returnType)
}

// ResolveEnd completes a field resolution started by ResolveBegin.
func (c *Coordinator) ResolveEnd(oc *OperationContext, span *fieldtrace.Span) {
	if oc == nil || oc.Filtered {
		return
	}
	oc.tracer.EndField(span)
}

// FinishOperation finalizes an operation and emits its records. It runs at
// most once per context; later calls are no-ops. A non-nil opErr routes the
// operation record through the immediate collection path.
func (c *Coordinator) FinishOperation(oc *OperationContext, response any, opErr error) {
	if oc == nil || !oc.markFinished() {
		return
	}

	duration := time.Since(oc.StartedAt)

	status := gqlmetrics.StatusOK
	switch {
	case oc.Filtered:
		status = gqlmetrics.StatusFiltered
	case opErr != nil:
		status = gqlmetrics.StatusError
	}
	c.metrics.RecordOperation(oc.OperationType, status, duration)

	if oc.Filtered {
		return
	}

	warnings := oc.detector.Detect(c.cfg.NPlusOneThreshold)
	if len(warnings) > 0 {
		c.metrics.RecordNPlusOneWarnings(len(warnings))
	}
	traces := oc.tracer.Traces()

	payload := map[string]any{
		"operationId":   oc.ID,
		"hash":          oc.Fingerprint.Hash,
		"query":         oc.Query,
		"operationName": oc.OperationName,
		"operationType": oc.OperationType,
		"depth":         oc.Depth,
		"fieldCount":    oc.FieldCount,
		"introspection": oc.Introspection,
		"durationMs":    duration.Milliseconds(),
	}
	if phases := oc.PhaseDurations(); len(phases) > 0 {
		ms := make(map[string]int64, len(phases))
		for phase, d := range phases {
			ms[phase+"Ms"] = d.Milliseconds()
		}
		payload["phases"] = ms
	}
	if response != nil {
		payload["response"] = sanitize.SanitizeResponse(
			response, c.cfg.SensitivePatterns, c.cfg.MaxResponseSize,
		)
	}

	if oc.span != nil {
		oc.span.SetAttributes(attribute.Int("graphql.resolve.count", len(traces)))
		if opErr != nil {
			oc.span.RecordError(opErr)
			oc.span.SetStatus(codes.Error, opErr.Error())
		}
		oc.span.End()
	}

	if opErr != nil {
		payload["error"] = opErr.Error()
		c.sink.CollectImmediate(collector.KindOperationError, payload, oc.CorrelationID)
	} else {
		c.sink.Collect(collector.KindOperation, payload, oc.CorrelationID)
	}

	if len(warnings) > 0 {
		c.sink.Collect(collector.KindNPlusOne, map[string]any{
			"operationId": oc.ID,
			"hash":        oc.Fingerprint.Hash,
			"warnings":    warnings,
		}, oc.CorrelationID)
	}

	if len(traces) > 0 {
		c.sink.Collect(collector.KindFieldTrace, map[string]any{
			"operationId": oc.ID,
			"hash":        oc.Fingerprint.Hash,
			"traces":      traces,
			"stats":       oc.tracer.Stats(),
			"waterfall":   fieldtrace.BuildWaterfall(traces, duration),
		}, oc.CorrelationID)
	}
}
