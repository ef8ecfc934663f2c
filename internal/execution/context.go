// Package execution wires the per-operation analyzers to a host GraphQL
// engine's lifecycle hooks. One OperationContext is created per in-flight
// operation and threaded explicitly through every hook call; nothing is
// attached to framework-provided objects.
package execution

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/avolkov/gqlscope/internal/graphql/fieldtrace"
	"github.com/avolkov/gqlscope/internal/graphql/fingerprint"
	"github.com/avolkov/gqlscope/internal/graphql/nplusone"
)

// Execution phases reported by host engines. Engines that do not support a
// phase simply never report it; the corresponding duration stays absent.
const (
	PhaseParse    = "parse"
	PhaseValidate = "validate"
	PhaseExecute  = "execute"
)

// OperationContext carries all per-operation instrumentation state. It is
// confined to one operation and must never be shared across operations.
type OperationContext struct {
	ID            string
	CorrelationID string
	Query         string
	OperationName string
	OperationType string
	StartedAt     time.Time
	Fingerprint   fingerprint.Fingerprint
	Depth         fingerprint.DepthAnalysis
	FieldCount    int
	Introspection bool

	// Filtered marks an operation excluded by the record filter. Filtered
	// operations still count in aggregate metrics but emit no records.
	Filtered bool

	ctx      context.Context
	span     trace.Span
	detector *nplusone.Detector
	tracer   *fieldtrace.Tracer

	mu          sync.Mutex
	phaseStarts map[string]time.Time
	phases      map[string]time.Duration
	finished    bool
}

// Context returns the context carrying the operation's correlation id and,
// when tracing is enabled, its span.
func (oc *OperationContext) Context() context.Context {
	if oc.ctx == nil {
		return context.Background()
	}
	return oc.ctx
}

// PhaseStart marks the beginning of an execution phase.
func (oc *OperationContext) PhaseStart(phase string) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.phaseStarts[phase] = time.Now()
}

// PhaseEnd marks the end of an execution phase. Ending a phase that was
// never started is a no-op.
func (oc *OperationContext) PhaseEnd(phase string) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	start, ok := oc.phaseStarts[phase]
	if !ok {
		return
	}
	delete(oc.phaseStarts, phase)
	oc.phases[phase] = time.Since(start)
}

// PhaseDurations returns the durations of the phases the engine reported.
// Unsupported phases are simply absent.
func (oc *OperationContext) PhaseDurations() map[string]time.Duration {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	out := make(map[string]time.Duration, len(oc.phases))
	for phase, d := range oc.phases {
		out[phase] = d
	}
	return out
}

// markFinished flips the context to its terminal state exactly once.
func (oc *OperationContext) markFinished() bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.finished {
		return false
	}
	oc.finished = true
	return true
}
