// Package fieldtrace collects sampled per-field resolution timings for one
// GraphQL operation and renders them as a waterfall.
package fieldtrace

import (
	"math/rand/v2"
	"sort"
	"time"
)

// DefaultMaxTraces bounds how many field traces one operation may record.
const DefaultMaxTraces = 100

// Config configures a per-operation tracer.
type Config struct {
	// Enabled turns field tracing on.
	Enabled bool

	// SampleRate is the per-operation probability of tracing, in [0, 1].
	// The Bernoulli trial is drawn once at construction; either every
	// field of the operation is eligible for tracing or none is.
	SampleRate float64

	// SlowThreshold drops traces faster than this duration. Zero keeps
	// every trace.
	SlowThreshold time.Duration

	// MaxTraces caps recorded traces. Zero falls back to DefaultMaxTraces.
	MaxTraces int
}

// Trace is one completed field resolution span.
type Trace struct {
	Path        string        `json:"path"`
	ParentType  string        `json:"parentType"`
	FieldName   string        `json:"fieldName"`
	ReturnType  string        `json:"returnType"`
	StartOffset time.Duration `json:"startOffsetNs"`
	Duration    time.Duration `json:"durationNs"`
}

// Span is the opaque token returned by StartField.
type Span struct {
	trace     Trace
	startedAt time.Time
}

// Tracer records field timings for exactly one operation. It is confined to
// that operation and must not be shared.
type Tracer struct {
	cfg       Config
	active    bool
	opStart   time.Time
	maxTraces int
	traces    []Trace
}

// NewTracer creates a tracer and draws the per-operation sampling trial.
func NewTracer(cfg Config) *Tracer {
	maxTraces := cfg.MaxTraces
	if maxTraces <= 0 {
		maxTraces = DefaultMaxTraces
	}
	return &Tracer{
		cfg:       cfg,
		active:    cfg.Enabled && rand.Float64() < cfg.SampleRate,
		opStart:   time.Now(),
		maxTraces: maxTraces,
	}
}

// Active reports whether this operation is being traced.
func (t *Tracer) Active() bool {
	return t.active
}

// StartField begins timing one field resolution. It returns nil when tracing
// is inactive or the trace cap is already reached; EndField accepts nil.
func (t *Tracer) StartField(path, parentType, fieldName, returnType string) *Span {
	if !t.active || len(t.traces) >= t.maxTraces {
		return nil
	}

	now := time.Now()
	return &Span{
		trace: Trace{
			Path:        path,
			ParentType:  parentType,
			FieldName:   fieldName,
			ReturnType:  returnType,
			StartOffset: now.Sub(t.opStart),
		},
		startedAt: now,
	}
}

// EndField finishes a span. Traces faster than the slow threshold are
// discarded entirely; the rest are appended subject to the trace cap.
func (t *Tracer) EndField(span *Span) {
	if span == nil {
		return
	}

	span.trace.Duration = time.Since(span.startedAt)
	if t.cfg.SlowThreshold > 0 && span.trace.Duration < t.cfg.SlowThreshold {
		return
	}
	if len(t.traces) >= t.maxTraces {
		return
	}

	t.traces = append(t.traces, span.trace)
}

// Traces returns recorded traces sorted ascending by start offset.
func (t *Tracer) Traces() []Trace {
	out := append([]Trace(nil), t.traces...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartOffset < out[j].StartOffset
	})
	return out
}

// Stats summarizes the recorded traces.
type Stats struct {
	Count         int           `json:"count"`
	TotalDuration time.Duration `json:"totalDurationNs"`
	AvgDuration   time.Duration `json:"avgDurationNs"`
	MaxDuration   time.Duration `json:"maxDurationNs"`
	SlowestPath   string        `json:"slowestPath,omitempty"`
}

// Stats computes aggregate timing statistics for the operation.
func (t *Tracer) Stats() Stats {
	s := Stats{Count: len(t.traces)}
	for _, tr := range t.traces {
		s.TotalDuration += tr.Duration
		if tr.Duration > s.MaxDuration {
			s.MaxDuration = tr.Duration
			s.SlowestPath = tr.Path
		}
	}
	if s.Count > 0 {
		s.AvgDuration = s.TotalDuration / time.Duration(s.Count)
	}
	return s
}
