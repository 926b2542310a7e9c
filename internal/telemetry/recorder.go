package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const surfaceScopeName = "github.com/swarmhq/claimd/tool"

// Recorder instruments operation dispatch with OTel tracing and metrics.
// Every operation gets a span and is counted in claimd.op.* metrics.
// Use NewRecorder to create one; it returns nil when telemetry is disabled,
// and a nil Recorder is safe to call.
type Recorder struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// NewRecorder builds the operation recorder, or nil when telemetry is off.
func NewRecorder() *Recorder {
	if !Enabled() {
		return nil
	}
	m := Meter(surfaceScopeName)
	ops, _ := m.Int64Counter("claimd.op.calls",
		metric.WithDescription("Total operations dispatched"),
	)
	dur, _ := m.Float64Histogram("claimd.op.duration",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("claimd.op.errors",
		metric.WithDescription("Total operations that returned an error"),
	)
	return &Recorder{
		tracer: Tracer(surfaceScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Observe records one dispatched operation. errKind is empty on success and
// carries the caller-facing error kind otherwise.
func (r *Recorder) Observe(ctx context.Context, op string, dur time.Duration, errKind string) {
	if r == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("op", op)}
	if errKind != "" {
		attrs = append(attrs, attribute.String("error.kind", errKind))
	}
	set := metric.WithAttributes(attrs...)

	_, span := r.tracer.Start(ctx, "op."+op,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(time.Now().Add(-dur)),
	)
	if errKind != "" {
		span.SetStatus(codes.Error, errKind)
		r.errs.Add(ctx, 1, set)
	}
	span.End()

	r.ops.Add(ctx, 1, set)
	r.dur.Record(ctx, float64(dur.Milliseconds()), set)
}
