package runtime

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/futhark-host/resource"
)

const instrumentationName = "github.com/wippyai/futhark-host/runtime"

// Package-level tracer and meter for foreign calls. Both resolve through
// the global providers, so nothing is recorded until the application
// installs an SDK.
var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

var (
	callDuration  metric.Float64Histogram
	callTotal     metric.Int64Counter
	transferBytes metric.Int64Counter
	liveHandles   metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callDuration, err = meter.Float64Histogram(
			"futhark_entry_call_duration_seconds",
			metric.WithDescription("Duration of entry point calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"futhark_entry_calls_total",
			metric.WithDescription("Total number of entry point calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transferBytes, err = meter.Int64Counter(
			"futhark_array_transfer_bytes_total",
			metric.WithDescription("Array bytes copied between host and module"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		liveHandles, err = meter.Int64UpDownCounter(
			"futhark_live_handles",
			metric.WithDescription("Foreign arrays and opaque values not yet released"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startCallSpan creates a span for an entry point call.
func startCallSpan(ctx context.Context, entry, cfun string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "futhark.entry "+entry,
		trace.WithAttributes(
			attribute.String("futhark.entry", entry),
			attribute.String("futhark.cfun", cfun),
		),
	)
}

// endCallSpan records the outcome of an entry point call on its span and
// in the call metrics.
func endCallSpan(ctx context.Context, span trace.Span, entry string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entry", entry),
		attribute.Bool("success", err == nil),
	)
	callDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	callTotal.Add(ctx, 1, attrs)
}

// recordTransfer counts array bytes moved in direction "in" (host to
// module) or "out".
func recordTransfer(ctx context.Context, typ, direction string, n int) {
	if initMetrics() != nil || n == 0 {
		return
	}
	transferBytes.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("type", typ),
		attribute.String("direction", direction),
	))
}

// handleMetrics keeps futhark_live_handles in step with a context's
// handle table.
type handleMetrics struct{}

func (handleMetrics) OnHandleEvent(e resource.Event) {
	if initMetrics() != nil {
		return
	}
	delta := int64(1)
	if e.Type != resource.EventCreated {
		delta = -1
	}
	liveHandles.Add(context.Background(), delta, metric.WithAttributes(
		attribute.String("type", e.Entry.Type),
	))
}
