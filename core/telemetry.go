package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OtelTelemetry wires the Telemetry interface to the global OpenTelemetry
// tracer/meter providers. main.go installs the SDK providers at startup;
// every other package only ever sees the Telemetry interface, following the
// same weak-coupling shape as the framework's core/telemetry split.
type OtelTelemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOtelTelemetry builds a Telemetry backed by the global otel providers
// under an instrumentation scope name.
func NewOtelTelemetry(scope string) *OtelTelemetry {
	return &OtelTelemetry{
		tracer:     otel.Tracer(scope),
		meter:      otel.Meter(scope),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (t *OtelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (t *OtelTelemetry) Counter(name string, labels ...string) {
	c, ok := t.counters[name]
	if !ok {
		var err error
		c, err = t.meter.Int64Counter(name)
		if err != nil {
			return
		}
		t.counters[name] = c
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttributes(labels)...))
}

func (t *OtelTelemetry) Gauge(name string, value float64, labels ...string) {
	g, ok := t.gauges[name]
	if !ok {
		var err error
		g, err = t.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		t.gauges[name] = g
	}
	g.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func (t *OtelTelemetry) RecordDuration(name string, d float64, labels ...string) {
	h, ok := t.histograms[name]
	if !ok {
		var err error
		h, err = t.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		t.histograms[name] = h
	}
	h.Record(context.Background(), d, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, "unsupported-type"))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
