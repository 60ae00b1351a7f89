// Package core carries the ambient stack shared by every other package in
// the orchestrator: logging, telemetry, and the wrapped error type used for
// infrastructure-level failures (as opposed to the domain-level classified
// errors produced by the classify package).
package core

import "context"

// Logger is the minimal structured logging interface implemented throughout
// the orchestrator. Fields are passed as a map rather than variadic key/value
// pairs to keep call sites uniform across packages.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a package request a logger scoped to its own
// name (e.g. "agent/coder", "inference/client") so log lines can be filtered
// by component without threading a name through every call.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry is the span/metric facade every long-running operation is
// wrapped in. A NoOpTelemetry satisfies it when OpenTelemetry wiring is
// disabled (e.g. in unit tests).
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	Counter(name string, labels ...string)
	Gauge(name string, value float64, labels ...string)
	RecordDuration(name string, d float64, labels ...string)
}

// Span is a single traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpLogger discards everything. Used as a safe default before a real
// logger is wired in, and in tests that don't care about log output.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (n NoOpLogger) WithComponent(string) Logger { return n }

// NoOpTelemetry discards spans and metrics.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOpTelemetry) Counter(string, ...string)              {}
func (NoOpTelemetry) Gauge(string, float64, ...string)       {}
func (NoOpTelemetry) RecordDuration(string, float64, ...string) {}

type noOpSpan struct{}

func (noOpSpan) End()                               {}
func (noOpSpan) SetAttribute(string, interface{})   {}
func (noOpSpan) RecordError(error)                  {}
