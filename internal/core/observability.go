package core

import (
	"context"
	"time"

	"portioncore/pkg/domain"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended once with the operation outcome.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome recorded on an audit entry.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation for the audit trail.
type AuditEntry struct {
	Operation string            `json:"operation" msgpack:"operation"`
	Entity    domain.EntityType `json:"entity" msgpack:"entity"`
	Action    domain.Action     `json:"action" msgpack:"action"`
	EntityID  string            `json:"entity_id" msgpack:"entity_id"`
	Actor     string            `json:"actor,omitempty" msgpack:"actor,omitempty"`
	Status    AuditStatus       `json:"status" msgpack:"status"`
	Error     string            `json:"error,omitempty" msgpack:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty" msgpack:"details,omitempty"`
	Duration  time.Duration     `json:"duration" msgpack:"duration"`
	Timestamp time.Time         `json:"timestamp" msgpack:"timestamp"`
}

// AuditRecorder persists audit entries. Implementations must not block the
// caller on slow sinks for long; errors are theirs to report.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Clock supplies the service's notion of now.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}
