package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used across the service: database client spans are kept
// separate from recorder and review flow spans.
const (
	tracerName   = "clockguard"
	dbTracerName = "clockguard/db"
)

// DBOperation names the statement class of a traced database call.
type DBOperation string

// Statement classes. Query covers SELECTs; Exec is the catch-all for
// statements that do not map onto the other four.
const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
	DBOperationDelete DBOperation = "delete"
	DBOperationExec   DBOperation = "exec"
)

// StartDBSpan opens a client span around one database call, named
// "<operation> <table>" (e.g. "insert attendance_events"). The returned
// func ends the span, recording err when non-nil:
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, "attendance_events", tracing.DBOperationInsert)
//	defer func() { endSpan(err) }()
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	if table != "" {
		name += " " + table
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", string(operation)),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	return ctx, endFunc(span)
}

// StartSpan opens a span around one unit of domain work, e.g.
// "record_attendance" or "resolve_anomaly".
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent marks a point-in-time occurrence, such as an anomaly finding,
// on the span already active in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes annotates the span already active in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
