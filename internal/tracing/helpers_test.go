package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newRecorder installs a span recorder as the global tracer provider for one test.
func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return recorder
}

func singleSpan(t *testing.T, recorder *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	return spans[0]
}

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, attr := range span.Attributes() {
		if attr.Key == key {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"insert event", "attendance_events", DBOperationInsert, "insert attendance_events"},
		{"query anomalies", "anomalies", DBOperationQuery, "query anomalies"},
		{"update fingerprint", "device_fingerprints", DBOperationUpdate, "update device_fingerprints"},
		{"delete", "idempotency_keys", DBOperationDelete, "delete idempotency_keys"},
		{"exec", "audit_entries", DBOperationExec, "exec audit_entries"},
		{"no table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			span := singleSpan(t, recorder)
			if span.Name() != tt.wantName {
				t.Errorf("expected span name %q, got %q", tt.wantName, span.Name())
			}

			if system, ok := attrValue(span, "db.system"); !ok || system != "postgresql" {
				t.Errorf("expected db.system=postgresql, got %q (present=%v)", system, ok)
			}
			if op, ok := attrValue(span, "db.operation"); !ok || op != string(tt.operation) {
				t.Errorf("expected db.operation=%s, got %q (present=%v)", tt.operation, op, ok)
			}

			table, hasTable := attrValue(span, "db.sql.table")
			if tt.table == "" && hasTable {
				t.Error("unexpected db.sql.table attribute for table-less span")
			}
			if tt.table != "" && table != tt.table {
				t.Errorf("expected db.sql.table=%s, got %q", tt.table, table)
			}
		})
	}
}

func TestStartDBSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)

	dbErr := errors.New("connection reset")
	_, endSpan := StartDBSpan(context.Background(), "attendance_events", DBOperationInsert)
	endSpan(dbErr)

	span := singleSpan(t, recorder)
	if span.Status().Code.String() != "Error" {
		t.Errorf("expected Error status, got %s", span.Status().Code.String())
	}
	if span.Status().Description != dbErr.Error() {
		t.Errorf("expected status description %q, got %q", dbErr.Error(), span.Status().Description)
	}
}

func TestStartSpan(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartSpan(context.Background(), "evaluate_anomaly_rules")
	endSpan(nil)

	span := singleSpan(t, recorder)
	if span.Name() != "evaluate_anomaly_rules" {
		t.Errorf("expected span name evaluate_anomaly_rules, got %q", span.Name())
	}
	// Unset is the default status for spans that end without error.
	if code := span.Status().Code.String(); code != "Unset" && code != "Ok" {
		t.Errorf("expected Unset or Ok status, got %s", code)
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartSpan(context.Background(), "record_attendance")
	endSpan(errors.New("event store unavailable"))

	span := singleSpan(t, recorder)
	if span.Status().Code.String() != "Error" {
		t.Errorf("expected Error status, got %s", span.Status().Code.String())
	}
}

func TestAddEvent(t *testing.T) {
	recorder := newRecorder(t)

	tracer := otel.Tracer("clockguard")
	ctx, span := tracer.Start(context.Background(), "record_attendance")

	AddEvent(ctx, "anomaly_detected",
		attribute.String("anomaly.kind", "IMPOSSIBLE_TRAVEL"),
		attribute.String("anomaly.severity", "HIGH"),
	)
	span.End()

	got := singleSpan(t, recorder)
	events := got.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "anomaly_detected" {
		t.Errorf("expected event anomaly_detected, got %q", events[0].Name)
	}
	if len(events[0].Attributes) != 2 {
		t.Errorf("expected 2 event attributes, got %d", len(events[0].Attributes))
	}
}

func TestSetAttributes(t *testing.T) {
	recorder := newRecorder(t)

	tracer := otel.Tracer("clockguard")
	ctx, span := tracer.Start(context.Background(), "record_attendance")

	SetAttributes(ctx,
		attribute.String("attendance.subject", "u-123"),
		attribute.String("attendance.kind", "CHECK_IN"),
	)
	span.End()

	got := singleSpan(t, recorder)
	if subject, ok := attrValue(got, "attendance.subject"); !ok || subject != "u-123" {
		t.Errorf("expected attendance.subject=u-123, got %q (present=%v)", subject, ok)
	}
	if kind, ok := attrValue(got, "attendance.kind"); !ok || kind != "CHECK_IN" {
		t.Errorf("expected attendance.kind=CHECK_IN, got %q (present=%v)", kind, ok)
	}
}
