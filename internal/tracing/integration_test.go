package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/clockguard/internal/middleware"
	"github.com/onnwee/clockguard/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return recorder
}

// TestSubmissionTraceHierarchy runs a traced submission-shaped handler and
// checks that the HTTP span, the recorder span, and the DB span all land in
// one trace.
func TestSubmissionTraceHierarchy(t *testing.T) {
	recorder := installRecorder(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, endRecord := tracing.StartSpan(r.Context(), "record_attendance")
		tracing.SetAttributes(ctx,
			attribute.String("attendance.subject", "u-123"),
			attribute.String("attendance.kind", "CHECK_IN"),
		)

		ctx, endQuery := tracing.StartDBSpan(ctx, "attendance_events", tracing.DBOperationQuery)
		endQuery(nil)

		tracing.AddEvent(ctx, "anomaly_detected",
			attribute.String("anomaly.kind", "RAPID_DOUBLE_SUBMIT"),
		)
		endRecord(nil)

		w.WriteHeader(http.StatusCreated)
	})

	traced := middleware.Tracing("clockguard-api")(handler)

	rr := httptest.NewRecorder()
	traced.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/attendance/check-in", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		for i, span := range spans {
			t.Logf("  span %d: %s", i, span.Name())
		}
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, span := range spans {
		byName[span.Name()] = span
	}
	for _, want := range []string{
		"POST /attendance/check-in",
		"record_attendance",
		"query attendance_events",
	} {
		if _, ok := byName[want]; !ok {
			t.Errorf("missing span %q", want)
		}
	}

	// All three spans belong to the same trace.
	traceID := spans[0].SpanContext().TraceID()
	for _, span := range spans[1:] {
		if span.SpanContext().TraceID() != traceID {
			t.Errorf("span %q is in a different trace", span.Name())
		}
	}

	if dbSpan, ok := byName["query attendance_events"]; ok {
		want := map[attribute.Key]string{
			"db.system":    "postgresql",
			"db.operation": "query",
			"db.sql.table": "attendance_events",
		}
		for _, attr := range dbSpan.Attributes() {
			if expected, tracked := want[attr.Key]; tracked {
				if attr.Value.AsString() != expected {
					t.Errorf("expected %s=%s, got %s", attr.Key, expected, attr.Value.AsString())
				}
				delete(want, attr.Key)
			}
		}
		for key := range want {
			t.Errorf("DB span missing %s attribute", key)
		}
	}
}

// TestTracingDisabled verifies span helpers are safe no-ops without an
// enabled provider.
func TestTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName: "clockguard-api",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}

	ctx, endSpan := tracing.StartSpan(context.Background(), "verify_photo")
	tracing.SetAttributes(ctx, attribute.String("attendance.subject", "u-1"))
	tracing.AddEvent(ctx, "scorer_response")
	endSpan(nil)
}

func TestTraceIDVisibleToHandler(t *testing.T) {
	recorder := installRecorder(t)

	var captured string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = middleware.GetTraceID(r)
	})

	traced := middleware.Tracing("clockguard-api")(handler)
	traced.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/anomalies", nil))

	if captured == "" {
		t.Fatal("expected non-empty trace ID inside handler")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != captured {
		t.Errorf("trace ID mismatch: handler saw %s, span has %s", captured, got)
	}
}
