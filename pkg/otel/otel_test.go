package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	if config.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", config.ServiceName)
	}
	if config.ServiceVersion == "" {
		t.Error("Service version should not be empty")
	}
	if config.SamplingRate < 0.0 || config.SamplingRate > 1.0 {
		t.Errorf("Sampling rate out of bounds: %.2f", config.SamplingRate)
	}
}

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), DefaultConfig("test-service"))
	if err != nil {
		t.Fatalf("Failed to init tracer: %v", err)
	}
	if tp != nil {
		t.Error("Expected nil provider without a collector endpoint")
	}
	if err := Shutdown(context.Background(), tp); err != nil {
		t.Errorf("Shutdown of nil provider failed: %v", err)
	}
}

func TestForecastAttributes(t *testing.T) {
	attrs := ForecastAttributes("user-1", 7)
	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != AttrUserID || attrs[0].Value.AsString() != "user-1" {
		t.Errorf("unexpected user attribute: %v", attrs[0])
	}
	if attrs[1].Key != AttrHorizonDays || attrs[1].Value.AsInt64() != 7 {
		t.Errorf("unexpected horizon attribute: %v", attrs[1])
	}

	if attrs := UserAttributes(""); len(attrs) != 0 {
		t.Errorf("Expected no attributes for empty user, got %d", len(attrs))
	}
	if attrs := RecordAttributes("u", "trip"); len(attrs) != 2 {
		t.Errorf("Expected 2 record attributes, got %d", len(attrs))
	}
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestStartSpanRecordsAttributes(t *testing.T) {
	sr := withRecorder(t)

	_, span := StartSpan(context.Background(), TracerName, "train", UserAttributes("alice")...)
	AddEvent(span, "model.saved", attribute.Int("trees", 200))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "train" {
		t.Errorf("span name = %q", s.Name())
	}
	found := false
	for _, kv := range s.Attributes() {
		if kv.Key == AttrUserID && kv.Value.AsString() == "alice" {
			found = true
		}
	}
	if !found {
		t.Error("user.id attribute not found")
	}
	if len(s.Events()) != 1 || s.Events()[0].Name != "model.saved" {
		t.Errorf("unexpected events: %v", s.Events())
	}
}

func TestRecordError(t *testing.T) {
	sr := withRecorder(t)

	_, span := StartSpan(context.Background(), TracerName, "ok")
	RecordError(span, nil, "ignored")
	span.End()

	_, span = StartSpan(context.Background(), TracerName, "failed")
	RecordError(span, errors.New("boom"), "training failed")
	span.End()

	ended := sr.Ended()
	if len(ended) != 2 {
		t.Fatalf("Expected 2 ended spans, got %d", len(ended))
	}
	if ended[0].Status().Code == codes.Error {
		t.Error("nil error should not mark the span failed")
	}
	if ended[1].Status().Code != codes.Error || ended[1].Status().Description != "boom" {
		t.Errorf("unexpected status: %+v", ended[1].Status())
	}
}
