package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSubmitSpan(context.Background(), "audio", "u1")
	EndSpan(span, nil)
	_, span = StartJobSpan(ctx, "j1", "audio", 2)
	EndSpan(span, errors.New("boom"))

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	if ended[0].Name() != "source.submit" || ended[0].Status().Code == codes.Error {
		t.Errorf("submit span: %s %v", ended[0].Name(), ended[0].Status())
	}
	job := ended[1]
	if job.Name() != "job.execute" || job.Status().Code != codes.Error {
		t.Errorf("job span: %s %v", job.Name(), job.Status())
	}
	var attempt int64
	for _, kv := range job.Attributes() {
		if kv.Key == "job.attempt" {
			attempt = kv.Value.AsInt64()
		}
	}
	if attempt != 2 {
		t.Errorf("job.attempt = %d", attempt)
	}
}
