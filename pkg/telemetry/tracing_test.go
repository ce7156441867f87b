package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestTracing(t *testing.T) {
	tp := MustNewTracerProvider(
		WithAttributes(
			semconv.ServiceNameKey.String("segmentmapper"),
			semconv.ServiceVersionKey.String("0.0.0"),
		),
		WithSamplingRatio(1),
	)
	t.Cleanup(func() {
		require.NoError(t, tp.Shutdown(context.Background()))
	})

	spanRecorder := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(spanRecorder)

	_, span := tp.Tracer("").Start(context.Background(), "test")
	TraceError(span, errors.New("boom"))
	span.End()

	spans := spanRecorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "test", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "boom", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}
