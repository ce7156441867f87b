// Package telemetry sets up the OpenTelemetry tracer provider used by the worker.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/segmentmapper/segmentmapper/internal/build"
)

type TracerOption func(d *customTracer)

// WithOTLPEndpoint sets the collector the spans are exported to. Without an endpoint no
// exporter is installed, which is what tests rely on when they register their own processor.
func WithOTLPEndpoint(endpoint string) TracerOption {
	return func(d *customTracer) {
		d.endpoint = endpoint
	}
}

func WithOTLPInsecure() TracerOption {
	return func(d *customTracer) {
		d.insecure = true
	}
}

func WithAttributes(attrs ...attribute.KeyValue) TracerOption {
	return func(d *customTracer) {
		d.attributes = append(d.attributes, attrs...)
	}
}

func WithSamplingRatio(samplingRatio float64) TracerOption {
	return func(d *customTracer) {
		d.samplingRatio = samplingRatio
	}
}

type customTracer struct {
	endpoint      string
	insecure      bool
	attributes    []attribute.KeyValue
	samplingRatio float64
}

// MustNewTracerProvider builds the SDK tracer provider, installs it globally together with
// the W3C propagators and returns it so the caller can flush and shut it down.
func MustNewTracerProvider(opts ...TracerOption) *sdktrace.TracerProvider {
	tracer := &customTracer{}

	for _, opt := range opts {
		opt(tracer)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(tracer.attributes...),
	)
	if err != nil {
		panic(err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tracer.samplingRatio))),
		sdktrace.WithResource(res),
	}

	if tracer.endpoint != "" {
		exporterOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(tracer.endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(build.ProjectName + "/" + build.Version)),
		}
		if tracer.insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}

		exp, err := otlptracegrpc.New(context.Background(), exporterOpts...)
		if err != nil {
			panic(fmt.Sprintf("failed to establish a connection with the otlp exporter: %v", err))
		}

		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)

	return tp
}

// TraceError marks the span as failed with err.
func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
