// Package observability wires OpenTelemetry tracing.
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName identifies this service in exported spans.
const ServiceName = "mg-blog-api"

// Tracing owns the tracer provider. The zero value is disabled and safe to shut down.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// InitTracer exports spans to endpoint over OTLP gRPC when enabled. Failures
// are logged and leave tracing disabled.
func InitTracer(ctx context.Context, enabled bool, endpoint, version string) *Tracing {
	if !enabled {
		log.Println("observability: tracing disabled")
		return &Tracing{}
	}

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		log.Printf("observability: create OTLP exporter: %v", err)
		return &Tracing{}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		log.Printf("observability: create resource: %v", err)
		return &Tracing{}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(10*time.Second),
			sdktrace.WithMaxQueueSize(2048),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("observability: exporting traces to %s", endpoint)
	return &Tracing{provider: tp}
}

// Enabled reports whether spans are exported.
func (t *Tracing) Enabled() bool {
	return t != nil && t.provider != nil
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown() {
	if !t.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		log.Printf("observability: shutdown tracer provider: %v", err)
	}
}
