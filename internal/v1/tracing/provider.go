// Package tracing wires an optional OTLP/gRPC trace exporter into the
// process. It is active only when a collector address is configured; an
// unconfigured process carries no tracing overhead at all.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ShutdownFunc flushes buffered spans and tears the provider down. Call it
// on process exit with a bounded context.
type ShutdownFunc func(context.Context) error

// Setup connects to the OTLP collector at collectorAddr, installs a global
// tracer provider and W3C propagators, and returns the shutdown hook.
//
// Transport security follows the deployment: OTEL_EXPORTER_INSECURE=true
// selects plaintext gRPC (the usual sidecar-collector case for a fan-out
// server pod), otherwise TLS 1.2+ with optional OTEL_INSECURE_SKIP_VERIFY
// for self-signed development collectors.
func Setup(ctx context.Context, serviceName, collectorAddr string) (ShutdownFunc, error) {
	creds := credentials.NewTLS(&tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true",
	})
	if os.Getenv("OTEL_EXPORTER_INSECURE") == "true" {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client to collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(samplerFromEnv()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// samplerFromEnv reads OTEL_TRACES_SAMPLER_RATIO (0..1). Broadcast fan-out
// is a hot path; a busy deployment will want well under 1.0. Unset or
// unparsable values sample everything.
func samplerFromEnv() sdktrace.Sampler {
	raw := os.Getenv("OTEL_TRACES_SAMPLER_RATIO")
	if raw == "" {
		return sdktrace.AlwaysSample()
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
