package infra

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fleetpulse/fleet-control/config"
)

// TelemetryClient owns the metric and trace providers. Optional: when no OTLP
// endpoint is configured nothing is exported.
type TelemetryClient struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

func InitTelemetryClient(cfg *config.EnvConfig) *TelemetryClient {
	if cfg.Telemetry.OTLPEndpoint == "" {
		return &TelemetryClient{}
	}

	ctx := context.Background()
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.Telemetry.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment.Mode),
		))
	if err != nil {
		res = resource.Default()
	}

	client := &TelemetryClient{}

	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Telemetry.OTLPEndpoint))
	if err != nil {
		log.Printf("OTLP metric exporter init failed: %v", err)
	} else {
		client.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(30*time.Second))),
		)
		otel.SetMeterProvider(client.meterProvider)
		if err := runtime.Start(runtime.WithMeterProvider(client.meterProvider)); err != nil {
			log.Printf("Runtime instrumentation start failed: %v", err)
		}
	}

	traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Telemetry.OTLPEndpoint))
	if err != nil {
		log.Printf("OTLP trace exporter init failed: %v", err)
	} else {
		client.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp),
		)
		otel.SetTracerProvider(client.tracerProvider)
	}

	return client
}

func (t *TelemetryClient) Shutdown(ctx context.Context) {
	if t.meterProvider != nil {
		_ = t.meterProvider.Shutdown(ctx)
	}
	if t.tracerProvider != nil {
		_ = t.tracerProvider.Shutdown(ctx)
	}
}
