// Package telemetry exposes the storage core's metric instruments over a
// Prometheus endpoint. PicoDB records metrics only — an embedded engine
// has no RPC surface to trace — so the whole setup is one meter provider
// backed by the OTel Prometheus exporter and a small HTTP listener.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

const meterName = "picodb/storage"

// Config holds the configuration for the metrics endpoint.
type Config struct {
	// Enabled toggles metrics collection and the HTTP endpoint.
	Enabled bool `yaml:"enabled"`
	// PrometheusPort is the port on which to expose /metrics.
	PrometheusPort int `yaml:"prometheus_port"`
}

// ShutdownFunc stops the metrics endpoint and flushes the provider.
type ShutdownFunc func(ctx context.Context) error

// NewMeter returns the meter the storage core hangs its instruments on.
// When disabled, the meter is a no-op and the shutdown function does
// nothing, so callers never need to branch.
func NewMeter(config Config) (metric.Meter, ShutdownFunc, error) {
	if !config.Enabled {
		return noop.NewMeterProvider().Meter(meterName),
			func(context.Context) error { return nil }, nil
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("picodb")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// A dedicated mux keeps /metrics off http.DefaultServeMux, which an
	// embedding application may already be using.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.PrometheusPort),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			otel.Handle(fmt.Errorf("metrics http server failed: %w", err))
		}
	}()

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		return meterProvider.Shutdown(ctx)
	}
	return meterProvider.Meter(meterName), shutdown, nil
}
