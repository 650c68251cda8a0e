package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusHandler creates a meter provider read by a Prometheus exporter
// and the handler serving its scrape endpoint. Every call uses a fresh
// registry. Extra options, such as further readers, are applied to the
// provider.
func PrometheusHandler(opts ...sdkmetric.Option) (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(append(opts, sdkmetric.WithReader(exporter))...)

	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// MetricsMux returns a mux serving handler at /metrics.
func MetricsMux(handler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	return mux
}
