package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"volaiops/internal/config"
)

const (
	ServiceName = "volaiops"
	MeterName   = "volaiops"
)

// ServiceVersion is stamped by build.go through -ldflags -X
var ServiceVersion = "1.0.0"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel wires tracing and metrics according to cfg. With telemetry
// disabled the global no-op providers stay in place and the returned
// providers are empty.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	providers := &OTelProviders{Logger: logger}
	if !cfg.Enabled {
		return providers, nil
	}

	ctx := context.Background()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter),
		slog.String("environment", cfg.Environment))
	return providers, nil
}

func initializeTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	providers.TracerProvider = tp
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "Tracing initialized", slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

func initializeMetrics(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		providers.PrometheusHTTP = promhttp.Handler()

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
		otel.SetMeterProvider(mp)
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.DebugContext(ctx, "Metrics initialized", slog.String("exporter", cfg.MetricExporter))
	return nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// Tracer returns the named tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(MeterName)
}

// RecordError marks the span in ctx as failed
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// PipelineMetrics are the counters the fetch and export stages report into.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	fetchAttempts   metric.Int64Counter
	fetchExhausted  metric.Int64Counter
	exports         metric.Int64Counter
	exportFallbacks metric.Int64Counter
	runDuration     metric.Float64Histogram
	httpRequests    metric.Int64Counter
}

// NewPipelineMetrics registers the instruments on meter. A nil meter falls
// back to the global provider.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &PipelineMetrics{}
	var err error

	if m.fetchAttempts, err = meter.Int64Counter("volai_fetch_attempts_total",
		metric.WithDescription("Report fetch attempts by outcome")); err != nil {
		return nil, err
	}
	if m.fetchExhausted, err = meter.Int64Counter("volai_fetch_exhausted_total",
		metric.WithDescription("Fetches that used every attempt without success")); err != nil {
		return nil, err
	}
	if m.exports, err = meter.Int64Counter("volai_exports_total",
		metric.WithDescription("Export writes by exporter and outcome")); err != nil {
		return nil, err
	}
	if m.exportFallbacks, err = meter.Int64Counter("volai_export_fallbacks_total",
		metric.WithDescription("Exports that landed somewhere other than the requested target")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("volai_pipeline_duration_seconds",
		metric.WithDescription("End to end pipeline run duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter("volai_http_requests_total",
		metric.WithDescription("Requests served by the dev server")); err != nil {
		return nil, err
	}
	return m, nil
}

// FetchAttempt records one HTTP attempt
func (m *PipelineMetrics) FetchAttempt(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.fetchAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ok)))
}

// FetchExhausted records a fetch that ran out of attempts
func (m *PipelineMetrics) FetchExhausted(ctx context.Context) {
	if m == nil {
		return
	}
	m.fetchExhausted.Add(ctx, 1)
}

// Export records one exporter try
func (m *PipelineMetrics) Export(ctx context.Context, exporter string, ok bool) {
	if m == nil {
		return
	}
	m.exports.Add(ctx, 1, metric.WithAttributes(
		attribute.String("exporter", exporter),
		attribute.Bool("success", ok)))
}

// ExportFallback records an export that did not land at the requested path
func (m *PipelineMetrics) ExportFallback(ctx context.Context, exporter string) {
	if m == nil {
		return
	}
	m.exportFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("exporter", exporter)))
}

// RunFinished records a pipeline run
func (m *PipelineMetrics) RunFinished(ctx context.Context, scenario string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("scenario", scenario),
		attribute.Bool("success", ok)))
}

// HTTPRequest records a served request
func (m *PipelineMetrics) HTTPRequest(ctx context.Context, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status)))
}
