package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	// RED
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// torrent engine
	engineOperationsTotal metric.Int64Counter
	engineErrors          metric.Int64Counter

	// storage
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	// reconciliation
	reconcileTicks        metric.Int64Counter
	reconcileTickDuration metric.Float64Histogram
	unmatchedJobs         metric.Int64Counter
	statusTransitions     metric.Int64Counter

	// downloads and fan-out
	downloadsConfirmed metric.Int64Counter
	eventSubscribers   metric.Int64UpDownCounter
	eventsPublished    metric.Int64Counter
	subscribersDropped metric.Int64Counter
	notificationsSent  metric.Int64Counter

	systemErrors metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, pushes metrics to an OTLP gRPC collector in addition to /metrics.
	OTLPEndpoint string
}

// New creates a new telemetry instance. A disabled instance is backed by no-op providers.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		t := &Telemetry{
			tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
			meter:  metricnoop.NewMeterProvider().Meter(cfg.ServiceName),
		}

		if err := t.initializeMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}

		return t, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		registry:       registry,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// goroutines, GC and memory.
	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// RecordHTTPRequest records HTTP request metrics. route is the chi route pattern.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", statusClass),
	)

	t.httpRequestsTotal.Add(ctx, 1, attrs)
	t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *Telemetry) addInFlight(ctx context.Context, delta int64) {
	if t == nil || t.httpRequestsInFlight == nil {
		return
	}

	t.httpRequestsInFlight.Add(ctx, delta)
}

// RecordEngineOperation counts a call to the torrent engine.
func (t *Telemetry) RecordEngineOperation(ctx context.Context, operation, status string) {
	if t == nil || t.engineOperationsTotal == nil {
		return
	}

	t.engineOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))

	if status == statusError {
		t.engineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(ctx, 1, attrs)
	t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordReconcileTick records one reconciliation pass. status is "success", "skipped" or "error".
func (t *Telemetry) RecordReconcileTick(ctx context.Context, status string, duration time.Duration) {
	if t == nil || t.reconcileTicks == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.reconcileTicks.Add(ctx, 1, attrs)
	t.reconcileTickDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordUnmatchedJob counts an active download whose handle the engine no longer reports.
func (t *Telemetry) RecordUnmatchedJob(ctx context.Context) {
	if t == nil || t.unmatchedJobs == nil {
		return
	}

	t.unmatchedJobs.Add(ctx, 1)
}

// RecordStatusTransition counts a persisted status change by target status and origin.
func (t *Telemetry) RecordStatusTransition(ctx context.Context, to, source string) {
	if t == nil || t.statusTransitions == nil {
		return
	}

	t.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("source", source),
	))
}

// RecordDownloadConfirmed counts confirm requests per provider and outcome.
func (t *Telemetry) RecordDownloadConfirmed(ctx context.Context, provider, status string) {
	if t == nil || t.downloadsConfirmed == nil {
		return
	}

	t.downloadsConfirmed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// AddSubscribers adjusts the live subscriber gauge.
func (t *Telemetry) AddSubscribers(ctx context.Context, delta int64) {
	if t == nil || t.eventSubscribers == nil {
		return
	}

	t.eventSubscribers.Add(ctx, delta)
}

// RecordEventPublished counts a broadcast by event type.
func (t *Telemetry) RecordEventPublished(ctx context.Context, eventType string) {
	if t == nil || t.eventsPublished == nil {
		return
	}

	t.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordSubscriberDropped counts subscribers removed after a failed send.
func (t *Telemetry) RecordSubscriberDropped(ctx context.Context) {
	if t == nil || t.subscribersDropped == nil {
		return
	}

	t.subscribersDropped.Add(ctx, 1)
}

// RecordNotification counts push notifications per channel and outcome.
func (t *Telemetry) RecordNotification(ctx context.Context, channel, status string) {
	if t == nil || t.notificationsSent == nil {
		return
	}

	t.notificationsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}

// RecordSystemError records errors recovered by the process, e.g. a panicking tick.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t == nil || t.systemErrors == nil {
		return
	}

	t.systemErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("error_type", errorType),
	))
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&t.httpRequestsTotal, "http_requests_total", "Total number of HTTP requests"},
		{&t.engineOperationsTotal, "engine_operations_total", "Total number of torrent engine operations"},
		{&t.engineErrors, "engine_errors_total", "Total number of failed torrent engine operations"},
		{&t.dbOperationsTotal, "db_operations_total", "Total number of database operations"},
		{&t.reconcileTicks, "reconcile_ticks_total", "Total number of reconciliation ticks"},
		{&t.unmatchedJobs, "reconcile_unmatched_jobs_total", "Active downloads whose engine job was not found"},
		{&t.statusTransitions, "download_status_transitions_total", "Persisted download status changes"},
		{&t.downloadsConfirmed, "downloads_confirmed_total", "Download confirm requests"},
		{&t.eventsPublished, "events_published_total", "Events broadcast to subscribers"},
		{&t.subscribersDropped, "event_subscribers_dropped_total", "Subscribers dropped after a failed send"},
		{&t.notificationsSent, "notifications_sent_total", "Push notifications sent"},
		{&t.systemErrors, "system_errors_total", "Total number of system errors"},
	}

	for _, c := range counters {
		if *c.dst, err = t.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1")); err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&t.httpRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
		{&t.dbOperationDuration, "db_operation_duration_seconds", "Database operation duration in seconds"},
		{&t.reconcileTickDuration, "reconcile_tick_duration_seconds", "Reconciliation tick duration in seconds"},
	}

	for _, h := range histograms {
		if *h.dst, err = t.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s")); err != nil {
			return fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	t.eventSubscribers, err = t.meter.Int64UpDownCounter(
		"event_subscribers",
		metric.WithDescription("Number of live event subscribers"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create event_subscribers counter: %w", err)
	}

	return nil
}
