package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecordsMetrics holds custom metrics for records queries
type RecordsMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	resultsCount    metric.Int64Histogram
	joinCount       metric.Int64Histogram
	clampedPages    metric.Int64Counter
	shapeMismatches metric.Int64Counter
}

// InitRecordsMetrics initializes records query metrics
func InitRecordsMetrics() (*RecordsMetrics, error) {
	meter := otel.Meter(MeterName)

	requestDuration, err := meter.Float64Histogram(
		"records.request.duration",
		metric.WithDescription("Duration of records queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"records.requests.total",
		metric.WithDescription("Total number of records queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"records.errors.total",
		metric.WithDescription("Total number of failed records queries by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"records.requests.active",
		metric.WithDescription("Number of records queries in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"records.results.count",
		metric.WithDescription("Number of rows returned per page"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	joinCount, err := meter.Int64Histogram(
		"records.query.joins",
		metric.WithDescription("Number of joins in a compiled query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create join count histogram: %w", err)
	}

	clampedPages, err := meter.Int64Counter(
		"records.page_size.clamped.total",
		metric.WithDescription("Number of requests whose page size was clamped"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clamped page counter: %w", err)
	}

	shapeMismatches, err := meter.Int64Counter(
		"records.result_shape_mismatch.total",
		metric.WithDescription("Number of result sets missing a projected alias"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shape mismatch counter: %w", err)
	}

	return &RecordsMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		resultsCount:    resultsCount,
		joinCount:       joinCount,
		clampedPages:    clampedPages,
		shapeMismatches: shapeMismatches,
	}, nil
}

// RecordRequest records a records query with its duration and outcome.
// errorKind is empty for successful requests.
func (m *RecordsMetrics) RecordRequest(ctx context.Context, tenant, table string, duration time.Duration, errorKind string) {
	attrs := []attribute.KeyValue{
		attribute.String("tenant", tenant),
		attribute.String("table", table),
		attribute.Bool("has_errors", errorKind != ""),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("kind", errorKind),
		))
	}
}

// RecordResultsCount records the number of rows returned
func (m *RecordsMetrics) RecordResultsCount(ctx context.Context, tenant string, count int64) {
	m.resultsCount.Record(ctx, count, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// RecordJoinCount records how many joins a compiled query carried.
func (m *RecordsMetrics) RecordJoinCount(ctx context.Context, tenant string, joins int) {
	m.joinCount.Record(ctx, int64(joins), metric.WithAttributes(attribute.String("tenant", tenant)))
}

// RecordClampedPage counts a page size reduced to the configured maximum.
func (m *RecordsMetrics) RecordClampedPage(ctx context.Context, tenant string) {
	m.clampedPages.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// RecordShapeMismatch counts a driver result that lacked a projected alias.
func (m *RecordsMetrics) RecordShapeMismatch(ctx context.Context, tenant, table string) {
	m.shapeMismatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("table", table),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *RecordsMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *RecordsMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the RecordsMetrics instance
func InitMetrics(logger *slog.Logger) (*RecordsMetrics, error) {
	metrics, err := InitRecordsMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize records metrics: %w", err)
	}

	logger.Info("records metrics initialized")
	return metrics, nil
}
