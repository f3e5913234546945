package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CatalogRefreshMetrics tracks how tenant catalogs are (re)loaded.
type CatalogRefreshMetrics struct {
	refreshCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram

	mu          sync.Mutex
	lastSuccess map[string]int64
}

// InitCatalogRefreshMetrics initializes catalog refresh metrics.
func InitCatalogRefreshMetrics(logger *slog.Logger) (*CatalogRefreshMetrics, error) {
	meter := otel.Meter(MeterName)

	refreshCounter, err := meter.Int64Counter(
		"catalog.refresh.total",
		metric.WithDescription("Total number of catalog refresh attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog refresh counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"catalog.refresh.errors.total",
		metric.WithDescription("Total number of failed catalog refresh attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog refresh error counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"catalog.refresh.duration",
		metric.WithDescription("Duration of catalog refresh attempts in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog refresh duration histogram: %w", err)
	}

	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"catalog.refresh.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful catalog refresh per tenant"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog refresh last success gauge: %w", err)
	}

	metrics := &CatalogRefreshMetrics{
		refreshCounter: refreshCounter,
		errorCounter:   errorCounter,
		durationHist:   durationHist,
		lastSuccess:    make(map[string]int64),
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			metrics.mu.Lock()
			defer metrics.mu.Unlock()
			for tenant, value := range metrics.lastSuccess {
				observer.ObserveInt64(lastSuccessGauge, value, metric.WithAttributes(attribute.String("tenant", tenant)))
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register catalog refresh gauge callback: %w", err)
	}

	logger.Info("catalog refresh metrics initialized")
	return metrics, nil
}

// RecordRefresh records one catalog load for a tenant.
func (m *CatalogRefreshMetrics) RecordRefresh(ctx context.Context, tenant string, duration time.Duration, success bool, trigger string) {
	attrs := []attribute.KeyValue{
		attribute.String("tenant", tenant),
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	}

	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("trigger", trigger),
		))
		return
	}

	m.mu.Lock()
	m.lastSuccess[tenant] = time.Now().Unix()
	m.mu.Unlock()
}
