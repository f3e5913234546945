package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts rejected and privileged traffic.
type SecurityMetrics struct {
	adminEndpointAccess  metric.Int64Counter
	unauthorizedAttempts metric.Int64Counter
	rateLimited          metric.Int64Counter
	unknownTenants       metric.Int64Counter
}

// InitSecurityMetrics initializes security-specific metrics
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter(MeterName + "/security")

	adminEndpointAccess, err := meter.Int64Counter(
		"security.admin.access.total",
		metric.WithDescription("Total number of admin endpoint access attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin endpoint access counter: %w", err)
	}

	unauthorizedAttempts, err := meter.Int64Counter(
		"security.unauthorized.attempts.total",
		metric.WithDescription("Total number of unauthorized access attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unauthorized attempts counter: %w", err)
	}

	rateLimited, err := meter.Int64Counter(
		"security.rate_limited.total",
		metric.WithDescription("Total number of requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limited counter: %w", err)
	}

	unknownTenants, err := meter.Int64Counter(
		"security.unknown_tenant.total",
		metric.WithDescription("Total number of requests naming an unconfigured tenant"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unknown tenant counter: %w", err)
	}

	return &SecurityMetrics{
		adminEndpointAccess:  adminEndpointAccess,
		unauthorizedAttempts: unauthorizedAttempts,
		rateLimited:          rateLimited,
		unknownTenants:       unknownTenants,
	}, nil
}

// RecordAdminEndpointAccess records access to admin endpoints
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated bool, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Bool("authenticated", authenticated),
		attribute.Bool("success", success),
	}
	m.adminEndpointAccess.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUnauthorizedAttempt records an unauthorized access attempt
func (m *SecurityMetrics) RecordUnauthorizedAttempt(ctx context.Context, endpoint, reason string) {
	m.unauthorizedAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordRateLimited records a request rejected for exceeding the rate limit.
func (m *SecurityMetrics) RecordRateLimited(ctx context.Context, endpoint string) {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordUnknownTenant records a request for a tenant that is not configured.
func (m *SecurityMetrics) RecordUnknownTenant(ctx context.Context, tenant string) {
	m.unknownTenants.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}
