// Package records serves paged, filtered reads over tenant ERP tables.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tns-records/internal/dbexec"
	"tns-records/internal/logging"
	"tns-records/internal/observability"
	"tns-records/internal/planner"
	"tns-records/internal/tenant"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout bounds the count and data queries of one request.
const DefaultTimeout = 30 * time.Second

// Tenants resolves tenant ids.
type Tenants interface {
	Get(id string) (*tenant.Tenant, error)
}

// Config controls query compilation and execution.
type Config struct {
	Limits  planner.PageLimits
	Timeout time.Duration
	// WarnUnordered logs requests that page without an order.
	WarnUnordered bool
}

// Result is one page of records.
type Result struct {
	Data     []planner.Record `json:"data"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// Service compiles and executes records queries.
type Service struct {
	tenants Tenants
	cfg     Config
	logger  *logging.Logger
	metrics *observability.RecordsMetrics
}

// NewService creates a records service. metrics may be nil.
func NewService(tenants Tenants, cfg Config, logger *logging.Logger, metrics *observability.RecordsMetrics) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	return &Service{tenants: tenants, cfg: cfg, logger: logger, metrics: metrics}
}

// Query runs spec for tenantID and returns the requested page plus the total
// row count. Errors are *planner.Error for every classified failure.
func (s *Service) Query(ctx context.Context, tenantID string, spec planner.QuerySpec) (result *Result, err error) {
	ctx, span := otel.Tracer(observability.MeterName).Start(ctx, "records.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("records.table", spec.Table),
		attribute.Int("records.joins", len(spec.Joins)),
	)

	logger := s.logger.WithTenant(tenantID)
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		logger = logger.WithRequestID(requestID)
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.IncrementActiveRequests(ctx)
		defer s.metrics.DecrementActiveRequests(ctx)
	}
	defer func() {
		kind := ""
		if err != nil {
			kind = string(planner.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		if s.metrics != nil {
			s.metrics.RecordRequest(ctx, tenantID, spec.Table, time.Since(start), kind)
		}
	}()

	t, err := s.tenants.Get(tenantID)
	if err != nil {
		return nil, err
	}

	compiled, err := planner.Compile(spec, t.Catalog(), planner.Options{Dialect: t.Dialect, Limits: s.cfg.Limits})
	if err != nil {
		logger.Debug("records query rejected",
			slog.String("kind", string(planner.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.report(ctx, logger, tenantID, spec, compiled)

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	total, err := dbexec.QueryCount(queryCtx, t.Executor, compiled.Count.SQL, compiled.Count.Args...)
	if err != nil {
		return nil, s.executionError(logger, "count", err)
	}

	rows, err := dbexec.QueryMaps(queryCtx, t.Executor, t.Decoder, compiled.Data.SQL, compiled.Data.Args...)
	if err != nil {
		return nil, s.executionError(logger, "data", err)
	}

	records, err := planner.Demap(compiled.Columns, rows)
	if err != nil {
		logger.Error("result shape mismatch",
			slog.String("table", spec.Table),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordShapeMismatch(ctx, tenantID, spec.Table)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordResultsCount(ctx, tenantID, int64(len(records)))
	}
	span.SetAttributes(attribute.Int64("records.total", total), attribute.Int("records.rows", len(records)))

	return &Result{
		Data:     records,
		Total:    total,
		Page:     compiled.Page,
		PageSize: compiled.PageSize,
	}, nil
}

func (s *Service) report(ctx context.Context, logger *logging.Logger, tenantID string, spec planner.QuerySpec, compiled *planner.CompiledQuery) {
	if s.metrics != nil {
		s.metrics.RecordJoinCount(ctx, tenantID, len(spec.Joins))
		if compiled.Clamped {
			s.metrics.RecordClampedPage(ctx, tenantID)
		}
	}
	for _, warning := range compiled.Warnings {
		if warning == planner.WarnUnordered && !s.cfg.WarnUnordered {
			continue
		}
		logger.Warn("records query warning",
			slog.String("table", spec.Table),
			slog.String("warning", warning),
		)
	}
	logger.Debug("records query compiled",
		slog.String("table", spec.Table),
		slog.String("sql", compiled.Data.SQL),
		slog.Int("params", len(compiled.Data.Args)),
		slog.Int("page", compiled.Page),
		slog.Int("page_size", compiled.PageSize),
	)
}

func (s *Service) executionError(logger *logging.Logger, stage string, err error) error {
	if errors.Is(err, dbexec.ErrTimeout) {
		logger.Warn("records query timed out", slog.String("stage", stage), slog.Duration("timeout", s.cfg.Timeout))
		return planner.Errorf(planner.KindQueryTimeout, "query exceeded %s", s.cfg.Timeout)
	}
	logger.Error("records query failed", slog.String("stage", stage), slog.String("error", err.Error()))
	return fmt.Errorf("%s query failed: %w", stage, err)
}
