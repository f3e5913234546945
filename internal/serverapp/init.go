package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"tns-records/internal/records"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, recordsMetrics, refreshMetrics, securityMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("opening tenants", slog.Int("count", len(a.cfg.Tenants)))
	registry, err := openTenants(ctx, a.cfg, a.logger, refreshMetrics)
	if err != nil {
		return fmt.Errorf("failed to open tenants: %w", err)
	}
	cleanup.push("tenants", func(shutdownCtx context.Context) error {
		return registry.Close(shutdownCtx)
	})

	service := records.NewService(registry, records.Config{
		Limits:        a.cfg.Query.Limits(),
		Timeout:       a.cfg.Query.Timeout,
		WarnUnordered: a.cfg.Query.WarnUnordered,
	}, a.logger, recordsMetrics)

	recordsHandler := buildRecordsHandler(a.cfg, a.logger, service, securityMetrics)

	adminHandler, err := buildAdminHandler(a.cfg, a.logger, registry, securityMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize admin handler: %w", err)
	}

	mux := buildRouter(a.cfg, a.logger, registry, recordsHandler, adminHandler, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux, securityMetrics)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, tlsManager, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})
	if tlsManager != nil {
		cleanup.push("TLS manager", func(_ context.Context) error {
			return tlsManager.Shutdown()
		})
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.recordsMetrics = recordsMetrics
	a.refreshMetrics = refreshMetrics
	a.securityMetrics = securityMetrics
	a.tracerProvider = tracerProvider
	a.tenants = registry
	a.service = service
	a.recordsHandler = recordsHandler
	a.adminHandler = adminHandler
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.tlsManager = tlsManager
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
