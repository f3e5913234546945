package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tns-records/internal/config"
	"tns-records/internal/logging"
	"tns-records/internal/middleware"
	"tns-records/internal/observability"
	"tns-records/internal/planner"
	"tns-records/internal/records"
	"tns-records/internal/tenant"
	"tns-records/internal/tlscert"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	recordsPath       = "/records"
	healthPath        = "/health"
	metricsPath       = "/metrics"
	catalogReloadPath = "/admin/reload-catalog"
)

func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          logsConfig.Endpoint,
			Protocol:          logsConfig.Protocol,
			Insecure:          logsConfig.Insecure,
			TLSCertFile:       logsConfig.TLSCertFile,
			TLSClientCertFile: logsConfig.TLSClientCertFile,
			TLSClientKeyFile:  logsConfig.TLSClientKeyFile,
			Headers:           logsConfig.Headers,
			Timeout:           logsConfig.Timeout,
			Compression:       logsConfig.Compression,
			RetryEnabled:      logsConfig.RetryEnabled,
			RetryMaxAttempts:  logsConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.RecordsMetrics, *observability.CatalogRefreshMetrics, *observability.SecurityMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     observability.OTLPExporterConfig{},
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")

	recordsMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	refreshMetrics, err := observability.InitCatalogRefreshMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger.Info("security metrics initialized")

	return meterProvider, recordsMetrics, refreshMetrics, securityMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          tracesConfig.Endpoint,
			Protocol:          tracesConfig.Protocol,
			Insecure:          tracesConfig.Insecure,
			TLSCertFile:       tracesConfig.TLSCertFile,
			TLSClientCertFile: tracesConfig.TLSClientCertFile,
			TLSClientKeyFile:  tracesConfig.TLSClientKeyFile,
			Headers:           tracesConfig.Headers,
			Timeout:           tracesConfig.Timeout,
			Compression:       tracesConfig.Compression,
			RetryEnabled:      tracesConfig.RetryEnabled,
			RetryMaxAttempts:  tracesConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

// openTenants opens every configured tenant concurrently. Any failure closes
// the tenants that did open.
func openTenants(ctx context.Context, cfg *config.Config, logger *logging.Logger, refreshMetrics *observability.CatalogRefreshMetrics) (*tenant.Registry, error) {
	opts := tenant.OpenOptions{
		Logger:                  logger,
		MetricsEnabled:          cfg.Observability.MetricsEnabled,
		TracingEnabled:          cfg.Observability.TracingEnabled,
		SQLCommenterEnabled:     cfg.Observability.SQLCommenterEnabled,
		ConnectionTimeout:       cfg.Database.ConnectionTimeout,
		ConnectionRetryInterval: cfg.Database.ConnectionRetryInterval,
		RefreshMetrics:          refreshMetrics,
		RefreshMinInterval:      cfg.Catalog.RefreshMinInterval,
		RefreshMaxInterval:      cfg.Catalog.RefreshMaxInterval,
	}
	if cfg.Observability.SQLCommenterEnabled && !cfg.Observability.TracingEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	opened := make([]*tenant.Tenant, len(cfg.Tenants))
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range cfg.Tenants {
		g.Go(func() error {
			t, err := tenant.Open(gctx, tc, opts)
			if err != nil {
				return err
			}
			opened[i] = t
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		var registry *tenant.Registry
		registry, err = tenant.NewRegistry(opened...)
		if err == nil {
			logger.Info("tenants ready", slog.Any("tenants", registry.IDs()))
			return registry, nil
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, t := range opened {
		if t == nil {
			continue
		}
		if closeErr := t.Close(closeCtx); closeErr != nil {
			logger.Warn("failed to close tenant", slog.String("tenant", t.ID), slog.String("error", closeErr.Error()))
		}
	}
	return nil, err
}

func buildRecordsHandler(cfg *config.Config, logger *logging.Logger, service *records.Service, securityMetrics *observability.SecurityMetrics) http.Handler {
	handler := records.NewHandler(service, records.HandlerConfig{
		MaxBodyBytes: cfg.Query.MaxBodyBytes,
		Security:     securityMetrics,
	})
	return middleware.LoggingMiddleware(logger, records.TenantHeader)(handler)
}

func buildAdminHandler(cfg *config.Config, logger *logging.Logger, registry *tenant.Registry, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	if !cfg.Server.Admin.CatalogReloadEnabled {
		return nil, nil
	}

	var adminHandler http.Handler = http.HandlerFunc(catalogReloadHandler(registry, securityMetrics))
	authMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token:      cfg.Server.Admin.AuthToken,
		HeaderName: cfg.Server.Admin.AuthTokenHeader,
		OnRejected: func(r *http.Request, reason string) {
			logging.FromContext(r.Context()).Warn("admin request rejected",
				slog.String("reason", reason),
				slog.String("remote_addr", r.RemoteAddr),
			)
			if securityMetrics != nil {
				securityMetrics.RecordUnauthorizedAttempt(r.Context(), catalogReloadPath, reason)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	logger.Info("admin endpoints require a shared token",
		slog.String("header", cfg.Server.Admin.AuthTokenHeader))
	return middleware.LoggingMiddleware(logger, "")(authMiddleware(adminHandler)), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, registry *tenant.Registry, recordsHandler http.Handler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(recordsPath, recordsHandler)
	mux.Handle(recordsPath+"/", recordsHandler)
	mux.HandleFunc(healthPath, healthHandler(registry, cfg.Server.HealthCheckTimeout))

	if cfg.Server.Admin.CatalogReloadEnabled && adminHandler != nil {
		mux.Handle(catalogReloadPath, adminHandler)
		logger.Info("catalog reload endpoint enabled", slog.String("path", catalogReloadPath))
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler, securityMetrics *observability.SecurityMetrics) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		rl := middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
			OnLimited: func(r *http.Request) {
				if securityMetrics != nil {
					securityMetrics.RecordRateLimited(r.Context(), normalizeHTTPSpanRoute(r.URL.Path))
				}
			},
		}
		if cfg.Server.RateLimitPerTenant {
			rl.KeyHeader = records.TenantHeader
		}
		handler = middleware.RateLimitMiddleware(rl)(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case recordsPath, healthPath, metricsPath, catalogReloadPath:
		return rawPath
	case recordsPath + "/":
		return recordsPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, tlscert.Manager, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var tlsManager tlscert.Manager
	tlsEnabled := cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
	if tlsEnabled {
		// Map tls_mode to tlscert.CertMode
		var certMode tlscert.CertMode
		switch cfg.Server.TLSMode {
		case "auto":
			certMode = tlscert.CertModeSelfSigned
		case "file":
			certMode = tlscert.CertModeFile
		default:
			certMode = tlscert.CertMode(cfg.Server.TLSMode)
		}

		tlsConfig := tlscert.Config{
			Mode:              certMode,
			CertFile:          cfg.Server.TLSCertFile,
			KeyFile:           cfg.Server.TLSKeyFile,
			SelfSignedCertDir: cfg.Server.TLSAutoCertDir,
		}

		var err error
		tlsManager, err = tlscert.NewManager(tlsConfig, logger.Logger)
		if err != nil {
			return nil, nil, err
		}

		srv.TLSConfig, err = tlsManager.GetTLSConfig()
		if err != nil {
			return nil, nil, err
		}

		logger.Info("TLS enabled",
			slog.String("mode", cfg.Server.TLSMode),
			slog.String("cert_source", tlsManager.Description()))
	}

	return srv, tlsManager, nil
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	tlsEnabled := cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
	go func() {
		protocol := "http"
		if tlsEnabled {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("records_endpoint", recordsPath),
			slog.String("health_endpoint", healthPath),
			slog.Int("tenants", len(cfg.Tenants)),
			slog.Int("default_page_size", cfg.Query.DefaultPageSize),
			slog.Int("max_page_size", cfg.Query.MaxPageSize),
			slog.Duration("query_timeout", cfg.Query.Timeout),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}

		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", metricsPath))
		}

		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
				slog.Bool("rate_limit_per_tenant", cfg.Server.RateLimitPerTenant),
			)
		}

		if tlsEnabled {
			logAttrs = append(logAttrs,
				slog.Bool("tls_enabled", true),
				slog.String("tls_mode", cfg.Server.TLSMode))
		} else {
			logAttrs = append(logAttrs, slog.Bool("tls_enabled", false))
		}

		logger.Info("server starting", logAttrs...)

		var err error
		if tlsEnabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

type healthResponse struct {
	Status  string            `json:"status"`
	Tenants map[string]string `json:"tenants"`
}

// healthHandler pings every tenant pool. One failing tenant makes the
// service unhealthy.
func healthHandler(registry *tenant.Registry, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		failures := registry.Ping(ctx)
		resp := healthResponse{Status: "healthy", Tenants: make(map[string]string)}
		for _, id := range registry.IDs() {
			if err, failed := failures[id]; failed {
				// Return generic status to avoid leaking internal details
				resp.Tenants[id] = "failed"
				reqLogger.Error("health check failed",
					slog.String("tenant", id),
					slog.String("error", err.Error()),
					slog.String("check", "database"),
				)
				continue
			}
			resp.Tenants[id] = "ok"
		}

		status := http.StatusOK
		if len(failures) > 0 {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			reqLogger.Debug("health check passed")
		}
		writeJSON(w, status, resp)
	}
}

type reloadResponse struct {
	Status  string   `json:"status"`
	Tenants []string `json:"tenants,omitempty"`
	Message string   `json:"message,omitempty"`
}

// catalogReloadHandler refreshes the catalog of one tenant (?tenant=ID) or of
// every tenant.
func catalogReloadHandler(registry *tenant.Registry, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, reloadResponse{Status: "error", Message: "method not allowed"})
			return
		}

		ids := registry.IDs()
		if requested := strings.TrimSpace(r.URL.Query().Get("tenant")); requested != "" {
			if _, err := registry.Get(requested); err != nil {
				if securityMetrics != nil {
					securityMetrics.RecordUnknownTenant(r.Context(), requested)
				}
				writeJSON(w, records.StatusFor(planner.KindOf(err)), reloadResponse{Status: "error", Message: err.Error()})
				return
			}
			ids = []string{requested}
		}

		reqLogger.Info("admin endpoint accessed",
			slog.String("operation", "catalog_reload"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Any("tenants", ids),
		)

		refreshCtx, refreshCancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer refreshCancel()

		for _, id := range ids {
			t, _ := registry.Get(id)
			if err := t.Catalogs.RefreshNowContext(refreshCtx); err != nil {
				if securityMetrics != nil {
					securityMetrics.RecordAdminEndpointAccess(r.Context(), "catalog_reload", true, false)
				}
				reqLogger.Error("catalog reload failed", slog.String("tenant", id), slog.String("error", err.Error()))
				// Return generic error message to avoid leaking internal details
				writeJSON(w, http.StatusInternalServerError, reloadResponse{Status: "error", Message: "catalog reload failed for tenant " + id})
				return
			}
		}

		if securityMetrics != nil {
			securityMetrics.RecordAdminEndpointAccess(r.Context(), "catalog_reload", true, true)
		}
		reqLogger.Info("catalogs reloaded successfully", slog.Any("tenants", ids))
		writeJSON(w, http.StatusOK, reloadResponse{Status: "ok", Tenants: ids})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
