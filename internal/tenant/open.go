package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tns-records/internal/catalog"
	"tns-records/internal/dbexec"
	"tns-records/internal/dialect"
	"tns-records/internal/logging"
	"tns-records/internal/observability"
	"tns-records/internal/schemarefresh"

	"github.com/XSAM/otelsql"
	"github.com/spf13/afero"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenOptions carries the process-wide settings shared by every tenant.
type OpenOptions struct {
	Logger *logging.Logger

	MetricsEnabled      bool
	TracingEnabled      bool
	SQLCommenterEnabled bool

	// ConnectionTimeout bounds startup retries; 0 tries once.
	ConnectionTimeout       time.Duration
	ConnectionRetryInterval time.Duration

	RefreshMetrics     *observability.CatalogRefreshMetrics
	RefreshMinInterval time.Duration
	RefreshMaxInterval time.Duration

	// Fs reads catalog files; defaults to the OS filesystem.
	Fs afero.Fs
}

// Open connects a tenant, waits for its database, loads its catalog and
// starts catalog refresh. The returned tenant owns the pool.
func Open(ctx context.Context, cfg Config, opts OpenOptions) (*Tenant, error) {
	if opts.Logger == nil {
		opts.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	logger := opts.Logger.WithTenant(cfg.ID)

	d, err := dialect.Lookup(cfg.DialectName())
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", cfg.ID, err)
	}
	decoder, err := dbexec.NewValueDecoder(cfg.Charset)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", cfg.ID, err)
	}

	db, statsReg, err := connect(cfg, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: failed to open database: %w", cfg.ID, err)
	}
	t := &Tenant{
		ID:       cfg.ID,
		Dialect:  d,
		DB:       db,
		Decoder:  decoder,
		statsReg: statsReg,
	}

	fail := func(err error) (*Tenant, error) {
		_ = t.Close(context.Background())
		return nil, err
	}

	configurePool(db, cfg.Pool)
	if err := waitForDatabase(ctx, opts, logger, db); err != nil {
		return fail(fmt.Errorf("tenant %s: %w", cfg.ID, err))
	}

	sessionSQL := ""
	if cfg.Schema != "" {
		sessionSQL = d.SessionSchema(cfg.Schema)
		if sessionSQL == "" {
			return fail(fmt.Errorf("tenant %s: dialect %s cannot select schema %q", cfg.ID, d.Name(), cfg.Schema))
		}
		t.Executor = dbexec.NewSchemaExecutor(dbexec.SchemaExecutorConfig{DB: db, Schema: cfg.Schema, Statement: sessionSQL})
	} else {
		t.Executor = dbexec.NewPoolExecutor(db)
	}

	loader, err := catalogLoader(cfg, opts.Fs, db, d, sessionSQL)
	if err != nil {
		return fail(fmt.Errorf("tenant %s: %w", cfg.ID, err))
	}
	minInterval := opts.RefreshMinInterval
	if cfg.Catalog.Source == SourceFile {
		// File catalogs change only on explicit reload.
		minInterval = 0
	}
	manager, err := schemarefresh.NewManager(ctx, schemarefresh.Config{
		TenantID:    cfg.ID,
		Loader:      loader,
		Filters:     cfg.Catalog.Filters,
		Logger:      opts.Logger,
		Metrics:     opts.RefreshMetrics,
		MinInterval: minInterval,
		MaxInterval: opts.RefreshMaxInterval,
	})
	if err != nil {
		return fail(fmt.Errorf("tenant %s: failed to load catalog: %w", cfg.ID, err))
	}
	t.Catalogs = manager

	refreshCtx, cancel := context.WithCancel(context.Background())
	t.cancelRefresh = cancel
	manager.Start(refreshCtx)

	logger.Info("tenant ready",
		slog.String("driver", cfg.Driver),
		slog.String("dialect", d.Name()),
		slog.String("catalog_source", catalogSource(cfg)),
		slog.Int("tables", manager.Current().Len()),
		slog.String("charset", decoder.Charset()),
		slog.Bool("schema_pinned", cfg.Schema != ""),
	)
	return t, nil
}

func catalogSource(cfg Config) string {
	if cfg.Catalog.Source == "" {
		return SourceIntrospect
	}
	return cfg.Catalog.Source
}

func catalogLoader(cfg Config, fs afero.Fs, db *sql.DB, d dialect.Dialect, sessionSQL string) (schemarefresh.Loader, error) {
	switch catalogSource(cfg) {
	case SourceFile:
		if strings.TrimSpace(cfg.Catalog.File) == "" {
			return nil, fmt.Errorf("catalog.file is required when catalog.source is %q", SourceFile)
		}
		path := cfg.Catalog.File
		return func(context.Context) (*catalog.Catalog, error) {
			return catalog.LoadFile(fs, path)
		}, nil
	case SourceIntrospect:
		query := d.CatalogQuery()
		return func(ctx context.Context) (*catalog.Catalog, error) {
			if sessionSQL == "" {
				return catalog.Introspect(ctx, db, query)
			}
			// Introspection must see the same schema as the queries.
			conn, err := db.Conn(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to acquire connection: %w", err)
			}
			defer conn.Close()
			if _, err := conn.ExecContext(ctx, sessionSQL); err != nil {
				return nil, fmt.Errorf("failed to select schema: %w", err)
			}
			return catalog.Introspect(ctx, conn, query)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported catalog source %q", cfg.Catalog.Source)
	}
}

func connect(cfg Config, opts OpenOptions, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if !opts.MetricsEnabled && !opts.TracingEnabled {
		db, err := sql.Open(cfg.Driver, cfg.DSN)
		return db, nil, err
	}

	system := semconv.DBSystemKey.String(dbSystemFor(cfg.Driver))
	options := []otelsql.Option{otelsql.WithAttributes(system)}
	if opts.TracingEnabled {
		options = append(options, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
		if opts.SQLCommenterEnabled {
			options = append(options, otelsql.WithSQLCommenter(true))
		}
	} else if opts.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(cfg.Driver, cfg.DSN, options...)
	if err != nil {
		return nil, nil, err
	}

	var statsReg interface{ Unregister() error }
	if opts.MetricsEnabled {
		statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	return db, statsReg, nil
}

func dbSystemFor(driver string) string {
	if system, ok := dbSystems[driver]; ok {
		return system
	}
	return "other_sql"
}

func configurePool(db *sql.DB, pool PoolConfig) {
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
}

func waitForDatabase(ctx context.Context, opts OpenOptions, logger *logging.Logger, db *sql.DB) error {
	timeout := opts.ConnectionTimeout
	interval := opts.ConnectionRetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}
