// Package tenant maps tenant identifiers to their database, dialect and
// catalog. Every tenant owns a separate connection pool.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tns-records/internal/catalog"
	"tns-records/internal/dbexec"
	"tns-records/internal/dialect"
	"tns-records/internal/planner"
	"tns-records/internal/schemafilter"
	"tns-records/internal/schemarefresh"
)

// Catalog sources.
const (
	SourceIntrospect = "introspect"
	SourceFile       = "file"
)

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// CatalogConfig controls where a tenant's identifier allow-list comes from.
type CatalogConfig struct {
	Source  string              `mapstructure:"source"`
	File    string              `mapstructure:"file"`
	Filters schemafilter.Config `mapstructure:"filters"`
}

// Config describes one tenant database.
type Config struct {
	ID string `mapstructure:"id"`
	// Driver is the database/sql driver name: mysql, pgx, postgres, sqlite3,
	// oracle or firebirdsql.
	Driver string `mapstructure:"driver"`
	// Dialect overrides the dialect derived from Driver.
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn_file"`
	// Schema, when set, is selected on a dedicated connection before each query.
	Schema string `mapstructure:"schema"`
	// Charset names the legacy encoding of text columns, e.g. WIN1252.
	Charset string        `mapstructure:"charset"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// DialectName returns the effective dialect name.
func (c Config) DialectName() string {
	if strings.TrimSpace(c.Dialect) != "" {
		return c.Dialect
	}
	return c.Driver
}

// Tenant is a live tenant: its pool, dialect, executor and catalog snapshot.
type Tenant struct {
	ID       string
	Dialect  dialect.Dialect
	DB       *sql.DB
	Executor dbexec.QueryExecutor
	Decoder  *dbexec.ValueDecoder
	Catalogs *schemarefresh.Manager

	cancelRefresh context.CancelFunc
	statsReg      interface{ Unregister() error }
}

// Catalog returns the tenant's current catalog snapshot.
func (t *Tenant) Catalog() *catalog.Catalog {
	if t == nil || t.Catalogs == nil {
		return nil
	}
	return t.Catalogs.Current()
}

// Close stops catalog refresh and closes the pool.
func (t *Tenant) Close(ctx context.Context) error {
	if t.cancelRefresh != nil {
		t.cancelRefresh()
		if t.Catalogs != nil {
			if err := t.Catalogs.Wait(ctx); err != nil {
				return fmt.Errorf("tenant %s: catalog refresh did not stop: %w", t.ID, err)
			}
		}
	}
	var errs []error
	if t.statsReg != nil {
		if err := t.statsReg.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.DB != nil {
		if err := t.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry resolves tenant ids. It is immutable after construction.
type Registry struct {
	tenants map[string]*Tenant
	ids     []string
}

// NewRegistry indexes tenants by id. Ids are matched exactly after trimming.
func NewRegistry(tenants ...*Tenant) (*Registry, error) {
	r := &Registry{tenants: make(map[string]*Tenant, len(tenants))}
	for _, t := range tenants {
		if t == nil {
			continue
		}
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("tenant id must not be empty")
		}
		if _, exists := r.tenants[id]; exists {
			return nil, fmt.Errorf("duplicate tenant id %q", id)
		}
		r.tenants[id] = t
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns the tenant with id or an UnknownTenant error.
func (r *Registry) Get(id string) (*Tenant, error) {
	if r != nil {
		if t, ok := r.tenants[strings.TrimSpace(id)]; ok {
			return t, nil
		}
	}
	return nil, planner.Errorf(planner.KindUnknownTenant, "unknown tenant %q", id)
}

// IDs returns the registered tenant ids in sorted order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.ids...)
}

// Ping checks every tenant pool and returns failures keyed by tenant id.
func (r *Registry) Ping(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	if r == nil {
		return failures
	}
	for _, id := range r.ids {
		t := r.tenants[id]
		if t.DB == nil {
			continue
		}
		if err := t.DB.PingContext(ctx); err != nil {
			failures[id] = err
		}
	}
	return failures
}

// Close closes every tenant and joins their errors.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, id := range r.ids {
		if err := r.tenants[id].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
