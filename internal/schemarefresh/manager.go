// Package schemarefresh keeps per-tenant catalog snapshots current and swaps
// them atomically when the underlying schema changes.
package schemarefresh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tns-records/internal/catalog"
	"tns-records/internal/logging"
	"tns-records/internal/observability"
	"tns-records/internal/schemafilter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Snapshot contains an immutable view of one tenant catalog.
type Snapshot struct {
	Catalog     *catalog.Catalog
	BuiltAt     time.Time
	Fingerprint string
	TableHashes map[string]string
}

// Config controls catalog refresh behavior.
type Config struct {
	TenantID string
	Loader   Loader
	Filters  schemafilter.Config
	Logger   *logging.Logger
	Metrics  *observability.CatalogRefreshMetrics
	// MinInterval <= 0 disables background polling; RefreshNowContext still works.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Manager maintains and refreshes one tenant's catalog snapshot.
type Manager struct {
	tenantID    string
	loader      Loader
	filters     schemafilter.Config
	logger      *logging.Logger
	metrics     *observability.CatalogRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration
	active      atomic.Pointer[Snapshot]
	refreshMu   sync.Mutex
	wg          sync.WaitGroup
}

// NewManager builds the initial snapshot and returns a manager.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("catalog refresh manager requires a loader")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval > 0 && maxInterval <= 0 {
		maxInterval = 10 * minInterval
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	manager := &Manager{
		tenantID:    cfg.TenantID,
		loader:      cfg.Loader,
		filters:     cfg.Filters,
		logger:      cfg.Logger.WithFields(slog.String("component", "catalog_refresh"), slog.String("tenant", cfg.TenantID)),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
	}

	start := time.Now()
	snapshot, err := manager.build(ctx)
	if err != nil {
		manager.recordRefresh(time.Since(start), false, "startup")
		return nil, err
	}
	manager.active.Store(snapshot)
	manager.recordRefresh(time.Since(start), true, "startup")
	manager.logger.Info("catalog loaded",
		slog.Int("tables", snapshot.Catalog.Len()),
		slog.String("fingerprint", snapshot.Fingerprint),
	)
	return manager, nil
}

// NewStatic wraps a fixed catalog in a manager that never polls.
func NewStatic(tenantID string, cat *catalog.Catalog) *Manager {
	m := &Manager{
		tenantID: tenantID,
		loader:   func(context.Context) (*catalog.Catalog, error) { return cat, nil },
		logger:   &logging.Logger{Logger: slog.Default()},
	}
	m.active.Store(&Snapshot{
		Catalog:     cat,
		BuiltAt:     time.Now(),
		Fingerprint: cat.Fingerprint(),
		TableHashes: tableHashes(cat),
	})
	return m
}

// Start begins the background refresh loop.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 {
		m.logger.Info("catalog refresh disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Current returns the active catalog.
func (m *Manager) Current() *catalog.Catalog {
	snapshot := m.CurrentSnapshot()
	if snapshot == nil {
		return nil
	}
	return snapshot.Catalog
}

// CurrentSnapshot returns the active snapshot.
func (m *Manager) CurrentSnapshot() *Snapshot {
	return m.active.Load()
}

// RefreshNowContext forces a catalog rebuild and swap.
func (m *Manager) RefreshNowContext(ctx context.Context) error {
	start := time.Now()
	snapshot, err := m.build(ctx)
	if err != nil {
		m.recordRefresh(time.Since(start), false, "manual")
		return err
	}
	m.swap(snapshot)
	m.recordRefresh(time.Since(start), true, "manual")
	return nil
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("catalog refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	start := time.Now()
	snapshot, err := m.build(ctx)
	if err != nil {
		m.logger.Warn("catalog refresh failed", slog.String("error", err.Error()))
		m.recordRefresh(time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	current := m.CurrentSnapshot()
	if current != nil && snapshot.Fingerprint == current.Fingerprint {
		m.recordRefresh(time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	m.swap(snapshot)
	*interval = m.minInterval
	m.recordRefresh(time.Since(start), true, "poll")
}

func (m *Manager) build(ctx context.Context) (*Snapshot, error) {
	ctx, span := otel.Tracer("tns-records/catalog").Start(ctx, "catalog.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", m.tenantID))

	snapshot, err := BuildSnapshot(ctx, BuildSnapshotConfig{Loader: m.loader, Filters: m.filters})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return snapshot, nil
}

// swap installs snapshot. Concurrent refreshes are serialized so the change
// log compares against the snapshot actually replaced.
func (m *Manager) swap(snapshot *Snapshot) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	previous := m.active.Swap(snapshot)
	if previous == nil {
		return
	}
	if previous.Fingerprint == snapshot.Fingerprint {
		return
	}
	m.logger.Info("catalog change detected",
		slog.String("fingerprint", snapshot.Fingerprint),
		slog.Any("changed_tables", changedTables(previous.TableHashes, snapshot.TableHashes)),
	)
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func (m *Manager) recordRefresh(duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRefresh(context.Background(), m.tenantID, duration, success, trigger)
}

func changedTables(previous map[string]string, current map[string]string) []string {
	// Compare over the union of keys so added/removed tables are surfaced too.
	keySet := make(map[string]struct{}, len(previous)+len(current))
	for key := range previous {
		keySet[key] = struct{}{}
	}
	for key := range current {
		keySet[key] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		if previous[key] != current[key] {
			changed = append(changed, key)
		}
	}
	return changed
}
