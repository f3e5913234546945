package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"tns-records/internal/catalog"
	"tns-records/internal/schemafilter"
)

// Loader produces a tenant's unfiltered catalog, from introspection or a file.
type Loader func(ctx context.Context) (*catalog.Catalog, error)

// BuildSnapshotConfig defines inputs for catalog snapshot assembly.
type BuildSnapshotConfig struct {
	Loader  Loader
	Filters schemafilter.Config
}

// BuildSnapshot runs the canonical load, filter, fingerprint pipeline used by
// the manager and tests.
func BuildSnapshot(ctx context.Context, cfg BuildSnapshotConfig) (*Snapshot, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("catalog builder requires a loader")
	}
	raw, err := cfg.Loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	filtered, err := schemafilter.Apply(raw, cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to filter catalog: %w", err)
	}
	if filtered.Len() == 0 {
		return nil, fmt.Errorf("catalog is empty after filtering")
	}

	return &Snapshot{
		Catalog:     filtered,
		BuiltAt:     time.Now(),
		Fingerprint: filtered.Fingerprint(),
		TableHashes: tableHashes(filtered),
	}, nil
}

// tableHashes fingerprints each table so refresh logs can name what changed.
func tableHashes(cat *catalog.Catalog) map[string]string {
	out := make(map[string]string, cat.Len())
	for _, table := range cat.Tables() {
		hash := sha256.New()
		_, _ = fmt.Fprintf(hash, "%s\n", table.Real)
		for _, col := range table.Columns {
			// Length-prefixed cells avoid hash ambiguity from delimiter collisions.
			_, _ = fmt.Fprintf(hash, "%d:%s|%d:%s\n", len(col.Logical), col.Logical, len(col.Real), col.Real)
		}
		out[table.Logical] = hex.EncodeToString(hash.Sum(nil))
	}
	return out
}
