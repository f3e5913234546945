// Package catalog holds the per-tenant allow-list of tables and columns that
// record queries may reference, keyed by case-insensitive logical names.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Column maps a logical column name to its real name.
type Column struct {
	Logical string
	Real    string
}

// Table maps a logical table name to its real name and allow-listed columns.
type Table struct {
	Logical string
	Real    string
	Columns []Column

	columnIndex map[string]int
}

// Catalog is an immutable set of tables. It is safe for concurrent use.
type Catalog struct {
	tables []*Table
	index  map[string]*Table
}

// Key normalizes a logical name for lookups.
func Key(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// New builds a catalog. Logical names default to the upper-cased real name.
// Tables or columns whose names are empty, contain control characters or
// placeholders, or collide with an earlier logical name are rejected.
func New(tables ...Table) (*Catalog, error) {
	c := &Catalog{index: make(map[string]*Table, len(tables))}
	for _, in := range tables {
		t, err := newTable(in)
		if err != nil {
			return nil, err
		}
		key := Key(t.Logical)
		if _, exists := c.index[key]; exists {
			return nil, fmt.Errorf("duplicate logical table %q", t.Logical)
		}
		c.index[key] = t
		c.tables = append(c.tables, t)
	}
	return c, nil
}

func newTable(in Table) (*Table, error) {
	realName := strings.TrimSpace(in.Real)
	logical := strings.TrimSpace(in.Logical)
	if realName == "" {
		realName = logical
	}
	if logical == "" {
		logical = Key(realName)
	}
	if err := validIdentifier(realName); err != nil {
		return nil, fmt.Errorf("table %q: %w", realName, err)
	}

	t := &Table{
		Logical:     logical,
		Real:        realName,
		Columns:     make([]Column, 0, len(in.Columns)),
		columnIndex: make(map[string]int, len(in.Columns)),
	}
	for _, col := range in.Columns {
		colReal := strings.TrimSpace(col.Real)
		colLogical := strings.TrimSpace(col.Logical)
		if colReal == "" {
			colReal = colLogical
		}
		if colLogical == "" {
			colLogical = Key(colReal)
		}
		if err := validIdentifier(colReal); err != nil {
			return nil, fmt.Errorf("table %q column %q: %w", realName, colReal, err)
		}
		key := Key(colLogical)
		if _, exists := t.columnIndex[key]; exists {
			return nil, fmt.Errorf("table %q: duplicate logical column %q", realName, colLogical)
		}
		t.columnIndex[key] = len(t.Columns)
		t.Columns = append(t.Columns, Column{Logical: colLogical, Real: colReal})
	}
	return t, nil
}

func validIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || r == '?' {
			return fmt.Errorf("identifier contains unsupported character %q", r)
		}
	}
	return nil
}

// Table resolves a logical table name.
func (c *Catalog) Table(name string) (*Table, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.index[Key(name)]
	return t, ok
}

// Tables returns tables in catalog order.
func (c *Catalog) Tables() []*Table {
	if c == nil {
		return nil
	}
	return c.tables
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tables)
}

// Fingerprint hashes the catalog content so refreshes can detect changes.
func (c *Catalog) Fingerprint() string {
	hash := sha256.New()
	for _, t := range c.Tables() {
		_, _ = fmt.Fprintf(hash, "%s=%s\n", t.Logical, t.Real)
		for _, col := range t.Columns {
			_, _ = fmt.Fprintf(hash, "\t%s=%s\n", col.Logical, col.Real)
		}
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// Column resolves a logical column name.
func (t *Table) Column(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	idx, ok := t.columnIndex[Key(name)]
	if !ok {
		return Column{}, false
	}
	return t.Columns[idx], true
}
