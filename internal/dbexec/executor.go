// Package dbexec runs compiled record queries against tenant databases.
// It supports direct execution and schema-pinned execution on a dedicated
// connection.
package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// ErrNotSelect is returned for statements that could modify tenant data.
var ErrNotSelect = errors.New("dbexec: only SELECT statements may be executed")

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor abstracts read-only SQL execution.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// PoolExecutor runs queries on any pooled connection of a tenant database.
type PoolExecutor struct {
	db *sql.DB
}

// NewPoolExecutor creates an executor backed by the connection pool of db.
func NewPoolExecutor(db *sql.DB) *PoolExecutor {
	return &PoolExecutor{db: db}
}

func (e *PoolExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	if err := requireSelect(query); err != nil {
		return nil, err
	}
	return e.db.QueryContext(ctx, query, args...)
}

// requireSelect rejects statements that do not start with SELECT. Leading
// block comments are skipped.
func requireSelect(query string) error {
	q := strings.TrimSpace(query)
	for strings.HasPrefix(q, "/*") {
		end := strings.Index(q, "*/")
		if end < 0 {
			return ErrNotSelect
		}
		q = strings.TrimSpace(q[end+2:])
	}
	if len(q) < len("SELECT") || !strings.EqualFold(q[:len("SELECT")], "SELECT") {
		return ErrNotSelect
	}
	return nil
}
