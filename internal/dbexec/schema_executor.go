package dbexec

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaExecutor runs each query on a dedicated connection after selecting
// the tenant schema, for servers that host several companies in one database.
type SchemaExecutor struct {
	db        *sql.DB
	schema    string
	statement string
}

// SchemaExecutorConfig controls schema-pinned execution.
type SchemaExecutorConfig struct {
	DB     *sql.DB
	Schema string
	// Statement selects Schema for the session, e.g. "SET search_path TO x".
	Statement string
}

// NewSchemaExecutor creates an executor that applies Statement before each query.
func NewSchemaExecutor(cfg SchemaExecutorConfig) *SchemaExecutor {
	return &SchemaExecutor{
		db:        cfg.DB,
		schema:    cfg.Schema,
		statement: cfg.Statement,
	}
}

func (e *SchemaExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	if err := requireSelect(query); err != nil {
		return nil, err
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	cleanup := func() {
		_ = conn.Close()
	}

	if e.statement != "" {
		if _, err := conn.ExecContext(ctx, e.statement); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to select schema %s: %w", e.schema, err)
		}
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &connRows{Rows: rows, cleanup: cleanup}, nil
}

// connRows releases the dedicated connection when the rows are closed.
type connRows struct {
	*sql.Rows
	cleanup func()
}

func (r *connRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
