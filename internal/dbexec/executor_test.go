package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutor(t *testing.T) {
	t.Run("nil db returns error", func(t *testing.T) {
		executor := &PoolExecutor{db: nil}

		_, err := executor.QueryContext(context.Background(), "SELECT 1")
		if err != sql.ErrConnDone {
			t.Errorf("expected ErrConnDone, got %v", err)
		}
	})

	t.Run("queries the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

		rows, err := NewPoolExecutor(db).QueryContext(context.Background(), "SELECT 1")
		require.NoError(t, err)
		cols, err := rows.Columns()
		require.NoError(t, err)
		assert.Equal(t, []string{"one"}, cols)
		require.NoError(t, rows.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects writes before touching the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewPoolExecutor(db).QueryContext(context.Background(), "DELETE FROM MATERIAL")
		assert.ErrorIs(t, err, ErrNotSelect)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRequireSelect(t *testing.T) {
	tests := []struct {
		query string
		ok    bool
	}{
		{"SELECT t0.CODIGO AS c0 FROM MATERIAL AS t0", true},
		{"  select first 10 skip 0 * from MATERIAL", true},
		{"/* tenant=192 */ SELECT COUNT(*) FROM MATERIAL AS t0", true},
		{"UPDATE MATERIAL SET CODIGO = 'x'", false},
		{"/* unterminated SELECT 1", false},
		{"SEL", false},
		{"", false},
	}
	for _, tt := range tests {
		err := requireSelect(tt.query)
		if tt.ok && err != nil {
			t.Fatalf("requireSelect(%q) = %v, want nil", tt.query, err)
		}
		if !tt.ok && !errors.Is(err, ErrNotSelect) {
			t.Fatalf("requireSelect(%q) = %v, want ErrNotSelect", tt.query, err)
		}
	}
}

func TestSchemaExecutor(t *testing.T) {
	t.Run("selects schema before the query", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`SET search_path TO "empresa_7"`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

		executor := NewSchemaExecutor(SchemaExecutorConfig{
			DB:        db,
			Schema:    "empresa_7",
			Statement: `SET search_path TO "empresa_7"`,
		})
		total, err := QueryCount(context.Background(), executor, "SELECT COUNT(*) FROM MATERIAL AS t0")
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema failure releases the connection", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("SET search_path").WillReturnError(errors.New("schema does not exist"))

		executor := NewSchemaExecutor(SchemaExecutorConfig{DB: db, Schema: "missing", Statement: "SET search_path TO missing"})
		_, err = executor.QueryContext(context.Background(), "SELECT 1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to select schema missing")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty statement runs the query directly", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

		rows, err := NewSchemaExecutor(SchemaExecutorConfig{DB: db}).QueryContext(context.Background(), "SELECT 1")
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects writes", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		executor := NewSchemaExecutor(SchemaExecutorConfig{DB: db, Statement: "SET search_path TO x"})
		_, err = executor.QueryContext(context.Background(), "INSERT INTO MATERIAL VALUES (1)")
		assert.ErrorIs(t, err, ErrNotSelect)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil db returns error", func(t *testing.T) {
		_, err := NewSchemaExecutor(SchemaExecutorConfig{}).QueryContext(context.Background(), "SELECT 1")
		assert.Equal(t, sql.ErrConnDone, err)
	})
}
