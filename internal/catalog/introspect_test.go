package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogQuery = "SELECT table_name, column_name FROM columns ORDER BY table_name, position"

func TestIntrospect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_name", "column_name"}).
		AddRow("GRUPMAT                        ", "CODIGO   ").
		AddRow("GRUPMAT", "DESCRIP").
		AddRow("MATERIAL", "CODIGO").
		AddRow("MATERIAL", "GRUPMATID")
	mock.ExpectQuery("SELECT table_name, column_name FROM columns").WillReturnRows(rows)

	cat, err := Introspect(context.Background(), db, testCatalogQuery)
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())

	grupmat, ok := cat.Table("grupmat")
	require.True(t, ok)
	assert.Equal(t, "GRUPMAT", grupmat.Real)
	assert.Equal(t, []Column{{Logical: "CODIGO", Real: "CODIGO"}, {Logical: "DESCRIP", Real: "DESCRIP"}}, grupmat.Columns)

	material, ok := cat.Table("MATERIAL")
	require.True(t, ok)
	_, ok = material.Column("grupmatid")
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospectQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_name, column_name FROM columns").WillReturnError(errors.New("connection refused"))

	_, err = Introspect(context.Background(), db, testCatalogQuery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospectEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_name, column_name FROM columns").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}))

	cat, err := Introspect(context.Background(), db, testCatalogQuery)
	require.NoError(t, err)
	assert.Zero(t, cat.Len())
}
