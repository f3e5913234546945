package main

import (
	"bytes"
	"testing"

	"tns-records/internal/config"
	"tns-records/internal/tenant"

	"github.com/stretchr/testify/assert"
)

func TestReportValidation(t *testing.T) {
	ok := &config.ValidationResult{
		Warnings: []config.ValidationWarning{{Field: "query.timeout", Message: "long"}},
	}
	assert.NoError(t, reportValidation(ok))

	failed := &config.ValidationResult{
		Errors: []config.ValidationError{
			{Field: "tenants", Message: "at least one tenant is required"},
			{Field: "query.max_page_size", Message: "must be positive"},
		},
	}
	err := reportValidation(failed)
	assert.EqualError(t, err, "configuration validation failed with 2 error(s)")
}

func TestPrintTenantSummary(t *testing.T) {
	cfg := &config.Config{Tenants: []tenant.Config{
		{ID: "192", Driver: "firebirdsql"},
		{ID: "acme", Driver: "pgx", Dialect: "postgres", Catalog: tenant.CatalogConfig{Source: tenant.SourceFile}},
	}}

	var buf bytes.Buffer
	printTenantSummary(&buf, cfg)

	assert.Equal(t, "configuration ok: 2 tenant(s)\n"+
		"  192\tdialect=firebirdsql\tcatalog=introspect\n"+
		"  acme\tdialect=postgres\tcatalog=file\n", buf.String())
}
