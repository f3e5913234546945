// Package pgcontainer provides isolated PostgreSQL databases for integration
// tests, backed by one shared testcontainers instance per test binary.
package pgcontainer

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Image is the PostgreSQL image started for tests.
const Image = "postgres:16-alpine"

var (
	singletonOnce sync.Once
	singletonDSN  string
	singletonErr  error
)

// TestDB is one isolated database inside the shared container.
type TestDB struct {
	DB           *sql.DB
	DSN          string
	DatabaseName string

	adminDSN string
}

func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		ctx := context.Background()

		container, err := postgres.Run(ctx,
			Image,
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}
		// The container is not stored; ryuk removes it when the test binary exits.
		singletonDSN = dsn
	})
	return singletonDSN, singletonErr
}

// NewTestDB creates a fresh database for t and drops it when t finishes.
// Set TNSREC_SKIP_CONTAINERS to skip tests that need Docker.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	if os.Getenv("TNSREC_SKIP_CONTAINERS") != "" {
		t.Skip("TNSREC_SKIP_CONTAINERS is set")
	}

	adminDSN, err := ensureSingleton()
	if err != nil {
		t.Fatalf("%v", err)
	}

	dbName := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	if !isValidDatabaseName(dbName) {
		t.Fatalf("Invalid database name generated: %s", dbName)
	}

	admin, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer func() {
		if closeErr := admin.Close(); closeErr != nil {
			t.Logf("Warning: failed to close admin connection: %v", closeErr)
		}
	}()
	if _, err := admin.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	dsn, err := replaceDBName(adminDSN, dbName)
	if err != nil {
		t.Fatalf("Failed to build test DSN: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to ping test database: %v", err)
	}

	testDB := &TestDB{DB: db, DSN: dsn, DatabaseName: dbName, adminDSN: adminDSN}
	t.Cleanup(func() {
		testDB.Teardown(t)
	})
	return testDB
}

// Teardown closes the connection and drops the database.
func (tdb *TestDB) Teardown(t *testing.T) {
	t.Helper()

	if tdb.DB != nil {
		if err := tdb.DB.Close(); err != nil {
			t.Logf("Warning: failed to close test database connection: %v", err)
		}
	}
	if !isValidDatabaseName(tdb.DatabaseName) {
		return
	}
	admin, err := sql.Open("pgx", tdb.adminDSN)
	if err != nil {
		t.Logf("Warning: failed to reconnect for teardown: %v", err)
		return
	}
	defer admin.Close()
	if _, err := admin.Exec("DROP DATABASE IF EXISTS " + pq.QuoteIdentifier(tdb.DatabaseName) + " WITH (FORCE)"); err != nil {
		t.Logf("Warning: Failed to drop test database %s: %v", tdb.DatabaseName, err)
	}
}

// Exec runs semicolon-separated statements in order.
func (tdb *TestDB) Exec(t *testing.T, script string) {
	t.Helper()
	for i, stmt := range splitSQL(script) {
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

// LoadFile runs the statements in a SQL file.
func (tdb *TestDB) LoadFile(t *testing.T, path string) {
	t.Helper()
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read SQL file %s: %v", path, err)
	}
	tdb.Exec(t, string(payload))
}

func replaceDBName(dsn, dbName string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func splitSQL(script string) []string {
	statements := strings.Split(script, ";")
	result := make([]string, 0, len(statements))
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}

func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range strings.ToLower(name) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	// PostgreSQL identifiers max out at 63 bytes; leave room for the timestamp.
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

func isValidDatabaseName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, ch := range name {
		if !isValidDatabaseChar(ch) {
			return false
		}
	}
	return true
}

func isValidDatabaseChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '_'
}
