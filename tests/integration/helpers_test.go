//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tns-records/internal/logging"
	"tns-records/internal/records"
	"tns-records/internal/tenant"
	"tns-records/internal/testutil/pgcontainer"

	"github.com/stretchr/testify/require"
)

// erpSchema mirrors the legacy ERP naming: upper-case quoted identifiers.
const erpSchema = `
CREATE TABLE "GRUPMAT" ("GRUPMATID" integer PRIMARY KEY, "CODIGO" varchar(10), "DESCRIP" varchar(60));
CREATE TABLE "MATERIAL" ("MATID" integer PRIMARY KEY, "CODIGO" varchar(20), "DESCRIP" varchar(80), "GRUPMATID" integer, "PRECIO" numeric(12,2));
CREATE TABLE "MATERIALSUC" ("MATID" integer, "SUCID" integer, "COSTO" numeric(12,2), "EXISTENC" numeric(12,2));
INSERT INTO "GRUPMAT" VALUES (1, 'FER', 'FERRETERIA'), (2, 'ELE', 'ELECTRICOS');
INSERT INTO "MATERIAL" VALUES
  (10, 'A001', 'MARTILLO', 1, 25.50),
  (11, 'A002', 'DESTORNILLADOR', 1, 12.00),
  (12, 'B001', 'CABLE 12 AWG', 2, 3.10),
  (13, 'B002', 'INTERRUPTOR', 2, 8.75),
  (14, 'C001', 'SIN GRUPO', NULL, 1.00);
INSERT INTO "MATERIALSUC" VALUES (10, 1, 20.00, 5), (11, 1, 9.00, 0), (12, 1, 2.50, 300)
`

func requireIntegrationEnv(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

func newERPDatabase(t *testing.T) *pgcontainer.TestDB {
	t.Helper()
	requireIntegrationEnv(t)
	testDB := pgcontainer.NewTestDB(t)
	testDB.Exec(t, erpSchema)
	return testDB
}

func openPostgresTenant(t *testing.T, id string, testDB *pgcontainer.TestDB) *tenant.Tenant {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tn, err := tenant.Open(ctx, tenant.Config{
		ID:     id,
		Driver: "pgx",
		DSN:    testDB.DSN,
		Pool:   tenant.PoolConfig{MaxOpen: 4, MaxIdle: 2, MaxLifetime: time.Minute},
	}, tenant.OpenOptions{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = tn.Close(closeCtx)
	})
	return tn
}

func newService(t *testing.T, tenants ...*tenant.Tenant) *records.Service {
	t.Helper()
	registry, err := tenant.NewRegistry(tenants...)
	require.NoError(t, err)
	return records.NewService(registry, records.Config{Timeout: 10 * time.Second}, testLogger(), nil)
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "debug", Format: "text"})
}

// startTestServer builds cmd/server and runs it against a tenants file.
func startTestServer(t *testing.T, port int, tenantsYAML string, extraEnv ...string) (*exec.Cmd, func()) {
	t.Helper()

	dir := t.TempDir()
	binaryName := filepath.Join(dir, "tns-records-test")
	buildCmd := exec.Command("go", "build", "-o", binaryName, "../../cmd/server")
	out, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "Failed to build server: %s", out)

	tenantsFile := filepath.Join(dir, "tenants.yaml")
	require.NoError(t, os.WriteFile(tenantsFile, []byte(tenantsYAML), 0o600))

	cmd := exec.Command(binaryName, "--env-file", "")
	baseEnv := append(os.Environ(),
		fmt.Sprintf("TNSREC_SERVER_PORT=%d", port),
		"TNSREC_TENANTS_FILE="+tenantsFile,
		"TNSREC_OBSERVABILITY_LOGGING_FORMAT=text",
		"TNSREC_DATABASE_CONNECTION_TIMEOUT=10s",
	)
	cmd.Env = mergeEnv(baseEnv, extraEnv...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	require.NoError(t, cmd.Start())

	cleanup := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	t.Cleanup(cleanup)

	waitForHealthyWithLogs(t, port, &stdout, &stderr, cmd.Env)

	return cmd, cleanup
}

func waitForHealthyWithLogs(t *testing.T, port int, stdout, stderr *bytes.Buffer, env []string) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
	}
	t.Fatalf("Server did not become ready within 20 seconds.\n%s", formatServerDebugInfo(stdout, stderr, env))
}

func mergeEnv(base []string, overrides ...string) []string {
	if len(overrides) == 0 {
		return base
	}

	overrideKeys := make(map[string]struct{}, len(overrides))
	for _, kv := range overrides {
		key := strings.SplitN(kv, "=", 2)[0]
		overrideKeys[key] = struct{}{}
	}

	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := strings.SplitN(kv, "=", 2)[0]
		if _, exists := overrideKeys[key]; exists {
			continue
		}
		merged = append(merged, kv)
	}
	merged = append(merged, overrides...)
	return merged
}

func formatServerDebugInfo(stdout, stderr *bytes.Buffer, env []string) string {
	envLines := filterEnv(env, "TNSREC_")
	return fmt.Sprintf("Environment:\n%s\nSTDOUT:\n%s\nSTDERR:\n%s",
		strings.Join(envLines, "\n"),
		tailString(stdout, 4000),
		tailString(stderr, 4000),
	)
}

func filterEnv(env []string, prefixes ...string) []string {
	var filtered []string
	for _, kv := range env {
		for _, prefix := range prefixes {
			if strings.HasPrefix(kv, prefix) {
				filtered = append(filtered, kv)
				break
			}
		}
	}
	return filtered
}

func tailString(buf *bytes.Buffer, max int) string {
	if buf == nil {
		return ""
	}
	s := buf.String()
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
