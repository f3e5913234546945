package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestValidateSingleStdinFileSource_AllowsZeroOrOneStdinSource(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		v := viper.New()
		v.Set("tenants_file", "/etc/tns-records/tenants.yaml")
		v.Set("server.admin.auth_token_file", "/tmp/admin-token")
		v.Set("tenants", []any{map[string]any{"id": "192", "dsn_file": "/run/secrets/dsn"}})

		if err := validateSingleStdinFileSource(v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("one", func(t *testing.T) {
		v := viper.New()
		v.Set("server.admin.auth_token_file", "")
		v.Set("tenants", []any{map[string]any{"id": "192", "dsn_file": "@-"}})

		if err := validateSingleStdinFileSource(v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateSingleStdinFileSource_RejectsMultipleStdinSources(t *testing.T) {
	v := viper.New()
	v.Set("tenants_file", " @- ")
	v.Set("server.admin.auth_token_file", "@-")
	v.Set("tenants", []any{
		map[string]any{"id": "192", "dsn_file": "/run/secrets/dsn"},
		map[string]any{"id": "207", "dsn_file": "@-"},
	})

	err := validateSingleStdinFileSource(v)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "tenants_file") ||
		!strings.Contains(msg, "server.admin.auth_token_file") ||
		!strings.Contains(msg, "tenants[1].dsn_file") {
		t.Fatalf("error message missing expected keys: %s", msg)
	}
	if strings.Contains(msg, "tenants[0]") {
		t.Fatalf("file-backed tenant should not be reported: %s", msg)
	}
}

func TestReadSecretFile_Stdin(t *testing.T) {
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("  sysdba:masterkey@erp/EMP192.FDB\n")

	got, err := readSecretFile(nil, "@-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sysdba:masterkey@erp/EMP192.FDB" {
		t.Fatalf("unexpected secret %q", got)
	}
}
