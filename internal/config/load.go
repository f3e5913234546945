package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"tns-records/internal/tenant"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "TNSREC"

var defineFlagsOnce sync.Once

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// Load loads configuration from multiple sources with the following precedence:
// 1. Command line flags
// 2. Environment variables (including those from the env file)
// 3. Config file
// 4. Default values
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	envFile, _ := pflag.CommandLine.GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("tns-records")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tns-records/")
		v.AddConfigPath("$HOME/.tns-records")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Env vars: TNSREC_QUERY_MAX_PAGE_SIZE
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v)

	return finalize(v, afero.NewOsFs())
}

// loadEnvFile exports KEY=VALUE pairs from path without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// finalize resolves file-backed secrets and tenant lists, then decodes v
// strictly into a Config.
func finalize(v *viper.Viper, fsys afero.Fs) (*Config, error) {
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("server.admin.auth_token") == "" && v.GetString("server.admin.auth_token_file") != "" {
		tokenPath := v.GetString("server.admin.auth_token_file")
		token, err := readSecretFile(fsys, tokenPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read admin auth token file: %w", err)
		}
		if token == "" {
			return nil, fmt.Errorf("admin auth token file %q is empty", tokenPath)
		}
		v.Set("server.admin.auth_token", token)
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if path := strings.TrimSpace(cfg.TenantsFile); path != "" {
		extra, err := readTenantsFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tenants file %q: %w", path, err)
		}
		cfg.Tenants = append(cfg.Tenants, extra...)
	}

	for i := range cfg.Tenants {
		if err := resolveTenant(fsys, &cfg.Tenants[i], cfg.Database.Pool); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToStringSliceHookFunc(","),
	)
}

// resolveTenant reads a file-backed DSN and fills pool settings the tenant
// left empty from the shared defaults.
func resolveTenant(fsys afero.Fs, t *tenant.Config, pool tenant.PoolConfig) error {
	t.ID = strings.TrimSpace(t.ID)
	if strings.TrimSpace(t.DSN) == "" && strings.TrimSpace(t.DSNFile) != "" {
		dsn, err := readSecretFile(fsys, t.DSNFile)
		if err != nil {
			return fmt.Errorf("tenant %q: failed to read dsn file: %w", t.ID, err)
		}
		t.DSN = dsn
	}
	if t.Pool.MaxOpen == 0 {
		t.Pool.MaxOpen = pool.MaxOpen
	}
	if t.Pool.MaxIdle == 0 {
		t.Pool.MaxIdle = pool.MaxIdle
	}
	if t.Pool.MaxLifetime == 0 {
		t.Pool.MaxLifetime = pool.MaxLifetime
	}
	return nil
}

// readTenantsFile decodes a YAML document with a top-level "tenants" list
// using the same strict rules as the main config.
func readTenantsFile(fsys afero.Fs, path string) ([]tenant.Config, error) {
	raw, err := readRawFile(fsys, path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Tenants []map[string]any `yaml:"tenants"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var tenants []tenant.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHooks(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &tenants,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(doc.Tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "env-file" || f.Name == "version" || f.Name == "check-config" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := pflag.CommandLine.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := pflag.CommandLine.GetInt(f.Name)
			v.Set(f.Name, val)
		case "int64":
			val, _ := pflag.CommandLine.GetInt64(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := pflag.CommandLine.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := pflag.CommandLine.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := pflag.CommandLine.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := pflag.CommandLine.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines all command line flags using canonical snake_case keys.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("tenants_file", "", "Path to a YAML file with a top-level tenants list")

		// Query flags
		pflag.Int("query.default_page_size", 0, "Page size used when a request omits pageSize")
		pflag.Int("query.max_page_size", 0, "Largest page size; bigger requests are clamped")
		pflag.Duration("query.timeout", 0, "Deadline for the count and data queries of one request")
		pflag.Bool("query.warn_unordered", false, "Log a warning for paged queries without an order")
		pflag.Int64("query.max_body_bytes", 0, "Maximum request body size in bytes")

		// Catalog flags
		pflag.Duration("catalog.refresh_min_interval", 0, "Minimum interval between catalog refresh checks (0 disables refresh)")
		pflag.Duration("catalog.refresh_max_interval", 0, "Maximum interval between catalog refresh checks")

		// Shared database flags
		pflag.Int("database.pool.max_open", 0, "Default maximum open connections per tenant")
		pflag.Int("database.pool.max_idle", 0, "Default maximum idle connections per tenant")
		pflag.Duration("database.pool.max_lifetime", 0, "Default connection max lifetime (e.g. 5m, 30s)")
		pflag.Duration("database.connection_timeout", 0, "Max time to wait for each tenant database on startup (0 = fail immediately)")
		pflag.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

		// Server flags
		pflag.Int("server.port", 0, "HTTP server port")
		pflag.Bool("server.admin.catalog_reload_enabled", false, "Enable /admin/reload-catalog endpoint")
		pflag.String("server.admin.auth_token", "", "Shared secret required by the admin endpoint")
		pflag.String("server.admin.auth_token_file", "", "Path to file containing admin auth token (use @- for stdin)")
		pflag.String("server.admin.auth_token_header", "", "Header carrying the admin token (default: X-Admin-Token)")
		pflag.Bool("server.rate_limit_enabled", false, "Enable rate limiting for all HTTP endpoints")
		pflag.Float64("server.rate_limit_rps", 0, "Rate limit requests per second")
		pflag.Int("server.rate_limit_burst", 0, "Rate limit burst size")
		pflag.Bool("server.rate_limit_per_tenant", false, "Give each X-Tenant-ID its own rate limit bucket")
		pflag.Bool("server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)")
		pflag.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
		pflag.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods (comma-separated or repeated)")
		pflag.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers (comma-separated or repeated)")
		pflag.StringSlice("server.cors_expose_headers", nil, "CORS headers to expose to browser (comma-separated or repeated)")
		pflag.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
		pflag.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
		pflag.Duration("server.read_timeout", 0, "HTTP server read timeout")
		pflag.Duration("server.write_timeout", 0, "HTTP server write timeout")
		pflag.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
		pflag.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
		pflag.Duration("server.health_check_timeout", 0, "Health check timeout")

		// TLS flags
		pflag.String("server.tls_mode", "", "TLS mode: off, auto (self-signed), file (default: off)")
		pflag.String("server.tls_cert_file", "", "Path to TLS certificate file (for file mode)")
		pflag.String("server.tls_key_file", "", "Path to TLS private key file (for file mode)")
		pflag.String("server.tls_auto_cert_dir", "", "Directory for auto-generated certificates (default: .tls)")

		// Observability flags
		pflag.String("observability.service_name", "", "Service name for observability")
		pflag.String("observability.service_version", "", "Service version for observability")
		pflag.String("observability.environment", "", "Environment name (dev, staging, prod)")
		pflag.Bool("observability.metrics_enabled", false, "Enable metrics collection")
		pflag.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
		pflag.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
		pflag.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
		pflag.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
		pflag.String("observability.logging.format", "", "Log format (json, text, auto)")
		pflag.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
		pflag.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
		pflag.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
		pflag.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
		pflag.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
		pflag.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
		pflag.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
		pflag.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
		pflag.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
		pflag.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
		pflag.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")
		pflag.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
		pflag.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
		pflag.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
		pflag.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
		pflag.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
		pflag.Bool("observability.logs.insecure", false, "Use insecure connection for logs")

		pflag.StringP("config", "c", "", "Config file path")
		pflag.String("env-file", ".env", "Env file loaded before reading TNSREC_ variables")
	})
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("tenants", []map[string]any{})
	v.SetDefault("tenants_file", "")

	v.SetDefault("query.default_page_size", 50)
	v.SetDefault("query.max_page_size", 500)
	v.SetDefault("query.timeout", 30*time.Second)
	v.SetDefault("query.warn_unordered", true)
	v.SetDefault("query.max_body_bytes", int64(1<<20))

	v.SetDefault("catalog.refresh_min_interval", 30*time.Second)
	v.SetDefault("catalog.refresh_max_interval", 5*time.Minute)

	v.SetDefault("database.pool.max_open", 10)
	v.SetDefault("database.pool.max_idle", 2)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin.catalog_reload_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.admin.auth_token_header", "X-Admin-Token")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.rate_limit_per_tenant", false)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"POST", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "X-Tenant-ID", "X-Request-ID"})
	v.SetDefault("server.cors_expose_headers", []string{"X-Request-ID"})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 45*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.tls_auto_cert_dir", ".tls")

	v.SetDefault("observability.service_name", "tns-records")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// readSecretFile reads a trimmed secret. "@-" reads stdin.
func readSecretFile(fsys afero.Fs, path string) (string, error) {
	raw, err := readRawFile(fsys, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func readRawFile(fsys afero.Fs, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "@-" {
		return io.ReadAll(stdin)
	}
	return afero.ReadFile(fsys, path)
}

// validateSingleStdinFileSource rejects configs where more than one file
// setting reads stdin.
func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	if strings.TrimSpace(v.GetString("server.admin.auth_token_file")) == "@-" {
		configured = append(configured, "server.admin.auth_token_file")
	}
	if strings.TrimSpace(v.GetString("tenants_file")) == "@-" {
		configured = append(configured, "tenants_file")
	}
	if raw, ok := v.Get("tenants").([]any); ok {
		for i, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if path, _ := entry["dsn_file"].(string); strings.TrimSpace(path) == "@-" {
				configured = append(configured, fmt.Sprintf("tenants[%d].dsn_file", i))
			}
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
