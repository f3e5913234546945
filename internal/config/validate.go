package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"tns-records/internal/dbexec"
	"tns-records/internal/dialect"
	"tns-records/internal/schemafilter"
	"tns-records/internal/tenant"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Query.validate(result)
	c.Catalog.validate(result)
	c.Database.validate(result)
	validateTenants(result, c.Tenants)
	c.Server.validate(result)
	c.Observability.validate(result)

	return result
}

func (q *QueryConfig) validate(result *ValidationResult) {
	if q.DefaultPageSize <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.default_page_size",
			Message: "default_page_size must be greater than 0",
		})
	}
	if q.MaxPageSize < q.DefaultPageSize {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.max_page_size",
			Message: fmt.Sprintf("max_page_size %d is smaller than default_page_size %d", q.MaxPageSize, q.DefaultPageSize),
		})
	}
	if q.Timeout <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.timeout",
			Message: "timeout must be greater than 0",
			Hint:    "set a deadline such as 30s",
		})
	}
	if q.MaxBodyBytes < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.max_body_bytes",
			Message: "max_body_bytes cannot be negative",
		})
	}
}

func (c *CatalogConfig) validate(result *ValidationResult) {
	if c.RefreshMinInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "catalog.refresh_min_interval",
			Message: "refresh_min_interval cannot be negative",
		})
	}
	if c.RefreshMinInterval > 0 && c.RefreshMaxInterval < c.RefreshMinInterval {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "catalog.refresh_max_interval",
			Message: "refresh_max_interval must be at least refresh_min_interval",
		})
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	validatePool(result, "database.pool", d.Pool)

	// Connection retry validation
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
}

func validatePool(result *ValidationResult, field string, pool tenant.PoolConfig) {
	if pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   field + ".max_open",
			Message: "max_open cannot be negative",
		})
	}
	if pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   field + ".max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if pool.MaxIdle > pool.MaxOpen && pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   field + ".max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}
}

func validateTenants(result *ValidationResult, tenants []tenant.Config) {
	if len(tenants) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "tenants",
			Message: "at least one tenant is required",
			Hint:    "add entries under tenants or point tenants_file at a YAML tenant list",
		})
		return
	}

	seen := make(map[string]bool, len(tenants))
	for i, t := range tenants {
		field := fmt.Sprintf("tenants[%d]", i)
		if t.ID == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".id",
				Message: "tenant id is required",
			})
		} else if seen[t.ID] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate tenant id %q", t.ID),
			})
		}
		seen[t.ID] = true

		if strings.TrimSpace(t.Driver) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".driver",
				Message: "driver is required",
				Hint:    "valid drivers are: firebirdsql, mysql, pgx, postgres, sqlite3, oracle",
			})
		} else if _, ok := knownDrivers[t.Driver]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".driver",
				Message: fmt.Sprintf("unsupported driver %q", t.Driver),
				Hint:    "valid drivers are: firebirdsql, mysql, pgx, postgres, sqlite3, oracle",
			})
		}
		if _, err := dialect.Lookup(t.DialectName()); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".dialect",
				Message: err.Error(),
				Hint:    "set dialect explicitly when the driver name does not imply one",
			})
		}
		if strings.TrimSpace(t.DSN) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".dsn",
				Message: "dsn is required",
				Hint:    "set dsn or dsn_file",
			})
		}
		if _, err := dbexec.NewValueDecoder(t.Charset); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".charset",
				Message: err.Error(),
			})
		}
		validatePool(result, field+".pool", t.Pool)

		switch t.Catalog.Source {
		case "", tenant.SourceIntrospect:
		case tenant.SourceFile:
			if strings.TrimSpace(t.Catalog.File) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field + ".catalog.file",
					Message: "catalog.file is required when catalog.source is file",
				})
			}
		default:
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".catalog.source",
				Message: fmt.Sprintf("invalid catalog source %q", t.Catalog.Source),
				Hint:    "valid values are: introspect, file",
			})
		}
		validateSchemaFilters(result, field+".catalog.filters", t.Catalog.Filters)
	}
}

// knownDrivers lists the database/sql driver names registered by the tenant package.
var knownDrivers = map[string]struct{}{
	"firebirdsql": {},
	"mysql":       {},
	"pgx":         {},
	"postgres":    {},
	"sqlite3":     {},
	"oracle":      {},
}

func validateSchemaFilters(result *ValidationResult, field string, filters schemafilter.Config) {
	validateGlobList(result, field+".allow_tables", filters.AllowTables)
	validateGlobList(result, field+".deny_tables", filters.DenyTables)
	validatePatternMap(result, field+".allow_columns", filters.AllowColumns)
	validatePatternMap(result, field+".deny_columns", filters.DenyColumns)
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if strings.TrimSpace(tablePattern) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "table pattern cannot be empty",
			})
			continue
		}
		if _, err := path.Match(strings.ToLower(tablePattern), "probe"); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid table glob pattern %q: %v", tablePattern, err),
			})
		}
		for _, columnPattern := range columnPatterns {
			if strings.TrimSpace(columnPattern) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("column pattern for table pattern %q cannot be empty", tablePattern),
				})
				continue
			}
			if _, err := path.Match(strings.ToLower(columnPattern), "probe"); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("invalid column glob pattern %q for table pattern %q: %v", columnPattern, tablePattern, err),
				})
			}
		}
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	// Port range validation
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}

	// Rate limit validation
	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_rps",
				Message: "rate_limit_rps must be greater than 0 when rate limiting is enabled",
			})
		}
		if s.RateLimitBurst <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_burst",
				Message: "rate_limit_burst must be greater than 0 when rate limiting is enabled",
			})
		}
	}

	if !s.RateLimitEnabled && (s.RateLimitRPS > 0 || s.RateLimitBurst > 0) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.rate_limit_enabled",
			Message: "rate limit values are set but rate limiting is disabled",
			Hint:    "enable server.rate_limit_enabled to apply rate limits",
		})
	}

	if s.HealthCheckTimeout <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.health_check_timeout",
			Message: "health_check_timeout must be greater than 0",
		})
	}

	if s.Admin.CatalogReloadEnabled && strings.TrimSpace(s.Admin.AuthToken) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.admin.auth_token",
			Message: "admin auth token is required when catalog_reload_enabled is true",
			Hint:    "set server.admin.auth_token or server.admin.auth_token_file",
		})
	}

	// CORS validation
	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "CORS enabled but no allowed origins configured",
				Hint:    "set cors_allowed_origins or disable CORS",
			})
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}

		if hasWildcard && s.CORSAllowCredentials {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "wildcard origin (*) cannot be used with credentials",
				Hint:    "use specific origins with credentials, or wildcard without credentials",
			})
		}

		if hasWildcard {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS wildcard origin enabled",
				Hint:    "use specific origins in production for better security",
			})
		}
	}

	tlsEnabled := s.TLSMode != "" && s.TLSMode != "off"
	if s.CORSEnabled && tlsEnabled && len(s.CORSAllowedOrigins) > 0 {
		onlyHTTP := true
		for _, origin := range s.CORSAllowedOrigins {
			origin = strings.TrimSpace(origin)
			if origin == "" || origin == "*" {
				onlyHTTP = false
				break
			}
			if strings.HasPrefix(origin, "https://") {
				onlyHTTP = false
				break
			}
			if !strings.HasPrefix(origin, "http://") {
				onlyHTTP = false
				break
			}
		}
		if onlyHTTP {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS allowed origins are http:// only while TLS is enabled",
				Hint:    "use https:// origins when serving over TLS",
			})
		}
	}

	// TLS validation
	validTLSModes := map[string]bool{"": true, "off": true, "auto": true, "file": true}
	if !validTLSModes[s.TLSMode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.tls_mode",
			Message: fmt.Sprintf("invalid TLS mode %q", s.TLSMode),
			Hint:    "valid values are: off, auto, file",
		})
	}

	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.tls_cert_file",
				Message: "TLS cert file required when tls_mode is 'file'",
			})
		}
		if s.TLSKeyFile == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.tls_key_file",
				Message: "TLS key file required when tls_mode is 'file'",
			})
		}
	}
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "glob pattern cannot be empty",
			})
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid glob pattern %q: %v", pattern, err),
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true, "auto": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text, auto",
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
