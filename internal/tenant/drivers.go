package tenant

// Drivers every tenant may name in its configuration.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/nakagami/firebirdsql"
	_ "github.com/sijms/go-ora/v2"
)

// dbSystems maps driver names to the OpenTelemetry db.system value.
var dbSystems = map[string]string{
	"mysql":       "mysql",
	"pgx":         "postgresql",
	"postgres":    "postgresql",
	"sqlite3":     "sqlite",
	"oracle":      "oracle",
	"firebirdsql": "firebird",
}
