// Package drivers selects and opens a concrete ledger backend from
// configuration or environment variables.
package drivers

import (
	"fmt"
	"os"
	"strings"

	"podium/internal/ledger"
	"podium/internal/ledger/memory"
	"podium/internal/ledger/postgres"
	"podium/internal/ledger/sqlite"
)

// Environment variables consulted by OpenFromEnv.
const (
	EnvDriver      = "PODIUM_LEDGER_DRIVER"
	EnvSQLitePath  = "PODIUM_SQLITE_PATH"
	EnvPostgresDSN = "PODIUM_POSTGRES_DSN"
)

// Open constructs the ledger named by cfg.Driver. An empty driver defaults to
// memory.
func Open(cfg ledger.Config) (ledger.Ledger, error) {
	switch cfg.Driver {
	case ledger.DriverMemory, "":
		return memory.NewStore(cfg.Namespace), nil
	case ledger.DriverSQLite:
		return sqlite.NewStore(cfg.Namespace, cfg.SQLitePath)
	case ledger.DriverPostgres:
		return postgres.NewStore(cfg.Namespace, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// OpenFromEnv opens the ledger selected by PODIUM_LEDGER_DRIVER, falling back
// to memory when unset.
func OpenFromEnv(namespace string) (ledger.Ledger, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver)))
	return Open(ledger.Config{
		Driver:      ledger.Driver(driver),
		Namespace:   namespace,
		SQLitePath:  os.Getenv(EnvSQLitePath),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
	})
}
