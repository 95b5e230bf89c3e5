package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"portioncore/internal/infra/persistence/memory"
	"portioncore/internal/infra/persistence/postgres"
	"portioncore/internal/infra/persistence/sqlite"
	"portioncore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageConfig selects and parameterises a backend. Empty fields fall back to
// the environment, then to defaults.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	NowFunc     func() time.Time
}

// StorageConfigFromEnv reads the storage environment variables.
//
//	PORTIONCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	PORTIONCORE_SQLITE_PATH: path to sqlite file (default ./portioncore.db)
//	PORTIONCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageConfigFromEnv() StorageConfig {
	return StorageConfig{
		Driver:      StorageDriver(os.Getenv("PORTIONCORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("PORTIONCORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("PORTIONCORE_POSTGRES_DSN"),
	}
}

// OpenPersistentStore opens the configured backend. Defaults to sqlite when no
// driver is set in cfg or the environment.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig) (PersistentStore, error) {
	env := StorageConfigFromEnv()
	if cfg.Driver == "" {
		cfg.Driver = env.Driver
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = env.SQLitePath
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = env.PostgresDSN
	}
	if cfg.Driver == "" {
		cfg.Driver = StorageSQLite
	}
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(cfg.NowFunc), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, cfg.NowFunc)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, cfg.NowFunc)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
