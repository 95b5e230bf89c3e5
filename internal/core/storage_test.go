package core

import (
	"context"
	"path/filepath"
	"testing"

	"portioncore/internal/infra/persistence/memory"
	"portioncore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenPersistentStoreFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portions.db")
	t.Setenv("PORTIONCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("PORTIONCORE_SQLITE_PATH", path)

	cfg := StorageConfigFromEnv()
	if cfg.Driver != StorageSQLite || cfg.SQLitePath != path {
		t.Fatalf("unexpected env config %+v", cfg)
	}
	store, err := OpenPersistentStore(context.Background(), StorageConfig{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqliteStore, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	svc := NewService(store)
	seedPizza(t, svc, 2, 0)
	if _, err := svc.SplitItem(context.Background(), "stock-1", 1, "slice-8", "cook", ""); err != nil {
		t.Fatalf("split on sqlite: %v", err)
	}
}

func TestOpenPersistentStoreExplicitConfigWins(t *testing.T) {
	t.Setenv("PORTIONCORE_STORAGE_DRIVER", "postgres")
	store, err := OpenPersistentStore(context.Background(), StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected explicit driver to override env, got %T", store)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), StorageConfig{Driver: "cassandra"})
	if err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if store != nil {
		t.Fatalf("expected nil store on error, got %T", store)
	}
}
