package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestOpenDefaultsToFilesystem(t *testing.T) {
	root := t.TempDir()
	store, err := Open(context.Background(), Config{FSRoot: root})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}
}

func TestOpenFromEnv(t *testing.T) {
	t.Setenv("PORTIONCORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background(), ConfigFromEnv())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}
	if _, err := store.Put(context.Background(), "a", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(context.Background(), "a", strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists through facade, got %v", err)
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: DriverS3})
	if err == nil || store != nil {
		t.Fatalf("expected error and nil store, got %v %v", store, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: "tape"})
	if err == nil || store != nil {
		t.Fatalf("expected unknown driver error, got %v %v", store, err)
	}
}

func TestMockS3ForTests(t *testing.T) {
	store := NewMockS3ForTests("unit")
	if store.Driver() != DriverS3 {
		t.Fatalf("expected s3 driver, got %s", store.Driver())
	}
	if _, err := store.Head(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
