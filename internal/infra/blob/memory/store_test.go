package memory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"portioncore/internal/infra/blob/blobtest"
	"portioncore/internal/infra/blob/core"
)

func TestMemoryStoreContract(t *testing.T) {
	blobtest.RunContract(t, func(*testing.T) core.Store { return New(nil) })
}

func TestMemoryStoreUsesClockAndCopies(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := New(func() time.Time { return at })
	ctx := context.Background()
	meta := map[string]string{"stock": "stock-1"}
	info, err := store.Put(ctx, "audit/stock-1/a", strings.NewReader("payload"), core.PutOptions{Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !info.LastModified.Equal(at) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	meta["stock"] = "mutated"
	got, rc, err := store.Get(ctx, "audit/stock-1/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	if got.Metadata["stock"] != "stock-1" {
		t.Fatalf("expected stored metadata isolated from caller, got %+v", got.Metadata)
	}
	got.Metadata["stock"] = "again"
	if head, _ := store.Head(ctx, "audit/stock-1/a"); head.Metadata["stock"] != "stock-1" {
		t.Fatalf("expected returned metadata to be a copy")
	}
	if b, _ := io.ReadAll(rc); string(b) != "payload" {
		t.Fatalf("unexpected body %q", b)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
}
