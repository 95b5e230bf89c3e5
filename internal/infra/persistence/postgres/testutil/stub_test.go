package testutil

import (
	"context"
	"testing"
)

func TestStubDBUpsertsInsideTransaction(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2)", "stocks", []byte(`{}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok := conn.Payload("stocks"); ok {
		t.Fatalf("expected write to stay pending until commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if p, ok := conn.Payload("stocks"); !ok || string(p) != "{}" {
		t.Fatalf("expected committed payload, got %q", p)
	}

	rows, err := db.QueryContext(ctx, "SELECT bucket, payload FROM state")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	count := 0
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestStubDBRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2)", "items", []byte(`{}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok := conn.Payload("items"); ok {
		t.Fatalf("expected rolled back write to be discarded")
	}
}
