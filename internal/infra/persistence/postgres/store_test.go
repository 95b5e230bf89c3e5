package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"portioncore/internal/infra/persistence/postgres/testutil"
	"portioncore/pkg/domain"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("expected pgx driver, got %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func createStock(tx domain.Transaction) error {
	item, err := tx.CreateItem(domain.FractionalItem{
		Base:               domain.Base{ID: "item-bread"},
		Name:               "Bread",
		SupportsFractional: true,
		AvailablePortions:  []domain.PortionSize{{ID: "slice-10", PortionsPerWhole: 10}},
		WastePercentage:    decimal.NewFromInt(1),
	})
	if err != nil {
		return err
	}
	_, err = tx.CreateStock(domain.FractionalStock{Base: domain.Base{ID: "stock-bread"}, ItemID: item.ID, WholeUnitsAvailable: 6})
	return err
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS state") && strings.Contains(stmt, "JSONB") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsEveryBucket(t *testing.T) {
	store, conn := openStub(t)
	if err := store.RunInTransaction(context.Background(), createStock); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if conn.Commits != 1 {
		t.Fatalf("expected one commit, got %d", conn.Commits)
	}
	payload, ok := conn.Payload("stocks")
	if !ok {
		t.Fatalf("expected stocks bucket")
	}
	var stocks map[string]domain.FractionalStock
	if err := json.Unmarshal(payload, &stocks); err != nil {
		t.Fatalf("decode stocks: %v", err)
	}
	if stocks["stock-bread"].WholeUnitsAvailable != 6 {
		t.Fatalf("unexpected persisted stock %+v", stocks["stock-bread"])
	}
	for _, bucket := range []string{"items", "conversions", "operations", "alerts", "recommendations", "rules"} {
		if _, ok := conn.Payload(bucket); !ok {
			t.Fatalf("missing bucket %s", bucket)
		}
	}
}

func TestNewStoreHydratesFromSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Seed("stocks", []byte(`{"s1":{"id":"s1","item_id":"i1","current_state":"PORTIONED","quality_grade":"GOOD","total_portions_available":12}}`))
	conn.Seed("retired_bucket", []byte(`{"ignored":true}`))
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "postgres://example", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, ok := store.GetStock("s1")
	if !ok || got.TotalPortionsAvailable != 12 || got.QualityGrade != domain.GradeGood {
		t.Fatalf("expected hydrated stock, got %+v ok=%v", got, ok)
	}
	if got.ConversionsApplied == nil {
		t.Fatalf("expected migrated conversion log")
	}
}

func TestPersistFailuresPropagate(t *testing.T) {
	store, conn := openStub(t)
	conn.FailBucket = map[string]bool{"alerts": true}
	err := store.RunInTransaction(context.Background(), createStock)
	if err == nil || !strings.Contains(err.Error(), "upsert alerts") {
		t.Fatalf("expected upsert failure, got %v", err)
	}
	if conn.Commits != 0 {
		t.Fatalf("expected rollback, got %d commits", conn.Commits)
	}

	conn.FailBucket = nil
	conn.FailBegin = true
	if err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil || !strings.Contains(err.Error(), "begin tx") {
		t.Fatalf("expected begin failure, got %v", err)
	}
}

func TestRunInTransactionSkipsPersistOnError(t *testing.T) {
	store, conn := openStub(t)
	boom := errors.New("boom")
	if err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if conn.Commits != 0 || len(conn.Buckets) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}
