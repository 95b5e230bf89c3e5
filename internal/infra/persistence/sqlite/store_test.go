package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"portioncore/pkg/domain"
)

func seedStock(ctx context.Context, store *Store) error {
	return store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		item, err := tx.CreateItem(domain.FractionalItem{
			Base:               domain.Base{ID: "item-cake"},
			Name:               "Cake",
			SupportsFractional: true,
			AvailablePortions:  []domain.PortionSize{{ID: "slice-12", PortionsPerWhole: 12}},
			WastePercentage:    decimal.NewFromInt(2),
		})
		if err != nil {
			return err
		}
		_, err = tx.CreateStock(domain.FractionalStock{Base: domain.Base{ID: "stock-cake"}, ItemID: item.ID, LocationID: "loc-1", WholeUnitsAvailable: 4})
		return err
	})
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if err := seedStock(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.ReplaceAlerts("stock-cake", []domain.InventoryAlert{{StockID: "stock-cake", LocationID: "loc-1", Type: domain.AlertPortionLow, Severity: domain.SeverityCritical, IsActive: true}})
	}); err != nil {
		t.Fatalf("replace alerts: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	stock, ok := reloaded.GetStock("stock-cake")
	if !ok || stock.WholeUnitsAvailable != 4 {
		t.Fatalf("expected reloaded stock, got %+v ok=%v", stock, ok)
	}
	item, ok := reloaded.GetItem("item-cake")
	if !ok || !item.WastePercentage.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected reloaded item, got %+v", item)
	}
	var alerts []domain.InventoryAlert
	_ = reloaded.View(ctx, func(v domain.TransactionView) error {
		alerts = v.ListAlerts("")
		return nil
	})
	if len(alerts) != 1 {
		t.Fatalf("expected persisted alert, got %d", len(alerts))
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreSkipsPersistOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	boom := errors.New("boom")
	if err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var rows int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected no persisted buckets, got %d", rows)
	}
}
