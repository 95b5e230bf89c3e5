package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"portioncore/pkg/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(func() time.Time { return fixedNow })
}

func seed(t *testing.T, store *Store) (FractionalItem, FractionalStock) {
	t.Helper()
	var item FractionalItem
	var stock FractionalStock
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		item, err = tx.CreateItem(FractionalItem{
			Base:               domain.Base{ID: "item-pizza"},
			Name:               "Pizza",
			SupportsFractional: true,
			AvailablePortions:  []domain.PortionSize{{ID: "slice-8", PortionsPerWhole: 8}},
			WastePercentage:    decimal.NewFromInt(5),
		})
		if err != nil {
			return err
		}
		stock, err = tx.CreateStock(FractionalStock{Base: domain.Base{ID: "stock-1"}, ItemID: item.ID, LocationID: "loc-1", WholeUnitsAvailable: 5})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return item, stock
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := newTestStore()
	_, stock := seed(t, store)
	if stock.CurrentState != domain.StateRaw || stock.QualityGrade != domain.GradeExcellent {
		t.Fatalf("expected defaults, got %s/%s", stock.CurrentState, stock.QualityGrade)
	}
	if stock.OriginalWholeUnits != 5 || !stock.CreatedAt.Equal(fixedNow) {
		t.Fatalf("expected baseline and timestamps, got %+v", stock)
	}
	if len(store.ListStocks("")) != 1 || len(store.ListStocks("loc-2")) != 0 {
		t.Fatalf("unexpected location filtering")
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListStocks("")) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if _, ok := store.GetStock("stock-1"); !ok {
		t.Fatalf("expected restored state")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	boom := errors.New("boom")
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		whole := 0
		if _, err := tx.UpdateStock("stock-1", domain.StockPatch{WholeUnitsAvailable: &whole}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := store.GetStock("stock-1")
	if got.WholeUnitsAvailable != 5 {
		t.Fatalf("expected rollback, got %d", got.WholeUnitsAvailable)
	}
}

func TestUpdateStockRejectsInvariantViolation(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		reserved := 3
		_, err := tx.UpdateStock("stock-1", domain.StockPatch{ReservedPortions: &reserved})
		return err
	})
	if err == nil {
		t.Fatalf("expected reservation bound violation")
	}
	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateStock("missing", domain.StockPatch{})
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyConversionStoresRecord(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	rec := ConversionRecord{
		ID:                 "conv-1",
		LocationID:         "loc-1",
		ConversionType:     domain.ConversionSplit,
		FromState:          domain.StateRaw,
		ToState:            domain.StatePortioned,
		QuantityConverted:  2,
		BeforeWholeUnits:   5,
		AfterWholeUnits:    3,
		AfterTotalPortions: 15,
		WasteGenerated:     decimal.RequireFromString("0.1"),
		PerformedAt:        fixedNow,
	}
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.ApplyConversion("stock-1", rec)
		return err
	})
	if err != nil {
		t.Fatalf("apply conversion: %v", err)
	}
	got, _ := store.GetStock("stock-1")
	if got.WholeUnitsAvailable != 3 || got.TotalPortionsAvailable != 15 || got.ConversionsApplied[0] != "conv-1" {
		t.Fatalf("unexpected stock %+v", got)
	}
	var conversions []ConversionRecord
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		conversions = v.ListConversions("loc-1")
		return nil
	})
	if len(conversions) != 1 || conversions[0].StockID != "stock-1" {
		t.Fatalf("expected stored conversion, got %+v", conversions)
	}
	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.ApplyConversion("stock-1", rec)
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate conversion id error")
	}
}

func TestReplaceAlertsReplacesNotMerges(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	ctx := context.Background()
	replace := func(alerts ...InventoryAlert) {
		t.Helper()
		if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.ReplaceAlerts("stock-1", alerts)
		}); err != nil {
			t.Fatalf("replace alerts: %v", err)
		}
	}
	replace(
		InventoryAlert{StockID: "stock-1", LocationID: "loc-1", Type: domain.AlertPortionLow, Severity: domain.SeverityHigh, IsActive: true},
		InventoryAlert{StockID: "stock-1", LocationID: "loc-1", Type: domain.AlertExpiringSoon, Severity: domain.SeverityCritical, IsActive: true},
	)
	replace(InventoryAlert{StockID: "stock-1", LocationID: "loc-1", Type: domain.AlertQualityDegrading, Severity: domain.SeverityMedium, IsActive: true})

	var alerts []InventoryAlert
	_ = store.View(ctx, func(v domain.TransactionView) error {
		alerts = v.ListAlerts("loc-1")
		return nil
	})
	if len(alerts) != 1 || alerts[0].Type != domain.AlertQualityDegrading || alerts[0].ID == "" {
		t.Fatalf("expected single replaced alert, got %+v", alerts)
	}
	replace()
	_ = store.View(ctx, func(v domain.TransactionView) error {
		alerts = v.ListAlertsForStock("stock-1")
		return nil
	})
	if len(alerts) != 0 {
		t.Fatalf("expected cleared alerts, got %d", len(alerts))
	}
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.ReplaceAlerts("stock-1", []InventoryAlert{{StockID: "other"}})
	})
	if err == nil {
		t.Fatalf("expected foreign alert to be rejected")
	}
}

func TestConversionRules(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	var rule ConversionRule
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		rule, err = tx.PutConversionRule(ConversionRule{Name: "keep slices", SourceState: domain.StateRaw, AutoTrigger: true, PortionThreshold: 8, WholeUnitsToSplit: 1})
		return err
	})
	if err != nil || rule.ID == "" {
		t.Fatalf("put rule: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if len(tx.Snapshot().ListConversionRules()) != 1 {
			t.Fatalf("expected one rule")
		}
		return tx.DeleteConversionRule(rule.ID)
	})
	if err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteConversionRule(rule.ID)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateStockRequiresItem(t *testing.T) {
	store := newTestStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateStock(FractionalStock{ItemID: "ghost"})
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing item error, got %v", err)
	}
}

func TestViewHonoursCancelledContext(t *testing.T) {
	store := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.View(ctx, func(domain.TransactionView) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestCreateStockDerivesExpiryFromShelfLife(t *testing.T) {
	store := newTestStore()
	shelf := 6
	prepared := fixedNow.Add(-2 * time.Hour)
	explicit := fixedNow.Add(time.Hour)
	var derived, kept FractionalStock
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		item, err := tx.CreateItem(FractionalItem{
			Base:              domain.Base{ID: "item-soup"},
			Name:              "Soup",
			AvailablePortions: []domain.PortionSize{{ID: "bowl", PortionsPerWhole: 10}},
			ShelfLifeHours:    &shelf,
		})
		if err != nil {
			return err
		}
		derived, err = tx.CreateStock(FractionalStock{Base: domain.Base{ID: "stock-1"}, ItemID: item.ID, LocationID: "loc-1", CurrentState: domain.StatePrepared, WholeUnitsAvailable: 1, PreparedAt: &prepared})
		if err != nil {
			return err
		}
		kept, err = tx.CreateStock(FractionalStock{Base: domain.Base{ID: "stock-2"}, ItemID: item.ID, LocationID: "loc-1", CurrentState: domain.StatePrepared, WholeUnitsAvailable: 1, PreparedAt: &prepared, ExpiresAt: &explicit})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if derived.ExpiresAt == nil || !derived.ExpiresAt.Equal(prepared.Add(6*time.Hour)) {
		t.Fatalf("expected expiry at prepared plus shelf life, got %v", derived.ExpiresAt)
	}
	if kept.ExpiresAt == nil || !kept.ExpiresAt.Equal(explicit) {
		t.Fatalf("expected explicit expiry to be kept, got %v", kept.ExpiresAt)
	}
}
