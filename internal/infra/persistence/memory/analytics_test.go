package memory

import (
	"context"
	"testing"
	"time"

	"portioncore/pkg/domain"
)

func TestAnalyticsFromLedger(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		portions := 10
		if _, err := tx.UpdateStock("stock-1", domain.StockPatch{TotalPortionsAvailable: &portions}); err != nil {
			return err
		}
		if _, err := tx.ApplyConversion("stock-1", ConversionRecord{ID: "recent", LocationID: "loc-1", ToState: domain.StatePortioned, AfterWholeUnits: 5, AfterTotalPortions: 10, PerformedAt: fixedNow.Add(-time.Hour)}); err != nil {
			return err
		}
		if _, err := tx.ApplyConversion("stock-1", ConversionRecord{ID: "stale", LocationID: "loc-1", ToState: domain.StatePortioned, AfterWholeUnits: 5, AfterTotalPortions: 10, PerformedAt: fixedNow.Add(-48 * time.Hour)}); err != nil {
			return err
		}
		ops := []InventoryOperation{
			{Type: domain.OperationQualityUpdate, LocationID: "loc-1", QualityFrom: domain.GradeExcellent, QualityTo: domain.GradeGood, PerformedAt: fixedNow.Add(-2 * time.Hour)},
			{Type: domain.OperationQualityUpdate, LocationID: "loc-1", QualityFrom: domain.GradeGood, QualityTo: domain.GradeFair, PerformedAt: fixedNow.Add(-3 * time.Hour)},
			{Type: domain.OperationConsumption, LocationID: "loc-1", Portions: 10, PerformedAt: fixedNow.Add(-time.Hour)},
			{Type: domain.OperationConsumption, LocationID: "loc-1", Portions: 5, StockedOut: true, PerformedAt: fixedNow.Add(-72 * time.Hour)},
			{Type: domain.OperationConsumption, LocationID: "loc-2", Portions: 5, StockedOut: true, PerformedAt: fixedNow},
		}
		for _, op := range ops {
			if err := tx.LogOperation(op); err != nil {
				return err
			}
		}
		return tx.ReplaceRecommendations("stock-1", []ConversionRecommendation{{StockID: "stock-1", LocationID: "loc-1", Status: domain.RecommendationPending, RecommendedAt: fixedNow}})
	})
	if err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	if n, _ := store.DailyConversions(ctx, "loc-1", fixedNow); n != 1 {
		t.Fatalf("expected 1 daily conversion, got %d", n)
	}
	if rate, _ := store.QualityDegradationRate(ctx, "loc-1", fixedNow); rate != 2.0/24.0 {
		t.Fatalf("unexpected degradation rate %v", rate)
	}
	if rate, _ := store.TurnoverRate(ctx, "loc-1", fixedNow); rate != 0.5 {
		t.Fatalf("expected turnover 0.5, got %v", rate)
	}
	if n, _ := store.StockoutEvents(ctx, "loc-1"); n != 1 {
		t.Fatalf("expected 1 stockout at loc-1, got %d", n)
	}
	if n, _ := store.StockoutEvents(ctx, ""); n != 2 {
		t.Fatalf("expected 2 stockouts overall, got %d", n)
	}
	if n, _ := store.ConversionBacklog(ctx, "loc-1"); n != 1 {
		t.Fatalf("expected backlog 1, got %d", n)
	}
	recs, _ := store.ConversionRecommendations(ctx, "loc-2")
	if len(recs) != 0 {
		t.Fatalf("expected no recommendations at loc-2")
	}
	if ops := store.Operations("stock-1"); len(ops) != 0 {
		t.Fatalf("expected no operations tied to stock-1, got %d", len(ops))
	}
	if ops := store.Operations(""); len(ops) != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", len(ops))
	}
}

func TestTurnoverRateWithoutStock(t *testing.T) {
	store := newTestStore()
	if rate, err := store.TurnoverRate(context.Background(), "", fixedNow); err != nil || rate != 0 {
		t.Fatalf("expected zero turnover, got %v %v", rate, err)
	}
}
