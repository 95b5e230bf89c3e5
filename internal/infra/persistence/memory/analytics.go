package memory

import (
	"context"
	"time"

	"portioncore/pkg/domain"
)

const analyticsWindow = 24 * time.Hour

func inWindow(at, asOf time.Time) bool {
	return at.After(asOf.Add(-analyticsWindow)) && !at.After(asOf)
}

func matchesLocation(locationID, candidate string) bool {
	return locationID == "" || candidate == locationID
}

// DailyConversions counts conversions performed in the 24 hours up to asOf.
func (s *Store) DailyConversions(_ context.Context, locationID string, asOf time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.state.conversions {
		if matchesLocation(locationID, rec.LocationID) && inWindow(rec.PerformedAt, asOf) {
			count++
		}
	}
	return count, nil
}

// QualityDegradationRate is the number of grade downgrades per hour over the
// 24 hours up to asOf.
func (s *Store) QualityDegradationRate(_ context.Context, locationID string, asOf time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	downgrades := 0
	for _, op := range s.state.operations {
		if op.Type != domain.OperationQualityUpdate || !matchesLocation(locationID, op.LocationID) {
			continue
		}
		if inWindow(op.PerformedAt, asOf) && op.QualityTo.WorseThan(op.QualityFrom) {
			downgrades++
		}
	}
	return float64(downgrades) / analyticsWindow.Hours(), nil
}

// TurnoverRate is the share of portions consumed in the 24 hours up to asOf
// relative to the portions that were available over that window.
func (s *Store) TurnoverRate(_ context.Context, locationID string, asOf time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consumed := 0
	for _, op := range s.state.operations {
		if op.Type == domain.OperationConsumption && matchesLocation(locationID, op.LocationID) && inWindow(op.PerformedAt, asOf) {
			consumed += op.Portions
		}
	}
	onHand := 0
	for _, st := range s.state.stocks {
		if matchesLocation(locationID, st.LocationID) {
			onHand += st.TotalPortionsAvailable
		}
	}
	if onHand+consumed == 0 {
		return 0, nil
	}
	return float64(consumed) / float64(onHand+consumed), nil
}

// StockoutEvents counts consumptions that left a stock without portions.
func (s *Store) StockoutEvents(_ context.Context, locationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, op := range s.state.operations {
		if op.Type == domain.OperationConsumption && op.StockedOut && matchesLocation(locationID, op.LocationID) {
			count++
		}
	}
	return count, nil
}

// ConversionBacklog counts pending conversion recommendations.
func (s *Store) ConversionBacklog(_ context.Context, locationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(listRecommendations(&s.state, locationID, domain.RecommendationPending)), nil
}

// ConversionRecommendations lists pending conversion recommendations.
func (s *Store) ConversionRecommendations(_ context.Context, locationID string) ([]ConversionRecommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecommendations(&s.state, locationID, domain.RecommendationPending), nil
}

// Operations returns a copy of the operation ledger, optionally filtered by stock.
func (s *Store) Operations(stockID string) []InventoryOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InventoryOperation
	for _, op := range s.state.operations {
		if stockID == "" || op.StockID == stockID {
			out = append(out, cloneOperation(op))
		}
	}
	return out
}
