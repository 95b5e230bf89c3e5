package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"portioncore/pkg/domain"
)

// CalculateInventoryMetrics aggregates stock, value, waste and quality for a
// location, or across every location when locationID is empty. It reads a
// snapshot and takes no stock locks.
func (s *Service) CalculateInventoryMetrics(ctx context.Context, locationID string) (domain.FractionalInventoryMetrics, error) {
	var metrics domain.FractionalInventoryMetrics
	err := s.run(ctx, opCalculateMetrics, nil, func(ctx context.Context) error {
		now := s.now()
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			items := make(map[string]domain.FractionalItem)
			for _, item := range v.ListItems() {
				items[item.ID] = item
			}
			metrics = aggregateInventory(v.ListStocks(locationID), items, v.ListConversions(locationID), now, s.alertPolicy.ExpiryWarning)
			for _, a := range v.ListAlerts(locationID) {
				if a.IsActive {
					metrics.ActiveAlerts = append(metrics.ActiveAlerts, a)
				}
			}
			domain.SortAlerts(metrics.ActiveAlerts)
			for _, rec := range v.ListRecommendations(locationID) {
				if rec.Status == domain.RecommendationPending {
					metrics.RecommendedConversions = append(metrics.RecommendedConversions, rec)
				}
			}
			metrics.ConversionBacklog = len(metrics.RecommendedConversions)
			return nil
		}); err != nil {
			return err
		}
		metrics.LocationID = locationID
		metrics.CalculatedAt = now
		analytics, ok := s.store.(domain.AnalyticsStore)
		if !ok {
			return nil
		}
		return applyAnalytics(ctx, analytics, locationID, now, &metrics)
	})
	return metrics, err
}

func applyAnalytics(ctx context.Context, analytics domain.AnalyticsStore, locationID string, now time.Time, m *domain.FractionalInventoryMetrics) error {
	var err error
	if m.DailyConversions, err = analytics.DailyConversions(ctx, locationID, now); err != nil {
		return fmt.Errorf("daily conversions: %w", err)
	}
	if m.QualityDegradationRate, err = analytics.QualityDegradationRate(ctx, locationID, now); err != nil {
		return fmt.Errorf("quality degradation rate: %w", err)
	}
	if m.TurnoverRate, err = analytics.TurnoverRate(ctx, locationID, now); err != nil {
		return fmt.Errorf("turnover rate: %w", err)
	}
	if m.StockoutEvents, err = analytics.StockoutEvents(ctx, locationID); err != nil {
		return fmt.Errorf("stockout events: %w", err)
	}
	if m.ConversionBacklog, err = analytics.ConversionBacklog(ctx, locationID); err != nil {
		return fmt.Errorf("conversion backlog: %w", err)
	}
	recs, err := analytics.ConversionRecommendations(ctx, locationID)
	if err != nil {
		return fmt.Errorf("conversion recommendations: %w", err)
	}
	m.RecommendedConversions = recs
	return nil
}

// aggregateInventory computes the snapshot-derived metrics. Consumed stocks
// hold no quantity and are left out of the quality average.
func aggregateInventory(stocks []domain.FractionalStock, items map[string]domain.FractionalItem, conversions []domain.ConversionRecord, now time.Time, expiryWindow time.Duration) domain.FractionalInventoryMetrics {
	m := domain.FractionalInventoryMetrics{
		TotalValueOnHand:     decimal.Zero,
		WastePercentage:      decimal.Zero,
		ConversionEfficiency: 1,
	}
	qualityTotal, graded := 0, 0
	horizon := now.Add(expiryWindow)
	for _, stock := range stocks {
		m.TotalWholeUnits += stock.WholeUnitsAvailable
		m.TotalPortionsAvailable += stock.TotalPortionsAvailable
		m.TotalReservedPortions += stock.ReservedPortions
		if item, ok := items[stock.ItemID]; ok {
			m.TotalValueOnHand = m.TotalValueOnHand.Add(stockValue(stock, item))
		}
		if !stock.Active() {
			continue
		}
		qualityTotal += stock.QualityGrade.Rank()
		graded++
		if stock.ExpiresAt != nil && stock.ExpiresAt.Before(horizon) {
			m.ItemsNearExpiry++
		}
	}
	if graded > 0 {
		m.AverageQualityGrade = float64(qualityTotal) / float64(graded)
	}

	input, waste := decimal.Zero, decimal.Zero
	for _, rec := range conversions {
		input = input.Add(rec.InputWholeUnits())
		waste = waste.Add(rec.WasteWholeUnits())
	}
	if input.IsPositive() {
		m.WastePercentage = waste.Div(input).Mul(decimal.NewFromInt(100))
		m.ConversionEfficiency = input.Sub(waste).Div(input).InexactFloat64()
	}
	return m
}

// stockValue prices whole and partial units at base cost and portions at the
// base cost of an average portion.
func stockValue(stock domain.FractionalStock, item domain.FractionalItem) decimal.Decimal {
	units := decimal.NewFromInt(int64(stock.WholeUnitsAvailable)).Add(stock.PartialQuantityAvailable)
	value := units.Mul(item.BaseCostPerUnit)
	if avg := item.AveragePortionsPerWhole(); avg.IsPositive() && stock.TotalPortionsAvailable > 0 {
		portions := decimal.NewFromInt(int64(stock.TotalPortionsAvailable))
		value = value.Add(portions.Mul(item.BaseCostPerUnit).Div(avg))
	}
	return value
}
