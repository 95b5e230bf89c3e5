package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"portioncore/pkg/domain"
)

// NewPortionLowRule raises PORTION_LOW when fewer than threshold portions
// remain. An empty stock is CRITICAL.
func NewPortionLowRule(threshold int) domain.AlertRule {
	return portionLowRule{threshold: threshold}
}

type portionLowRule struct {
	threshold int
}

func (portionLowRule) Name() string { return "portion_low" }

func (r portionLowRule) Evaluate(_ context.Context, in domain.AlertInput) (domain.Result, error) {
	stock, item := in.Stock, in.Item
	if stock.TotalPortionsAvailable >= r.threshold {
		return domain.Result{}, nil
	}
	severity := domain.SeverityHigh
	if stock.TotalPortionsAvailable == 0 {
		severity = domain.SeverityCritical
	}
	return domain.Result{Alerts: []domain.InventoryAlert{{
		Type:     domain.AlertPortionLow,
		Severity: severity,
		Title:    "Low Portion Availability",
		Message:  fmt.Sprintf("Only %d portions remaining for %s", stock.TotalPortionsAvailable, item.Name),
		RecommendedActions: []domain.RecommendedAction{
			{
				Action:          "CONVERT",
				Priority:        1,
				Description:     "Split whole units into portions",
				EstimatedImpact: fmt.Sprintf("+%d portions", estimatePortionsFromConversion(stock, item)),
			},
			{
				Action:      "REORDER",
				Priority:    2,
				Description: "Reorder from supplier",
			},
		},
	}}}, nil
}

// estimatePortionsFromConversion is the yield of splitting every whole unit at
// the item's average portion size.
func estimatePortionsFromConversion(stock domain.FractionalStock, item domain.FractionalItem) int64 {
	return decimal.NewFromInt(int64(stock.WholeUnitsAvailable)).
		Mul(item.AveragePortionsPerWhole()).
		Mul(one.Sub(item.WasteFraction())).
		Floor().
		IntPart()
}
