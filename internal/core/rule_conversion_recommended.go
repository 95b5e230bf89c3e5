package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"portioncore/pkg/domain"
)

// Opportunity is a conversion worth doing ahead of demand.
type Opportunity struct {
	WholeUnits           int
	PortionSizeID        string
	RecommendationType   string
	Priority             domain.AlertSeverity
	ExpectedDemand       int
	Reason               string
	EstimatedRevenue     decimal.Decimal
	OptimalExecutionTime time.Time
	DetectedBy           string
}

// OpportunityDetector decides whether a stock should be converted now. A nil
// opportunity means nothing to recommend.
type OpportunityDetector interface {
	Detect(ctx context.Context, in domain.AlertInput) (*Opportunity, error)
}

// NewConversionRecommendedRule raises CONVERSION_RECOMMENDED with a matching
// recommendation whenever detector reports an opportunity.
func NewConversionRecommendedRule(detector OpportunityDetector) domain.AlertRule {
	return conversionRecommendedRule{detector: detector}
}

type conversionRecommendedRule struct {
	detector OpportunityDetector
}

func (conversionRecommendedRule) Name() string { return "conversion_recommended" }

func (r conversionRecommendedRule) Evaluate(ctx context.Context, in domain.AlertInput) (domain.Result, error) {
	opp, err := r.detector.Detect(ctx, in)
	if err != nil {
		return domain.Result{}, fmt.Errorf("detect conversion opportunity: %w", err)
	}
	if opp == nil || opp.WholeUnits <= 0 {
		return domain.Result{}, nil
	}
	units := decimal.NewFromInt(int64(opp.WholeUnits))
	rec := domain.ConversionRecommendation{
		RecommendationType:    opp.RecommendationType,
		Priority:              opp.Priority,
		FromState:             in.Stock.CurrentState,
		ToState:               domain.StatePortioned,
		RecommendedWholeUnits: opp.WholeUnits,
		PortionSizeID:         opp.PortionSizeID,
		Reason:                opp.Reason,
		EstimatedWaste:        units.Mul(in.Item.WasteFraction()),
		EstimatedCost:         units.Mul(in.Item.ConversionCostPerUnit),
		EstimatedRevenue:      opp.EstimatedRevenue,
		RecommendedBy:         opp.DetectedBy,
		OptimalExecutionTime:  opp.OptimalExecutionTime,
		Status:                domain.RecommendationPending,
	}
	alert := domain.InventoryAlert{
		Type:     domain.AlertConversionRecommended,
		Severity: domain.SeverityMedium,
		Title:    "Conversion Opportunity",
		Message:  opp.Reason,
		RecommendedActions: []domain.RecommendedAction{{
			Action:          "CONVERT",
			Priority:        1,
			Description:     fmt.Sprintf("Convert %d whole units to portions", opp.WholeUnits),
			EstimatedImpact: "Revenue: +" + opp.EstimatedRevenue.StringFixed(2),
		}},
	}
	return domain.Result{Alerts: []domain.InventoryAlert{alert}, Recommendations: []domain.ConversionRecommendation{rec}}, nil
}

const (
	demandHorizonHours    = 4
	demandMinWholeUnits   = 2
	demandPortionCeiling  = 15
	demandMaxSplitUnits   = 3
	demandPortionsPerUnit = 8
	demandExecutionDelay  = 30 * time.Minute
	demandDetectorName    = "DEMAND_PREDICTOR"
)

var demandMarkup = decimal.NewFromFloat(1.3)

// DefaultDemandPattern is the expected portions sold per hour of the day,
// starting at midnight.
func DefaultDemandPattern() [24]int {
	return [24]int{
		2, 1, 1, 1, 2, 3,
		5, 8, 10, 12, 15, 18,
		25, 30, 28, 20, 15,
		12, 15, 20, 22, 18,
		10, 8,
	}
}

// categoryDemandMultiplier scales the base pattern per item category.
var categoryDemandMultiplier = map[string]float64{
	"Food":    1.2,
	"Dessert": 0.8,
}

// DemandDetector recommends splitting whole units when the demand expected
// over the next four hours exceeds the portions on hand.
type DemandDetector struct {
	pattern [24]int
}

// NewDemandDetector builds a detector over an hourly demand pattern.
func NewDemandDetector(pattern [24]int) *DemandDetector {
	return &DemandDetector{pattern: pattern}
}

// HourlyDemand returns the category-adjusted pattern for item.
func (d *DemandDetector) HourlyDemand(item domain.FractionalItem) [24]int {
	multiplier, ok := categoryDemandMultiplier[item.Category]
	if !ok {
		multiplier = 1
	}
	var out [24]int
	for i, v := range d.pattern {
		out[i] = int(math.Round(float64(v) * multiplier))
	}
	return out
}

// UpcomingDemand sums the adjusted demand for the hours starting at now,
// wrapping past midnight.
func (d *DemandDetector) UpcomingDemand(item domain.FractionalItem, now time.Time) int {
	hourly := d.HourlyDemand(item)
	total := 0
	for i := 0; i < demandHorizonHours; i++ {
		total += hourly[(now.Hour()+i)%24]
	}
	return total
}

// Detect implements OpportunityDetector.
func (d *DemandDetector) Detect(_ context.Context, in domain.AlertInput) (*Opportunity, error) {
	stock, item := in.Stock, in.Item
	if !item.SupportsFractional || stock.WholeUnitsAvailable < demandMinWholeUnits || stock.TotalPortionsAvailable >= demandPortionCeiling {
		return nil, nil
	}
	portion, ok := item.DefaultPortion()
	if !ok {
		return nil, nil
	}
	demand := d.UpcomingDemand(item, in.Now)
	if demand <= stock.TotalPortionsAvailable {
		return nil, nil
	}
	units := stock.WholeUnitsAvailable
	if units > demandMaxSplitUnits {
		units = demandMaxSplitUnits
	}
	revenue := decimal.NewFromInt(int64(demand)).
		Mul(item.BaseCostPerUnit.Div(decimal.NewFromInt(demandPortionsPerUnit))).
		Mul(demandMarkup)
	return &Opportunity{
		WholeUnits:           units,
		PortionSizeID:        portion.ID,
		RecommendationType:   "DEMAND_BASED",
		Priority:             domain.SeverityHigh,
		ExpectedDemand:       demand,
		Reason:               fmt.Sprintf("Upcoming %d-hour demand (%d portions) exceeds available portions", demandHorizonHours, demand),
		EstimatedRevenue:     revenue,
		OptimalExecutionTime: in.Now.Add(demandExecutionDelay),
		DetectedBy:           demandDetectorName,
	}, nil
}
