package core

import (
	"context"
	"fmt"

	"portioncore/pkg/domain"
)

// NewQualityDegradingRule raises QUALITY_DEGRADING for FAIR (MEDIUM), POOR
// (HIGH) and EXPIRED (CRITICAL) stock.
func NewQualityDegradingRule() domain.AlertRule {
	return qualityDegradingRule{}
}

type qualityDegradingRule struct{}

func (qualityDegradingRule) Name() string { return "quality_degrading" }

func (qualityDegradingRule) Evaluate(_ context.Context, in domain.AlertInput) (domain.Result, error) {
	var severity domain.AlertSeverity
	switch in.Stock.QualityGrade {
	case domain.GradeFair:
		severity = domain.SeverityMedium
	case domain.GradePoor:
		severity = domain.SeverityHigh
	case domain.GradeExpired:
		return domain.Result{Alerts: []domain.InventoryAlert{{
			Type:     domain.AlertQualityDegrading,
			Severity: domain.SeverityCritical,
			Title:    "Stock Expired",
			Message:  fmt.Sprintf("%s has expired and must not be served", in.Item.Name),
			RecommendedActions: []domain.RecommendedAction{{
				Action:      "DISCARD",
				Priority:    1,
				Description: "Remove the expired stock and record it as waste",
			}},
		}}}, nil
	default:
		return domain.Result{}, nil
	}
	return domain.Result{Alerts: []domain.InventoryAlert{{
		Type:     domain.AlertQualityDegrading,
		Severity: severity,
		Title:    "Quality Degradation Detected",
		Message:  fmt.Sprintf("%s quality has degraded to %s", in.Item.Name, in.Stock.QualityGrade),
		RecommendedActions: []domain.RecommendedAction{{
			Action:      "QUALITY_CHECK",
			Priority:    1,
			Description: "Inspect the stock and decide whether to use it promptly or discard it",
		}},
	}}}, nil
}
