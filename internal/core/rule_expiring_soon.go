package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"portioncore/pkg/domain"
)

// NewExpiringSoonRule raises EXPIRING_SOON when the stock expires within
// warning, escalating to CRITICAL inside critical.
func NewExpiringSoonRule(warning, critical time.Duration) domain.AlertRule {
	return expiringSoonRule{warning: warning, critical: critical}
}

type expiringSoonRule struct {
	warning  time.Duration
	critical time.Duration
}

func (expiringSoonRule) Name() string { return "expiring_soon" }

func (r expiringSoonRule) Evaluate(_ context.Context, in domain.AlertInput) (domain.Result, error) {
	if in.Stock.ExpiresAt == nil {
		return domain.Result{}, nil
	}
	remaining := in.Stock.ExpiresAt.Sub(in.Now)
	if remaining >= r.warning {
		return domain.Result{}, nil
	}
	severity := domain.SeverityHigh
	if remaining < r.critical {
		severity = domain.SeverityCritical
	}
	return domain.Result{Alerts: []domain.InventoryAlert{{
		Type:     domain.AlertExpiringSoon,
		Severity: severity,
		Title:    "Item Expiring Soon",
		Message:  fmt.Sprintf("%s expires in %d hours", in.Item.Name, int64(math.Round(remaining.Hours()))),
		RecommendedActions: []domain.RecommendedAction{
			{
				Action:      "CONVERT",
				Priority:    1,
				Description: "Portion remaining whole units for immediate sale",
			},
			{
				Action:      "DISCOUNT",
				Priority:    2,
				Description: "Discount to move stock before expiry",
			},
		},
	}}}, nil
}
