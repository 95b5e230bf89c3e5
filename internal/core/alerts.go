package core

import (
	"context"
	"fmt"
	"time"

	"portioncore/pkg/domain"
)

// AlertPolicy configures the thresholds of the built-in alert rules.
type AlertPolicy struct {
	// PortionLowThreshold raises PORTION_LOW when available portions drop below it.
	PortionLowThreshold int
	// ExpiryWarning raises EXPIRING_SOON when expiry is closer than this.
	ExpiryWarning time.Duration
	// ExpiryCritical escalates EXPIRING_SOON to CRITICAL.
	ExpiryCritical time.Duration
}

// DefaultAlertPolicy returns a 10 portion threshold and a 24h/4h expiry window.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		PortionLowThreshold: 10,
		ExpiryWarning:       24 * time.Hour,
		ExpiryCritical:      4 * time.Hour,
	}
}

// NewDefaultRulesEngine registers the built-in alert rules.
func NewDefaultRulesEngine(policy AlertPolicy, detector OpportunityDetector) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPortionLowRule(policy.PortionLowThreshold))
	engine.Register(NewQualityDegradingRule())
	engine.Register(NewExpiringSoonRule(policy.ExpiryWarning, policy.ExpiryCritical))
	if detector != nil {
		engine.Register(NewConversionRecommendedRule(detector))
	}
	return engine
}

// EvaluateAlertsForStock regenerates the stock's alerts and recommendations,
// replacing the previous set in one transaction. Missing and consumed stocks
// end up with no alerts.
func (s *Service) EvaluateAlertsForStock(ctx context.Context, stockID string) ([]domain.InventoryAlert, error) {
	info := &auditInfo{entityID: stockID, actor: domain.TriggeredBySystem}
	var alerts []domain.InventoryAlert
	err := s.run(ctx, opEvaluateAlerts, info, func(ctx context.Context) error {
		return s.mutateStock(ctx, stockID, func(tx domain.Transaction, now time.Time) error {
			alerts = nil
			stock, ok := tx.FindStock(stockID)
			if !ok || !stock.Active() {
				return clearAlerts(tx, stockID)
			}
			item, ok := tx.FindItem(stock.ItemID)
			if !ok {
				return &domain.OperationError{Op: opEvaluateAlerts, StockID: stockID, Kind: domain.NotFoundError{Entity: domain.EntityItem, ID: stock.ItemID}}
			}
			res, err := s.engine.Evaluate(ctx, domain.AlertInput{Stock: stock, Item: item, Now: now, View: tx.Snapshot()})
			if err != nil {
				return fmt.Errorf("evaluate alert rules: %w", err)
			}
			for i := range res.Alerts {
				a := &res.Alerts[i]
				if a.ID == "" {
					a.ID = s.newID()
				}
				a.StockID = stock.ID
				a.ItemID = stock.ItemID
				a.LocationID = stock.LocationID
				a.TriggeredAt = now
				if a.TriggeredBy == "" {
					a.TriggeredBy = domain.TriggeredBySystem
				}
				a.IsActive = true
			}
			for i := range res.Recommendations {
				r := &res.Recommendations[i]
				if r.ID == "" {
					r.ID = s.newID()
				}
				r.StockID = stock.ID
				r.ItemID = stock.ItemID
				r.LocationID = stock.LocationID
				r.RecommendedAt = now
				if r.Status == "" {
					r.Status = domain.RecommendationPending
				}
			}
			domain.SortAlerts(res.Alerts)
			if err := tx.ReplaceAlerts(stockID, res.Alerts); err != nil {
				return fmt.Errorf("replace alerts: %w", err)
			}
			if err := tx.ReplaceRecommendations(stockID, res.Recommendations); err != nil {
				return fmt.Errorf("replace recommendations: %w", err)
			}
			alerts = res.Alerts
			info.set("alerts", fmt.Sprint(len(res.Alerts)))
			return nil
		})
	})
	return alerts, err
}

func clearAlerts(tx domain.Transaction, stockID string) error {
	if err := tx.ReplaceAlerts(stockID, nil); err != nil {
		return fmt.Errorf("clear alerts: %w", err)
	}
	if err := tx.ReplaceRecommendations(stockID, nil); err != nil {
		return fmt.Errorf("clear recommendations: %w", err)
	}
	return nil
}

// ActiveAlerts lists current alerts, optionally scoped to a location, most
// severe first.
func (s *Service) ActiveAlerts(ctx context.Context, locationID string) ([]domain.InventoryAlert, error) {
	var alerts []domain.InventoryAlert
	err := s.run(ctx, opActiveAlerts, nil, func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			for _, a := range v.ListAlerts(locationID) {
				if a.IsActive {
					alerts = append(alerts, a)
				}
			}
			domain.SortAlerts(alerts)
			return nil
		})
	})
	return alerts, err
}
