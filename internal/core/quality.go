package core

import (
	"context"
	"fmt"
	"time"

	"portioncore/pkg/domain"
)

// QualityPolicy holds the decay ratios (hours since preparation over
// MaxQualityHours) above which a stock is downgraded.
type QualityPolicy struct {
	PoorRatio float64
	FairRatio float64
	GoodRatio float64
}

// DefaultQualityPolicy returns the 0.8 / 0.6 / 0.3 ratios.
func DefaultQualityPolicy() QualityPolicy {
	return QualityPolicy{PoorRatio: 0.8, FairRatio: 0.6, GoodRatio: 0.3}
}

// Grade computes the quality grade of stock at now. The result never improves
// on the stored grade.
func (p QualityPolicy) Grade(stock domain.FractionalStock, item domain.FractionalItem, now time.Time) domain.QualityGrade {
	hours := 0.0
	if stock.PreparedAt != nil {
		hours = now.Sub(*stock.PreparedAt).Hours()
	}
	candidate := stock.QualityGrade
	switch {
	case item.ShelfLifeHours != nil && hours > float64(*item.ShelfLifeHours):
		candidate = domain.GradeExpired
	case stock.ExpiresAt != nil && now.After(*stock.ExpiresAt):
		candidate = domain.GradeExpired
	case item.MaxQualityHours != nil && hours > float64(*item.MaxQualityHours):
		ratio := hours / float64(*item.MaxQualityHours)
		switch {
		case ratio > p.PoorRatio:
			candidate = domain.GradePoor
		case ratio > p.FairRatio:
			candidate = domain.GradeFair
		case ratio > p.GoodRatio:
			candidate = domain.GradeGood
		}
	}
	if candidate.WorseThan(stock.QualityGrade) {
		return candidate
	}
	return stock.QualityGrade
}

// UpdateQualityGrade recomputes and persists the stock's quality grade. The
// record and the QUALITY_UPDATE ledger entry are written only when the grade
// changes.
func (s *Service) UpdateQualityGrade(ctx context.Context, stockID, performedBy, notes string) (domain.QualityGrade, error) {
	info := &auditInfo{entityID: stockID, actor: performedBy}
	var (
		grade   domain.QualityGrade
		changed bool
	)
	err := s.run(ctx, opUpdateQuality, info, func(ctx context.Context) error {
		err := s.mutateStock(ctx, stockID, func(tx domain.Transaction, now time.Time) error {
			stock, item, err := loadStockAndItem(tx, opUpdateQuality, stockID)
			if err != nil {
				return err
			}
			from := stock.QualityGrade
			grade = s.qualityPolicy.Grade(stock, item, now)
			if grade == from {
				return nil
			}
			changed = true
			patch := domain.StockPatch{QualityGrade: &grade, LastQualityCheck: &now}
			if notes != "" {
				patch.QualityNotes = &notes
			}
			if _, err := tx.UpdateStock(stockID, patch); err != nil {
				return fmt.Errorf("update quality: %w", err)
			}
			if err := tx.LogOperation(domain.InventoryOperation{
				ID:          s.newID(),
				Type:        domain.OperationQualityUpdate,
				StockID:     stockID,
				ItemID:      stock.ItemID,
				LocationID:  stock.LocationID,
				PerformedBy: performedBy,
				PerformedAt: now,
				QualityFrom: from,
				QualityTo:   grade,
				Notes:       notes,
			}); err != nil {
				return fmt.Errorf("log quality update: %w", err)
			}
			info.set("quality_from", string(from))
			info.set("quality_to", string(grade))
			return nil
		})
		if err != nil {
			return err
		}
		if changed {
			s.refreshAlerts(ctx, stockID)
		}
		return nil
	})
	return grade, err
}

// GradeChange is one downgrade observed by a sweep.
type GradeChange struct {
	StockID string
	From    domain.QualityGrade
	To      domain.QualityGrade
}

// SweepReport summarises a quality sweep.
type SweepReport struct {
	Checked  int
	Changes  []GradeChange
	Failures map[string]error
}

// SweepQuality runs UpdateQualityGrade over every active stock. Per-stock
// failures are collected without stopping the sweep.
func (s *Service) SweepQuality(ctx context.Context, performedBy string) (SweepReport, error) {
	report := SweepReport{Failures: make(map[string]error)}
	err := s.run(ctx, opSweepQuality, &auditInfo{actor: performedBy}, func(ctx context.Context) error {
		var stocks []domain.FractionalStock
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			stocks = v.ListActiveStocks()
			return nil
		}); err != nil {
			return fmt.Errorf("list active stocks: %w", err)
		}
		for _, stock := range stocks {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Checked++
			grade, err := s.UpdateQualityGrade(ctx, stock.ID, performedBy, "")
			if err != nil {
				report.Failures[stock.ID] = err
				continue
			}
			if grade != stock.QualityGrade {
				report.Changes = append(report.Changes, GradeChange{StockID: stock.ID, From: stock.QualityGrade, To: grade})
			}
		}
		if len(report.Failures) > 0 {
			s.logger.Warn("quality sweep completed with failures", "checked", report.Checked, "failures", len(report.Failures))
		}
		return nil
	})
	return report, err
}
