package core

import (
	"context"
	"fmt"
	"sort"

	"portioncore/pkg/domain"
)

// autoConversionCandidate pairs a stock with the rule that would split it.
type autoConversionCandidate struct {
	stock domain.FractionalStock
	rule  domain.ConversionRule
}

// ProcessAutomaticConversions applies every auto-trigger conversion rule to the
// active stocks it matches and returns the conversions performed. A stock is
// split by at most one rule per pass. Per-stock failures are logged and skipped.
func (s *Service) ProcessAutomaticConversions(ctx context.Context) ([]domain.ConversionRecord, error) {
	var records []domain.ConversionRecord
	err := s.run(ctx, opAutoConversions, &auditInfo{actor: domain.TriggeredBySystem}, func(ctx context.Context) error {
		var candidates []autoConversionCandidate
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			candidates = autoConversionCandidates(v)
			return nil
		}); err != nil {
			return fmt.Errorf("list auto conversion candidates: %w", err)
		}
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			portionID := c.rule.PortionSizeID
			reason := fmt.Sprintf("auto conversion rule %s: %d portions below threshold %d", c.rule.Name, c.stock.TotalPortionsAvailable, c.rule.PortionThreshold)
			rec, err := s.SplitItem(ctx, c.stock.ID, c.rule.WholeUnitsToSplit, portionID, domain.TriggeredBySystem, reason)
			if err != nil {
				s.logger.Warn("automatic conversion skipped", "stock_id", c.stock.ID, "rule", c.rule.Name, "error", err)
				continue
			}
			if err := s.logAutoConversion(ctx, rec, c.rule); err != nil {
				s.logger.Warn("automatic conversion not logged", "stock_id", c.stock.ID, "rule", c.rule.Name, "error", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (s *Service) logAutoConversion(ctx context.Context, rec domain.ConversionRecord, rule domain.ConversionRule) error {
	unlock := s.locks.lock(rec.StockID)
	defer unlock()
	return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		copied := rec
		return tx.LogOperation(domain.InventoryOperation{
			ID:          s.newID(),
			Type:        domain.OperationAutoConversion,
			StockID:     rec.StockID,
			ItemID:      rec.ItemID,
			LocationID:  rec.LocationID,
			PerformedBy: domain.TriggeredBySystem,
			PerformedAt: rec.PerformedAt,
			Conversion:  &copied,
			Notes:       "rule " + rule.ID,
		})
	})
}

// autoConversionCandidates selects, per active stock, the first matching rule
// (by rule id) whose threshold is crossed and whose split the stock can afford.
func autoConversionCandidates(v domain.TransactionView) []autoConversionCandidate {
	rules := v.ListConversionRules()
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	var out []autoConversionCandidate
	for _, stock := range v.ListActiveStocks() {
		item, ok := v.FindItem(stock.ItemID)
		if !ok || !item.AllowAutoConversion || !item.SupportsFractional {
			continue
		}
		for _, rule := range rules {
			if !rule.Matches(stock) {
				continue
			}
			if stock.TotalPortionsAvailable >= rule.PortionThreshold || stock.WholeUnitsAvailable < rule.WholeUnitsToSplit {
				continue
			}
			if rule.PortionSizeID == "" {
				portion, ok := item.DefaultPortion()
				if !ok {
					continue
				}
				rule.PortionSizeID = portion.ID
			}
			out = append(out, autoConversionCandidate{stock: stock, rule: rule})
			break
		}
	}
	return out
}
