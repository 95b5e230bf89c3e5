package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"portioncore/pkg/domain"
)

var one = decimal.NewFromInt(1)

// SplitItem converts whole units into portions of the given size.
func (s *Service) SplitItem(ctx context.Context, stockID string, wholeUnits int, portionSizeID, performedBy, reason string) (domain.ConversionRecord, error) {
	info := &auditInfo{entityID: stockID, actor: performedBy}
	var record domain.ConversionRecord
	err := s.run(ctx, opSplitItem, info, func(ctx context.Context) error {
		if err := requirePositive(opSplitItem, stockID, wholeUnits); err != nil {
			return err
		}
		err := s.mutateStock(ctx, stockID, func(tx domain.Transaction, now time.Time) error {
			stock, item, err := loadStockAndItem(tx, opSplitItem, stockID)
			if err != nil {
				return err
			}
			rec, err := planSplit(stock, item, wholeUnits, portionSizeID)
			if err != nil {
				return err
			}
			record = s.stamp(rec, stock, performedBy, reason, now)
			return s.commitConversion(tx, record)
		})
		if err != nil {
			return err
		}
		describeConversion(info, record)
		s.refreshAlerts(ctx, stockID)
		return nil
	})
	return record, err
}

// CombinePortions folds portions back into whole units using the item's
// default portion size.
func (s *Service) CombinePortions(ctx context.Context, stockID string, portions int, performedBy, reason string) (domain.ConversionRecord, error) {
	info := &auditInfo{entityID: stockID, actor: performedBy}
	var record domain.ConversionRecord
	err := s.run(ctx, opCombinePortions, info, func(ctx context.Context) error {
		if err := requirePositive(opCombinePortions, stockID, portions); err != nil {
			return err
		}
		err := s.mutateStock(ctx, stockID, func(tx domain.Transaction, now time.Time) error {
			stock, item, err := loadStockAndItem(tx, opCombinePortions, stockID)
			if err != nil {
				return err
			}
			rec, err := planCombine(stock, item, portions)
			if err != nil {
				return err
			}
			record = s.stamp(rec, stock, performedBy, reason, now)
			return s.commitConversion(tx, record)
		})
		if err != nil {
			return err
		}
		describeConversion(info, record)
		s.refreshAlerts(ctx, stockID)
		return nil
	})
	return record, err
}

// PrepareItems moves raw whole units to the prepared state, resetting quality
// and starting the shelf-life clock.
func (s *Service) PrepareItems(ctx context.Context, stockID string, wholeUnits int, performedBy, notes string) (domain.ConversionRecord, error) {
	info := &auditInfo{entityID: stockID, actor: performedBy}
	var record domain.ConversionRecord
	err := s.run(ctx, opPrepareItems, info, func(ctx context.Context) error {
		if err := requirePositive(opPrepareItems, stockID, wholeUnits); err != nil {
			return err
		}
		err := s.mutateStock(ctx, stockID, func(tx domain.Transaction, now time.Time) error {
			stock, item, err := loadStockAndItem(tx, opPrepareItems, stockID)
			if err != nil {
				return err
			}
			rec, err := planPrepare(stock, item, wholeUnits)
			if err != nil {
				return err
			}
			rec.Notes = notes
			record = s.stamp(rec, stock, performedBy, "", now)
			if err := s.commitConversion(tx, record); err != nil {
				return err
			}
			grade := domain.GradeExcellent
			patch := domain.StockPatch{PreparedAt: &now, QualityGrade: &grade}
			if item.ShelfLifeHours != nil {
				expires := now.Add(time.Duration(*item.ShelfLifeHours) * time.Hour)
				patch.ExpiresAt = &expires
			}
			if _, err := tx.UpdateStock(stockID, patch); err != nil {
				return fmt.Errorf("mark prepared: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		describeConversion(info, record)
		s.refreshAlerts(ctx, stockID)
		return nil
	})
	return record, err
}

// stamp fills the identity and provenance fields shared by every conversion.
func (s *Service) stamp(rec domain.ConversionRecord, stock domain.FractionalStock, performedBy, reason string, now time.Time) domain.ConversionRecord {
	rec.ID = s.newID()
	rec.StockID = stock.ID
	rec.ItemID = stock.ItemID
	rec.LocationID = stock.LocationID
	rec.FromState = stock.CurrentState
	rec.BeforeWholeUnits = stock.WholeUnitsAvailable
	rec.BeforePartialQuantity = stock.PartialQuantityAvailable
	rec.BeforeTotalPortions = stock.TotalPortionsAvailable
	rec.PerformedBy = performedBy
	rec.PerformedAt = now
	rec.Reason = reason
	rec.SourceStockIDs = []string{stock.ID}
	rec.TargetStockIDs = []string{stock.ID}
	return rec
}

func (s *Service) commitConversion(tx domain.Transaction, record domain.ConversionRecord) error {
	if _, err := tx.ApplyConversion(record.StockID, record); err != nil {
		return fmt.Errorf("apply conversion: %w", err)
	}
	rec := record
	if err := tx.LogOperation(domain.InventoryOperation{
		ID:          s.newID(),
		Type:        domain.OperationConversion,
		StockID:     record.StockID,
		ItemID:      record.ItemID,
		LocationID:  record.LocationID,
		PerformedBy: record.PerformedBy,
		PerformedAt: record.PerformedAt,
		Conversion:  &rec,
		Notes:       record.Notes,
	}); err != nil {
		return fmt.Errorf("log conversion: %w", err)
	}
	return nil
}

func describeConversion(info *auditInfo, record domain.ConversionRecord) {
	info.set("conversion_id", record.ID)
	info.set("conversion_type", string(record.ConversionType))
	info.set("quantity", fmt.Sprint(record.QuantityConverted))
	info.set("waste", record.WasteGenerated.String())
}

// planSplit computes a split of n whole units. The returned record carries the
// after-snapshot; stamp fills the rest.
func planSplit(stock domain.FractionalStock, item domain.FractionalItem, n int, portionSizeID string) (domain.ConversionRecord, error) {
	if !item.SupportsFractional {
		return domain.ConversionRecord{}, domain.NewOperationError(opSplitItem, stock.ID, domain.ErrUnsupportedOperation, "item %s does not support fractional conversion", item.ID)
	}
	if stock.WholeUnitsAvailable < n {
		return domain.ConversionRecord{}, domain.NewOperationError(opSplitItem, stock.ID, domain.ErrInsufficientStock, "requested %d whole units, %d available", n, stock.WholeUnitsAvailable)
	}
	portion, ok := item.FindPortion(portionSizeID)
	if !ok {
		return domain.ConversionRecord{}, domain.NewOperationError(opSplitItem, stock.ID, domain.ErrInvalidPortionSize, "portion size %q is not configured for item %s", portionSizeID, item.ID)
	}
	w := item.WasteFraction()
	qty := decimal.NewFromInt(int64(n))
	theoretical := int64(n) * int64(portion.PortionsPerWhole)
	actual := decimal.NewFromInt(theoretical).Mul(one.Sub(w)).Floor().IntPart()
	efficiency := 0.0
	if theoretical > 0 {
		efficiency = decimal.NewFromInt(actual).Div(decimal.NewFromInt(theoretical)).InexactFloat64()
	}
	return domain.ConversionRecord{
		ConversionType:       domain.ConversionSplit,
		ToState:              domain.StatePortioned,
		QuantityConverted:    n,
		PortionSizeID:        portion.ID,
		PortionsPerWhole:     portion.PortionsPerWhole,
		AfterWholeUnits:      stock.WholeUnitsAvailable - n,
		AfterPartialQuantity: stock.PartialQuantityAvailable,
		AfterTotalPortions:   stock.TotalPortionsAvailable + int(actual),
		WasteGenerated:       qty.Mul(w),
		ConversionEfficiency: efficiency,
		ConversionCost:       qty.Mul(item.ConversionCostPerUnit),
	}, nil
}

// planCombine computes folding n portions back into whole units. Leftover
// portions stay on the stock and reserved portions are never consumed.
func planCombine(stock domain.FractionalStock, item domain.FractionalItem, n int) (domain.ConversionRecord, error) {
	if stock.TotalPortionsAvailable < n {
		return domain.ConversionRecord{}, domain.NewOperationError(opCombinePortions, stock.ID, domain.ErrInsufficientStock, "requested %d portions, %d available", n, stock.TotalPortionsAvailable)
	}
	if free := stock.AvailablePortions(); n > free {
		return domain.ConversionRecord{}, domain.NewOperationError(opCombinePortions, stock.ID, domain.ErrInsufficientStock, "requested %d portions, %d unreserved", n, free)
	}
	portion, ok := item.DefaultPortion()
	if !ok {
		return domain.ConversionRecord{}, domain.NewOperationError(opCombinePortions, stock.ID, domain.ErrConfiguration, "item %s has no portion sizes", item.ID)
	}
	p := portion.PortionsPerWhole
	whole := n / p
	rem := n % p
	toState := domain.StatePortioned
	if whole > 0 {
		toState = domain.StateRaw
	}
	return domain.ConversionRecord{
		ConversionType:       domain.ConversionCombine,
		ToState:              toState,
		QuantityConverted:    n,
		PortionSizeID:        portion.ID,
		PortionsPerWhole:     p,
		AfterWholeUnits:      stock.WholeUnitsAvailable + whole,
		AfterPartialQuantity: stock.PartialQuantityAvailable,
		AfterTotalPortions:   stock.TotalPortionsAvailable - n + rem,
		WasteGenerated:       decimal.NewFromInt(int64(n)).Mul(item.WasteFraction()),
		ConversionEfficiency: float64(whole*p+rem) / float64(n),
		ConversionCost:       decimal.NewFromInt(int64(whole)).Mul(item.ConversionCostPerUnit),
	}, nil
}

// planPrepare computes preparing n raw whole units. Whole units stay integral;
// the fractional yield lands in PartialQuantityAvailable.
func planPrepare(stock domain.FractionalStock, item domain.FractionalItem, n int) (domain.ConversionRecord, error) {
	if stock.CurrentState != domain.StateRaw {
		return domain.ConversionRecord{}, domain.NewOperationError(opPrepareItems, stock.ID, domain.ErrInvalidStateTransition, "cannot prepare from %s", stock.CurrentState)
	}
	if stock.WholeUnitsAvailable < n {
		return domain.ConversionRecord{}, domain.NewOperationError(opPrepareItems, stock.ID, domain.ErrInsufficientStock, "requested %d whole units, %d available", n, stock.WholeUnitsAvailable)
	}
	qty := decimal.NewFromInt(int64(n))
	waste := qty.Mul(item.WasteFraction())
	prepared := qty.Sub(waste)
	wholePrepared := prepared.Floor()
	return domain.ConversionRecord{
		ConversionType:       domain.ConversionPrepare,
		ToState:              domain.StatePrepared,
		QuantityConverted:    n,
		AfterWholeUnits:      stock.WholeUnitsAvailable - n + int(wholePrepared.IntPart()),
		AfterPartialQuantity: stock.PartialQuantityAvailable.Add(prepared.Sub(wholePrepared)),
		AfterTotalPortions:   stock.TotalPortionsAvailable,
		WasteGenerated:       waste,
		ConversionEfficiency: prepared.Div(qty).InexactFloat64(),
		ConversionCost:       qty.Mul(item.ConversionCostPerUnit),
	}, nil
}
