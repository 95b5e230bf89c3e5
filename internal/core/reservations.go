package core

import (
	"context"
	"fmt"
	"time"

	"portioncore/pkg/domain"
)

// ReservePortions holds portions for a pending order.
func (s *Service) ReservePortions(ctx context.Context, stockID string, portions int, performedBy string) (domain.FractionalStock, error) {
	return s.adjustPortions(ctx, opReservePortions, stockID, portions, performedBy, func(stock domain.FractionalStock, n int) (domain.StockPatch, domain.InventoryOperation, error) {
		if free := stock.AvailablePortions(); free < n {
			return domain.StockPatch{}, domain.InventoryOperation{}, domain.NewOperationError(opReservePortions, stock.ID, domain.ErrInsufficientStock, "requested %d portions, %d unreserved", n, free)
		}
		reserved := stock.ReservedPortions + n
		return domain.StockPatch{ReservedPortions: &reserved}, domain.InventoryOperation{Type: domain.OperationReservation, Portions: n}, nil
	})
}

// ReleaseReservation returns reserved portions to the available pool.
func (s *Service) ReleaseReservation(ctx context.Context, stockID string, portions int, performedBy string) (domain.FractionalStock, error) {
	return s.adjustPortions(ctx, opReleaseReservation, stockID, portions, performedBy, func(stock domain.FractionalStock, n int) (domain.StockPatch, domain.InventoryOperation, error) {
		if stock.ReservedPortions < n {
			return domain.StockPatch{}, domain.InventoryOperation{}, domain.NewOperationError(opReleaseReservation, stock.ID, domain.ErrInsufficientStock, "requested release of %d portions, %d reserved", n, stock.ReservedPortions)
		}
		reserved := stock.ReservedPortions - n
		return domain.StockPatch{ReservedPortions: &reserved}, domain.InventoryOperation{Type: domain.OperationRelease, Portions: n}, nil
	})
}

// ConsumePortions deducts sold or used portions, drawing on reserved portions
// first. A stock with nothing left moves to CONSUMED.
func (s *Service) ConsumePortions(ctx context.Context, stockID string, portions int, performedBy string) (domain.FractionalStock, error) {
	return s.adjustPortions(ctx, opConsumePortions, stockID, portions, performedBy, func(stock domain.FractionalStock, n int) (domain.StockPatch, domain.InventoryOperation, error) {
		if stock.QualityGrade == domain.GradeExpired {
			return domain.StockPatch{}, domain.InventoryOperation{}, domain.NewOperationError(opConsumePortions, stock.ID, domain.ErrInvalidStateTransition, "stock has expired")
		}
		if stock.TotalPortionsAvailable < n {
			return domain.StockPatch{}, domain.InventoryOperation{}, domain.NewOperationError(opConsumePortions, stock.ID, domain.ErrInsufficientStock, "requested %d portions, %d available", n, stock.TotalPortionsAvailable)
		}
		total := stock.TotalPortionsAvailable - n
		fromReserved := n
		if fromReserved > stock.ReservedPortions {
			fromReserved = stock.ReservedPortions
		}
		reserved := stock.ReservedPortions - fromReserved
		patch := domain.StockPatch{TotalPortionsAvailable: &total, ReservedPortions: &reserved}
		if total == 0 && stock.WholeUnitsAvailable == 0 && stock.PartialQuantityAvailable.IsZero() {
			consumed := domain.StateConsumed
			patch.CurrentState = &consumed
		}
		return patch, domain.InventoryOperation{Type: domain.OperationConsumption, Portions: n, StockedOut: total == 0}, nil
	})
}

type portionAdjustment func(stock domain.FractionalStock, n int) (domain.StockPatch, domain.InventoryOperation, error)

func (s *Service) adjustPortions(ctx context.Context, op, stockID string, portions int, performedBy string, adjust portionAdjustment) (domain.FractionalStock, error) {
	info := &auditInfo{entityID: stockID, actor: performedBy}
	info.set("portions", fmt.Sprint(portions))
	var updated domain.FractionalStock
	err := s.run(ctx, op, info, func(ctx context.Context) error {
		if err := requirePositive(op, stockID, portions); err != nil {
			return err
		}
		err := s.mutateStock(ctx, stockID, func(tx domain.Transaction, now time.Time) error {
			stock, ok := tx.FindStock(stockID)
			if !ok {
				return &domain.OperationError{Op: op, StockID: stockID, Kind: domain.NotFoundError{Entity: domain.EntityStock, ID: stockID}}
			}
			patch, entry, err := adjust(stock, portions)
			if err != nil {
				return err
			}
			if patch.CurrentState != nil && *patch.CurrentState != stock.CurrentState {
				patch.StateTransitionDate = &now
			}
			if updated, err = tx.UpdateStock(stockID, patch); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			entry.ID = s.newID()
			entry.StockID = stockID
			entry.ItemID = stock.ItemID
			entry.LocationID = stock.LocationID
			entry.PerformedBy = performedBy
			entry.PerformedAt = now
			if err := tx.LogOperation(entry); err != nil {
				return fmt.Errorf("log %s: %w", op, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.refreshAlerts(ctx, stockID)
		return nil
	})
	return updated, err
}
