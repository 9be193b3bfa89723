package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

// StockChange is one quantity mutation against a locked inventory position.
// UnitCost values the audit movement; Increase also blends it into the
// position's average cost.
type StockChange struct {
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	Kind     domain.MovementKind
	Source   domain.SourceRef
	Reason   string
	Actor    string
	At       time.Time
}

// WeightedAverage blends an incoming receipt into the running unit cost.
func WeightedAverage(oldQty, oldAvg, qty, unitCost decimal.Decimal) decimal.Decimal {
	totalQty := oldQty.Add(qty)
	if !totalQty.IsPositive() {
		return unitCost
	}
	totalValue := oldQty.Mul(oldAvg).Add(qty.Mul(unitCost))
	return Cost(totalValue.Div(totalQty))
}

// Decrease removes stock from pos and returns the quantity held before the
// change. pos must have been locked through tx.LockInventory.
func Decrease(ctx context.Context, tx store.Tx, pos *domain.InventoryPosition, change StockChange) (decimal.Decimal, error) {
	if !change.Quantity.IsPositive() {
		return decimal.Zero, store.Validation(store.CodeInvalidInput, "quantity must be positive", map[string]any{"item_id": pos.ItemID})
	}
	previous := pos.Quantity
	if _, err := decrease(ctx, tx, pos, change); err != nil {
		return decimal.Zero, err
	}
	return previous, nil
}

func decrease(ctx context.Context, tx store.Tx, pos *domain.InventoryPosition, change StockChange) (domain.StockMovement, error) {
	previous := pos.Quantity
	if change.Quantity.GreaterThan(previous) {
		return domain.StockMovement{}, store.Conflict(store.CodeInsufficientStock,
			fmt.Sprintf("insufficient stock for item %s: available %s, requested %s", pos.ItemID, previous.String(), change.Quantity.String()),
			map[string]any{"item_id": pos.ItemID, "available": previous.String(), "requested": change.Quantity.String()})
	}

	pos.Quantity = previous.Sub(change.Quantity)
	movement, err := apply(ctx, tx, pos, change)
	if err != nil {
		return domain.StockMovement{}, err
	}
	if err := signalLowStock(ctx, tx, *pos, change.At); err != nil {
		return domain.StockMovement{}, err
	}
	return movement, nil
}

// Increase adds received stock to pos and recomputes its weighted-average
// cost. It returns the new average.
func Increase(ctx context.Context, tx store.Tx, pos *domain.InventoryPosition, change StockChange) (decimal.Decimal, error) {
	if !change.Quantity.IsPositive() {
		return decimal.Zero, store.Validation(store.CodeInvalidInput, "quantity must be positive", map[string]any{"item_id": pos.ItemID})
	}
	if change.UnitCost.IsNegative() {
		return decimal.Zero, store.Validation(store.CodeInvalidInput, "unit cost must not be negative", map[string]any{"item_id": pos.ItemID})
	}

	pos.AverageCost = WeightedAverage(pos.Quantity, pos.AverageCost, change.Quantity, change.UnitCost)
	pos.Quantity = pos.Quantity.Add(change.Quantity)
	if _, err := apply(ctx, tx, pos, change); err != nil {
		return decimal.Zero, err
	}
	return pos.AverageCost, nil
}

// Restore puts stock back without touching the average cost. Sale returns and
// positive adjustments go through here.
func Restore(ctx context.Context, tx store.Tx, pos *domain.InventoryPosition, change StockChange) error {
	if !change.Quantity.IsPositive() {
		return store.Validation(store.CodeInvalidInput, "quantity must be positive", map[string]any{"item_id": pos.ItemID})
	}
	pos.Quantity = pos.Quantity.Add(change.Quantity)
	_, err := apply(ctx, tx, pos, change)
	return err
}

// Adjust moves pos to newQty at its current average cost. A zero delta writes
// nothing and returns nil.
func Adjust(ctx context.Context, tx store.Tx, pos *domain.InventoryPosition, newQty decimal.Decimal, change StockChange) (*domain.StockMovement, error) {
	if newQty.IsNegative() {
		return nil, store.Validation(store.CodeInvalidInput, "new quantity must not be negative",
			map[string]any{"item_id": pos.ItemID, "new_quantity": newQty.String()})
	}
	delta := newQty.Sub(pos.Quantity)
	if delta.IsZero() {
		return nil, nil
	}

	change.UnitCost = pos.AverageCost
	change.Quantity = delta.Abs()
	if delta.IsPositive() {
		change.Kind = domain.MovementAdjustmentIn
		pos.Quantity = newQty
		movement, err := apply(ctx, tx, pos, change)
		if err != nil {
			return nil, err
		}
		return &movement, nil
	}
	change.Kind = domain.MovementAdjustmentOut
	movement, err := decrease(ctx, tx, pos, change)
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func apply(ctx context.Context, tx store.Tx, pos *domain.InventoryPosition, change StockChange) (domain.StockMovement, error) {
	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	pos.UpdatedAt = at
	if err := tx.UpdateInventory(ctx, *pos); err != nil {
		return domain.StockMovement{}, fmt.Errorf("update inventory %s: %w", pos.ItemID, err)
	}

	unitCost := change.UnitCost
	movement := domain.StockMovement{
		ID:        xid.New("mov"),
		StoreID:   pos.StoreID,
		ItemID:    pos.ItemID,
		Kind:      change.Kind,
		Quantity:  change.Quantity,
		UnitPrice: unitCost,
		Subtotal:  Money(change.Quantity.Mul(unitCost)),
		Source:    change.Source,
		Reason:    change.Reason,
		Actor:     change.Actor,
		CreatedAt: at,
	}
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return domain.StockMovement{}, err
	}
	return movement, nil
}

func signalLowStock(ctx context.Context, tx store.Tx, pos domain.InventoryPosition, at time.Time) error {
	if !pos.ReorderPoint.IsPositive() || pos.Quantity.GreaterThan(pos.ReorderPoint) {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	severity := domain.AlertSeverityWarning
	if !pos.Quantity.IsPositive() {
		severity = domain.AlertSeverityCritical
	}
	return tx.UpsertLowStockAlert(ctx, domain.LowStockAlert{
		ID:           xid.New("alert"),
		StoreID:      pos.StoreID,
		ItemID:       pos.ItemID,
		Severity:     severity,
		Status:       domain.AlertStatusUnread,
		Quantity:     pos.Quantity,
		ReorderPoint: pos.ReorderPoint,
		CreatedAt:    at,
	})
}
