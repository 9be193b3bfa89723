package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

// AdjustInventory sets the counted quantity of an item. It returns nil when
// the count matches the books.
func (s *Service) AdjustInventory(ctx context.Context, sess domain.Session, req domain.AdjustInventoryRequest) (movement *domain.StockMovement, err error) {
	defer func() { s.observe("adjust_inventory", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := requireNonNegative("new_quantity", req.NewQuantity); err != nil {
		return nil, err
	}
	itemID := strings.TrimSpace(req.ItemID)
	items, err := s.lookupItems(ctx, []string{itemID})
	if err != nil {
		return nil, err
	}
	if !items[itemID].StockTracked {
		return nil, store.Validation(store.CodeInvalidInput, "item does not track stock", map[string]any{"item_id": itemID})
	}

	adjustmentID := xid.New("adj")
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		positions, err := tx.LockInventory(ctx, sess.StoreID, []string{itemID})
		if err != nil {
			return err
		}
		pos := positions[itemID]
		movement, err = ledger.Adjust(ctx, tx, &pos, req.NewQuantity, ledger.StockChange{
			Source: domain.SourceRef{Kind: domain.SourceAdjustment, ID: adjustmentID},
			Reason: strings.TrimSpace(req.Reason),
			Actor:  sess.UserID,
			At:     time.Now().UTC(),
		})
		return err
	})
	if err != nil || movement == nil {
		return nil, err
	}

	s.logAudit(ctx, sess, "inventory_adjust", "item", itemID,
		fmt.Sprintf("kind=%s,qty=%s,reason=%s", movement.Kind, movement.Quantity.String(), movement.Reason))
	return movement, nil
}

func (s *Service) GetInventory(ctx context.Context, sess domain.Session, itemID string) (*domain.InventoryPosition, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.GetInventory(ctx, sess.StoreID, itemID)
}

func (s *Service) ListStockMovements(ctx context.Context, sess domain.Session, itemID string) ([]domain.StockMovement, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.ListStockMovements(ctx, sess.StoreID, itemID)
}

func (s *Service) ListLowStockAlerts(ctx context.Context, sess domain.Session) ([]domain.LowStockAlert, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLowStockAlerts(ctx, sess.StoreID)
}
