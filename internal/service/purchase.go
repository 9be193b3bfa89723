package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

// LandedUnitCosts returns the per-unit landed cost of every purchase line:
// unit cost less per-unit discount plus per-unit tax plus the line's share of
// freight and other costs, allocated by line value.
func LandedUnitCosts(purchase domain.Purchase) map[string]decimal.Decimal {
	extras := purchase.Freight.Add(purchase.OtherCosts)
	totalValue := decimal.Zero
	for _, line := range purchase.Lines {
		totalValue = totalValue.Add(line.Value())
	}

	out := make(map[string]decimal.Decimal, len(purchase.Lines))
	for _, line := range purchase.Lines {
		if !line.OrderedQty.IsPositive() {
			out[line.ID] = ledger.Cost(line.UnitCost)
			continue
		}
		perUnit := line.UnitCost.
			Sub(line.DiscountAmount.Div(line.OrderedQty)).
			Add(line.TaxAmount.Div(line.OrderedQty))
		if totalValue.IsPositive() && extras.IsPositive() {
			share := extras.Mul(line.Value()).Div(totalValue)
			perUnit = perUnit.Add(share.Div(line.OrderedQty))
		}
		out[line.ID] = ledger.Cost(decimal.Max(perUnit, decimal.Zero))
	}
	return out
}

func validatePurchaseLines(lines []domain.PurchaseQuantity) error {
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if err := requirePositive("quantity", line.Quantity); err != nil {
			return err
		}
		if seen[line.PurchaseLineID] {
			return store.Validation(store.CodeInvalidInput, "purchase line listed twice", map[string]any{"purchase_line_id": line.PurchaseLineID})
		}
		seen[line.PurchaseLineID] = true
	}
	return nil
}

func lockStorePurchase(ctx context.Context, tx store.Tx, storeID string, purchaseID string) (*domain.Purchase, map[string]int, error) {
	purchase, err := tx.LockPurchase(ctx, purchaseID)
	if err != nil {
		return nil, nil, err
	}
	if purchase.StoreID != storeID {
		return nil, nil, store.NotFound("purchase", purchaseID)
	}
	index := make(map[string]int, len(purchase.Lines))
	for i, line := range purchase.Lines {
		index[line.ID] = i
	}
	return purchase, index, nil
}

// ReceivePurchase takes stock in at landed cost. Each requested quantity is
// capped at what is still outstanding on its line.
func (s *Service) ReceivePurchase(ctx context.Context, sess domain.Session, req domain.ReceivePurchaseRequest) (purchase domain.Purchase, err error) {
	defer func() { s.observe("receive_purchase", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.Purchase{}, err
	}
	if err := validatePurchaseLines(req.Lines); err != nil {
		return domain.Purchase{}, err
	}

	received := decimal.Zero
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, index, err := lockStorePurchase(ctx, tx, sess.StoreID, req.PurchaseID)
		if err != nil {
			return err
		}
		if locked.Status == domain.PurchaseStatusCancelled || locked.Status == domain.PurchaseStatusReceived {
			return store.Conflict(store.CodeInvalidState, "purchase cannot receive more stock",
				map[string]any{"purchase_id": locked.ID, "status": locked.Status})
		}

		type receipt struct {
			line int
			qty  decimal.Decimal
		}
		var receipts []receipt
		var itemIDs []string
		for _, lineReq := range req.Lines {
			i, ok := index[lineReq.PurchaseLineID]
			if !ok {
				return store.NotFound("purchase line", lineReq.PurchaseLineID)
			}
			line := locked.Lines[i]
			qty := decimal.Min(lineReq.Quantity, line.OrderedQty.Sub(line.ReceivedQty))
			if !qty.IsPositive() {
				continue
			}
			receipts = append(receipts, receipt{line: i, qty: qty})
			itemIDs = append(itemIDs, line.ItemID)
		}
		if len(receipts) == 0 {
			return store.Conflict(store.CodeInvalidState, "nothing left to receive on the requested lines",
				map[string]any{"purchase_id": locked.ID})
		}

		positions, err := tx.LockInventory(ctx, locked.StoreID, itemIDs)
		if err != nil {
			return err
		}
		landed := LandedUnitCosts(*locked)
		now := time.Now().UTC()
		for _, r := range receipts {
			line := &locked.Lines[r.line]
			pos := positions[line.ItemID]
			if _, err := ledger.Increase(ctx, tx, &pos, ledger.StockChange{
				Quantity: r.qty,
				UnitCost: landed[line.ID],
				Kind:     domain.MovementPurchaseIn,
				Source:   domain.SourceRef{Kind: domain.SourcePurchase, ID: locked.ID},
				Actor:    sess.UserID,
				At:       now,
			}); err != nil {
				return err
			}
			positions[line.ItemID] = pos
			line.ReceivedQty = line.ReceivedQty.Add(r.qty)
			line.LandedUnitCost = landed[line.ID]
			received = received.Add(r.qty)
		}

		locked.Status = domain.PurchaseStatusReceived
		for _, line := range locked.Lines {
			if line.ReceivedQty.LessThan(line.OrderedQty) {
				locked.Status = domain.PurchaseStatusPartiallyReceived
				break
			}
		}
		if locked.Status == domain.PurchaseStatusReceived {
			locked.ReceivedAt = &now
		}
		if err := tx.UpdatePurchase(ctx, *locked); err != nil {
			return err
		}
		purchase = *locked
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, sess, "purchase_receive", "purchase", purchase.ID, fmt.Sprintf("status=%s,qty=%s", purchase.Status, received.String()))
	return purchase, nil
}

// ReturnPurchase sends received stock back to the supplier at its landed
// receipt cost. The average cost is left as it is.
func (s *Service) ReturnPurchase(ctx context.Context, sess domain.Session, req domain.ReturnPurchaseRequest) (ret domain.PurchaseReturn, err error) {
	defer func() { s.observe("return_purchase", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return domain.PurchaseReturn{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.PurchaseReturn{}, err
	}
	if err := validatePurchaseLines(req.Lines); err != nil {
		return domain.PurchaseReturn{}, err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		purchase, index, err := lockStorePurchase(ctx, tx, sess.StoreID, req.PurchaseID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		ret = domain.PurchaseReturn{
			ID:         xid.New("pret"),
			PurchaseID: purchase.ID,
			StoreID:    purchase.StoreID,
			Total:      decimal.Zero,
			Reason:     req.Reason,
			CreatedBy:  sess.UserID,
			CreatedAt:  now,
		}
		var itemIDs []string
		for _, lineReq := range req.Lines {
			i, ok := index[lineReq.PurchaseLineID]
			if !ok {
				return store.NotFound("purchase line", lineReq.PurchaseLineID)
			}
			line := purchase.Lines[i]
			remaining := line.ReceivedQty.Sub(line.ReturnedQty)
			if lineReq.Quantity.GreaterThan(remaining) {
				return store.Conflict(store.CodeOverReturn, "return exceeds the received quantity left on the purchase line", map[string]any{
					"purchase_line_id": line.ID,
					"requested":        lineReq.Quantity.String(),
					"remaining":        remaining.String(),
				})
			}
			cost := line.LandedUnitCost
			if !cost.IsPositive() {
				cost = line.UnitCost
			}
			ret.Lines = append(ret.Lines, domain.PurchaseReturnLine{
				PurchaseLineID: line.ID,
				ItemID:         line.ItemID,
				Quantity:       lineReq.Quantity,
				UnitCost:       cost,
				Total:          ledger.Money(lineReq.Quantity.Mul(cost)),
			})
			itemIDs = append(itemIDs, line.ItemID)
		}

		positions, err := tx.LockInventory(ctx, purchase.StoreID, itemIDs)
		if err != nil {
			return err
		}
		for _, retLine := range ret.Lines {
			pos := positions[retLine.ItemID]
			if _, err := ledger.Decrease(ctx, tx, &pos, ledger.StockChange{
				Quantity: retLine.Quantity,
				UnitCost: retLine.UnitCost,
				Kind:     domain.MovementPurchaseReturnOut,
				Source:   domain.SourceRef{Kind: domain.SourcePurchaseReturn, ID: ret.ID},
				Reason:   req.Reason,
				Actor:    sess.UserID,
				At:       now,
			}); err != nil {
				return err
			}
			positions[retLine.ItemID] = pos

			line := &purchase.Lines[index[retLine.PurchaseLineID]]
			line.ReturnedQty = line.ReturnedQty.Add(retLine.Quantity)
			ret.Total = ret.Total.Add(retLine.Total)
		}

		purchase.Balance = decimal.Max(purchase.Balance.Sub(ret.Total), decimal.Zero)
		if err := tx.UpdatePurchase(ctx, *purchase); err != nil {
			return err
		}
		return tx.InsertPurchaseReturn(ctx, ret)
	})
	if err != nil {
		return domain.PurchaseReturn{}, err
	}

	s.logAudit(ctx, sess, "purchase_return", "purchase", ret.PurchaseID, fmt.Sprintf("return=%s,total=%s", ret.ID, ret.Total.StringFixed(2)))
	return ret, nil
}

func (s *Service) GetPurchase(ctx context.Context, sess domain.Session, purchaseID string) (*domain.Purchase, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	purchase, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.StoreID != sess.StoreID {
		return nil, store.NotFound("purchase", purchaseID)
	}
	return purchase, nil
}
