package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

// CostSource is one step of the return-cost fallback chain.
type CostSource string

const (
	CostExplicit  CostSource = "explicit"
	CostAverage   CostSource = "average"
	CostSalePrice CostSource = "sale_price"
)

var DefaultCostPolicy = []CostSource{CostExplicit, CostAverage, CostSalePrice}

// ParseCostPolicy reads a comma separated list such as
// "explicit,average,sale_price". Empty input yields DefaultCostPolicy.
func ParseCostPolicy(raw string) ([]CostSource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCostPolicy, nil
	}
	var policy []CostSource
	seen := make(map[CostSource]bool)
	for _, part := range strings.Split(raw, ",") {
		source := CostSource(strings.ToLower(strings.TrimSpace(part)))
		switch source {
		case CostExplicit, CostAverage, CostSalePrice:
		default:
			return nil, fmt.Errorf("unknown return cost source %q", part)
		}
		if !seen[source] {
			seen[source] = true
			policy = append(policy, source)
		}
	}
	return policy, nil
}

// returnUnitCost walks the policy and takes the first usable cost.
func returnUnitCost(policy []CostSource, explicit *decimal.Decimal, pos domain.InventoryPosition, line domain.SaleLine) decimal.Decimal {
	for _, source := range policy {
		switch source {
		case CostExplicit:
			if explicit != nil {
				return ledger.Cost(*explicit)
			}
		case CostAverage:
			if pos.AverageCost.IsPositive() {
				return pos.AverageCost
			}
		case CostSalePrice:
			return line.UnitPrice
		}
	}
	return decimal.Zero
}

// prorate returns the share of lineAmount for qty units. Each unit is worth
// the per-unit amount rounded to cents; the last return of a line takes the
// exact remainder so the refunds add up to what was charged.
func prorate(lineAmount decimal.Decimal, prior decimal.Decimal, lineQty decimal.Decimal, qty decimal.Decimal, final bool) decimal.Decimal {
	remainder := lineAmount.Sub(prior)
	if final {
		return remainder
	}
	share := ledger.Money(ledger.Money(lineAmount.Div(lineQty)).Mul(qty))
	return decimal.Min(share, remainder)
}

func (s *Service) CreateSaleReturn(ctx context.Context, sess domain.Session, req domain.SaleReturnRequest) (ret domain.SaleReturn, err error) {
	defer func() { s.observe("create_sale_return", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return domain.SaleReturn{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.SaleReturn{}, err
	}
	seen := make(map[string]bool, len(req.Lines))
	for _, line := range req.Lines {
		if err := requirePositive("quantity", line.Quantity); err != nil {
			return domain.SaleReturn{}, err
		}
		if line.UnitCost != nil {
			if err := requireNonNegative("unit_cost", *line.UnitCost); err != nil {
				return domain.SaleReturn{}, err
			}
		}
		if seen[line.SaleLineID] {
			return domain.SaleReturn{}, store.Validation(store.CodeInvalidInput, "sale line listed twice",
				map[string]any{"sale_line_id": line.SaleLineID})
		}
		seen[line.SaleLineID] = true
	}

	original, err := s.GetSale(ctx, sess, req.SaleID)
	if err != nil {
		return domain.SaleReturn{}, err
	}
	refundCash := req.RefundCash && !original.IsCredit()
	shiftID := ""
	if refundCash {
		shiftID, err = s.resolveShiftID(ctx, original.StoreID, original.RegisterID, "")
		if err != nil {
			return domain.SaleReturn{}, err
		}
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		ret, err = s.createSaleReturnTx(ctx, tx, sess, req, original.RegisterID, shiftID, refundCash)
		return err
	})
	if err != nil {
		return domain.SaleReturn{}, err
	}

	s.logAudit(ctx, sess, "sale_return", "sale", ret.SaleID,
		fmt.Sprintf("return=%s,total=%s,cash=%s,credit=%s", ret.ID, ret.Total.StringFixed(2), ret.CashRefunded.StringFixed(2), ret.CreditIssued.StringFixed(2)))
	return ret, nil
}

func (s *Service) createSaleReturnTx(ctx context.Context, tx store.Tx, sess domain.Session, req domain.SaleReturnRequest, registerID string, shiftID string, refundCash bool) (domain.SaleReturn, error) {
	var shift *domain.CashShift
	if refundCash {
		var err error
		if shift, err = lockActiveShift(ctx, tx, sess.StoreID, registerID, shiftID); err != nil {
			return domain.SaleReturn{}, err
		}
	}

	sale, err := tx.LockSale(ctx, req.SaleID)
	if err != nil {
		return domain.SaleReturn{}, err
	}
	if sale.Status == domain.SaleStatusVoid {
		return domain.SaleReturn{}, store.Conflict(store.CodeInvalidState, "a void sale cannot be returned", map[string]any{"sale_id": sale.ID})
	}
	returned, err := tx.ReturnedBySaleLine(ctx, sale.ID)
	if err != nil {
		return domain.SaleReturn{}, err
	}
	lines := make(map[string]domain.SaleLine, len(sale.Lines))
	for _, line := range sale.Lines {
		lines[line.ID] = line
	}

	now := time.Now().UTC()
	ret := domain.SaleReturn{
		ID:           xid.New("ret"),
		SaleID:       sale.ID,
		StoreID:      sale.StoreID,
		Subtotal:     decimal.Zero,
		Discount:     decimal.Zero,
		Tax:          decimal.Zero,
		Total:        decimal.Zero,
		CashRefunded: decimal.Zero,
		CreditIssued: decimal.Zero,
		Reason:       strings.TrimSpace(req.Reason),
		CreatedBy:    sess.UserID,
		CreatedAt:    now,
	}
	if shift != nil {
		ret.ShiftID = shift.ID
	}

	var stockIDs []string
	explicit := make(map[string]*decimal.Decimal, len(req.Lines))
	for _, lineReq := range req.Lines {
		line, ok := lines[lineReq.SaleLineID]
		if !ok {
			return domain.SaleReturn{}, store.NotFound("sale line", lineReq.SaleLineID)
		}
		prior := returned[line.ID]
		remaining := line.Quantity.Sub(prior.Quantity)
		if lineReq.Quantity.GreaterThan(remaining) {
			return domain.SaleReturn{}, store.Conflict(store.CodeOverReturn, "return exceeds the quantity left on the sale line", map[string]any{
				"sale_line_id": line.ID,
				"requested":    lineReq.Quantity.String(),
				"remaining":    remaining.String(),
			})
		}
		final := lineReq.Quantity.Equal(remaining)

		retLine := domain.SaleReturnLine{
			ID:         xid.New("rl"),
			ReturnID:   ret.ID,
			SaleLineID: line.ID,
			ItemID:     line.ItemID,
			Quantity:   lineReq.Quantity,
			UnitCost:   decimal.Zero,
			Subtotal:   prorate(ledger.Money(line.Base()), prior.Subtotal, line.Quantity, lineReq.Quantity, final),
			Discount:   prorate(line.DiscountAmount, prior.Discount, line.Quantity, lineReq.Quantity, final),
			Tax:        prorate(line.TaxAmount, prior.Tax, line.Quantity, lineReq.Quantity, final),
			Total:      prorate(line.LineTotal, prior.Total, line.Quantity, lineReq.Quantity, final),
		}
		ret.Lines = append(ret.Lines, retLine)
		ret.Subtotal = ret.Subtotal.Add(retLine.Subtotal)
		ret.Discount = ret.Discount.Add(retLine.Discount)
		ret.Tax = ret.Tax.Add(retLine.Tax)
		ret.Total = ret.Total.Add(retLine.Total)

		explicit[line.ID] = lineReq.UnitCost
		if line.StockTracked {
			stockIDs = append(stockIDs, line.ItemID)
		}
	}

	var customer *domain.Customer
	if sale.IsCredit() && sale.CustomerID != "" {
		if customer, err = tx.LockCustomer(ctx, sale.CustomerID); err != nil {
			return domain.SaleReturn{}, err
		}
	}

	if len(stockIDs) > 0 {
		positions, err := tx.LockInventory(ctx, sale.StoreID, stockIDs)
		if err != nil {
			return domain.SaleReturn{}, err
		}
		for i := range ret.Lines {
			retLine := &ret.Lines[i]
			line := lines[retLine.SaleLineID]
			if !line.StockTracked {
				continue
			}
			pos := positions[line.ItemID]
			retLine.UnitCost = returnUnitCost(s.costPolicy, explicit[line.ID], pos, line)
			if err := ledger.Restore(ctx, tx, &pos, ledger.StockChange{
				Quantity: retLine.Quantity,
				UnitCost: retLine.UnitCost,
				Kind:     domain.MovementSaleReturnIn,
				Source:   domain.SourceRef{Kind: domain.SourceSaleReturn, ID: ret.ID},
				Reason:   ret.Reason,
				Actor:    sess.UserID,
				At:       now,
			}); err != nil {
				return domain.SaleReturn{}, err
			}
			positions[line.ItemID] = pos
		}
	}

	switch {
	case customer != nil:
		balance := decimal.Max(customer.Balance.Sub(ret.Total), decimal.Zero)
		if err := tx.UpdateCustomerBalance(ctx, customer.ID, balance); err != nil {
			return domain.SaleReturn{}, err
		}
		ret.CreditIssued = ret.Total
	case shift != nil && ret.Total.IsPositive():
		if _, err := ledger.RecordMovement(ctx, tx, *shift, domain.CashMovement{
			Direction: domain.DirectionOut,
			Currency:  sale.Currency,
			Amount:    ret.Total,
			Reason:    "sale return",
			Reference: sale.Number,
			Source:    domain.SourceRef{Kind: domain.SourceSaleReturn, ID: ret.ID},
			CreatedBy: sess.UserID,
			CreatedAt: now,
		}); err != nil {
			return domain.SaleReturn{}, err
		}
		ret.CashRefunded = ret.Total
	}

	if err := tx.InsertSaleReturn(ctx, ret); err != nil {
		return domain.SaleReturn{}, err
	}

	fullyReturned := true
	for _, line := range sale.Lines {
		qty := returned[line.ID].Quantity
		for _, retLine := range ret.Lines {
			if retLine.SaleLineID == line.ID {
				qty = qty.Add(retLine.Quantity)
			}
		}
		if qty.LessThan(line.Quantity) {
			fullyReturned = false
			break
		}
	}
	if fullyReturned && sale.Status != domain.SaleStatusRefunded {
		if err := tx.UpdateSaleStatus(ctx, sale.ID, domain.SaleStatusRefunded); err != nil {
			return domain.SaleReturn{}, err
		}
	}
	return ret, nil
}
