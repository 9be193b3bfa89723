package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

const saleNumberPad = 8

type billing struct {
	Name           string
	DocumentType   string
	DocumentNumber string
	Taxpayer       bool
}

// resolveBilling starts from the customer profile and lets non-empty request
// fields override it. NONE is an anonymous consumer: no number, no taxpayer.
func resolveBilling(req domain.SaleRequest, customer *domain.Customer) billing {
	b := billing{DocumentType: domain.DocumentTypeNone}
	if customer != nil {
		b.Name = customer.Name
		b.DocumentType = customer.DocumentType
		b.DocumentNumber = customer.DocumentNumber
		b.Taxpayer = customer.IsTaxpayer
	}
	if name := strings.TrimSpace(req.BillingName); name != "" {
		b.Name = name
	}
	if docType := strings.ToUpper(strings.TrimSpace(req.DocumentType)); docType != "" {
		b.DocumentType = docType
	}
	if number := strings.TrimSpace(req.DocumentNumber); number != "" {
		b.DocumentNumber = number
	}
	if req.IsTaxpayer != nil {
		b.Taxpayer = *req.IsTaxpayer
	}
	if b.DocumentType == "" {
		b.DocumentType = domain.DocumentTypeNone
	}
	if b.DocumentType == domain.DocumentTypeNone {
		b.DocumentNumber = ""
		b.Taxpayer = false
	}
	return b
}

// fiscalTypeFor returns the requested fiscal type or the one the payer
// qualifies for. Only a taxpayer may receive a credit-fiscal receipt.
func fiscalTypeFor(requested string, b billing) (string, error) {
	fiscalType := strings.ToUpper(strings.TrimSpace(requested))
	if fiscalType == "" {
		fiscalType = domain.FiscalTypeFinalConsumer
		if b.Taxpayer {
			fiscalType = domain.FiscalTypeCreditFiscal
		}
	}
	if fiscalType == domain.FiscalTypeCreditFiscal && !b.Taxpayer {
		return "", store.Policy(store.CodeFiscalPayerMismatch, "credit-fiscal receipts require a taxpayer payer",
			map[string]any{"fiscal_type": fiscalType, "document_type": b.DocumentType})
	}
	return fiscalType, nil
}

type salePlan struct {
	sale      domain.Sale
	credit    bool
	movements []domain.CashMovement
	stockIDs  []string
}

// planSale does every check that needs no lock: catalog lookup, pricing,
// billing identity, fiscal type and payment coverage.
func (s *Service) planSale(ctx context.Context, sess domain.Session, req domain.SaleRequest) (salePlan, error) {
	currency := normalizeCurrency(req.Currency, sess.BaseCurrency)

	ids := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		ids = append(ids, strings.TrimSpace(line.ItemID))
	}
	items, err := s.lookupItems(ctx, ids)
	if err != nil {
		return salePlan{}, err
	}

	var customer *domain.Customer
	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		if customer, err = s.repo.GetCustomer(ctx, customerID); err != nil {
			return salePlan{}, err
		}
	}
	bill := resolveBilling(req, customer)
	fiscalType, err := fiscalTypeFor(req.FiscalType, bill)
	if err != nil {
		return salePlan{}, err
	}

	saleID := xid.New("sale")
	plan := salePlan{}
	lines := make([]domain.SaleLine, 0, len(req.Lines))
	stock := make(map[string]struct{})
	for _, lineReq := range req.Lines {
		line, err := priceLine(items[strings.TrimSpace(lineReq.ItemID)], lineReq)
		if err != nil {
			return salePlan{}, err
		}
		line.SaleID = saleID
		lines = append(lines, line)
		if line.StockTracked {
			if _, seen := stock[line.ItemID]; !seen {
				stock[line.ItemID] = struct{}{}
				plan.stockIDs = append(plan.stockIDs, line.ItemID)
			}
		}
	}
	totals := sumLines(lines)

	plan.sale = domain.Sale{
		ID:             saleID,
		StoreID:        sess.StoreID,
		RegisterID:     sess.RegisterID,
		Currency:       currency,
		Status:         domain.SaleStatusCompleted,
		Subtotal:       totals.Subtotal,
		DiscountTotal:  totals.Discount,
		TaxTotal:       totals.Tax,
		Total:          totals.Total,
		BillingName:    bill.Name,
		DocumentType:   bill.DocumentType,
		DocumentNumber: bill.DocumentNumber,
		IsTaxpayer:     bill.Taxpayer,
		FiscalType:     fiscalType,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      sess.UserID,
		CreatedAt:      time.Now().UTC(),
		Lines:          lines,
		Customer:       customer,
	}
	if customer != nil {
		plan.sale.CustomerID = customer.ID
	}

	credits := 0
	for _, p := range req.Payments {
		if p.Method == domain.PaymentMethodCredit {
			credits++
		}
	}
	if credits > 0 && len(req.Payments) != 1 {
		return salePlan{}, store.Validation(store.CodeInvalidInput, "a credit payment cannot be combined with other payments", nil)
	}

	if credits == 1 {
		if customer == nil {
			return salePlan{}, store.Validation(store.CodeInvalidInput, "a credit sale requires a customer", nil)
		}
		if !customer.CreditEnabled {
			return salePlan{}, store.Policy(store.CodeCreditNotEnabled, "customer is not enabled for credit",
				map[string]any{"customer_id": customer.ID})
		}
		plan.credit = true
		plan.sale.PaidTotal = decimal.Zero
		plan.sale.DueTotal = totals.Total
		plan.sale.Payments = []domain.SalePayment{{
			ID:           xid.New("pay"),
			SaleID:       saleID,
			Method:       domain.PaymentMethodCredit,
			Amount:       totals.Total,
			Currency:     currency,
			FXRate:       decimal.NewFromInt(1),
			AmountInSale: totals.Total,
			Tendered:     decimal.Zero,
			Change:       decimal.Zero,
			Reference:    req.Payments[0].Reference,
		}}
		return plan, nil
	}

	covered := decimal.Zero
	for _, p := range req.Payments {
		settled, err := settlePayment(p, currency)
		if err != nil {
			return salePlan{}, err
		}
		settled.payment.SaleID = saleID
		plan.sale.Payments = append(plan.sale.Payments, settled.payment)
		plan.movements = append(plan.movements, settled.movements...)
		covered = covered.Add(settled.payment.AmountInSale)
	}
	if covered.LessThan(totals.Total.Sub(ledger.Tolerance)) {
		return salePlan{}, store.Conflict(store.CodePaymentShortfall, "payments do not cover the sale total",
			map[string]any{"total": totals.Total.String(), "covered": covered.String(), "missing": totals.Total.Sub(covered).String()})
	}
	if len(plan.movements) > 0 && covered.GreaterThan(totals.Total.Add(ledger.Tolerance)) {
		return salePlan{}, store.Validation(store.CodeInvalidInput, "payments exceed the sale total; give the extra cash as change",
			map[string]any{"total": totals.Total.String(), "covered": covered.String(), "excess": covered.Sub(totals.Total).String()})
	}
	plan.sale.PaidTotal = totals.Total
	plan.sale.DueTotal = decimal.Zero
	return plan, nil
}

// CreateSale records a sale in one unit of work: shift, customer credit,
// stock, sale number and fiscal number. A repeated idempotency key returns
// the sale stored the first time.
func (s *Service) CreateSale(ctx context.Context, sess domain.Session, req domain.SaleRequest) (sale domain.Sale, err error) {
	defer func() { s.observe("create_sale", err) }()

	sess, err = s.registerSession(sess)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if existing, err := s.findIdempotentSale(ctx, sess.StoreID, req.IdempotencyKey); err != nil || existing != nil {
		if existing != nil {
			return *existing, nil
		}
		return domain.Sale{}, err
	}

	lockKey := ""
	if req.IdempotencyKey != "" {
		lockKey = "sale:" + sess.StoreID + ":" + req.IdempotencyKey
	}
	replayed := false
	err = s.withRequestLock(ctx, lockKey, func() error {
		existing, err := s.findIdempotentSale(ctx, sess.StoreID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			sale, replayed = *existing, true
			return nil
		}
		sale, err = s.createSale(ctx, sess, req)
		return err
	})
	if err != nil || replayed {
		return sale, err
	}

	s.logAudit(ctx, sess, "sale_create", "sale", sale.ID,
		fmt.Sprintf("number=%s,total=%s,fiscal=%s,lines=%d", sale.Number, sale.Total.StringFixed(2), sale.FiscalNumber, len(sale.Lines)))
	return sale, nil
}

func (s *Service) findIdempotentSale(ctx context.Context, storeID string, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, nil
	}
	existing, err := s.repo.FindSaleByIdempotency(ctx, storeID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

func (s *Service) createSale(ctx context.Context, sess domain.Session, req domain.SaleRequest) (domain.Sale, error) {
	plan, err := s.planSale(ctx, sess, req)
	if err != nil {
		return domain.Sale{}, err
	}
	shiftID, err := s.resolveShiftID(ctx, sess.StoreID, sess.RegisterID, sess.ShiftID)
	if err != nil {
		return domain.Sale{}, err
	}

	var lowStock []domain.InventoryPosition
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		lowStock = nil
		return s.createSaleTx(ctx, tx, sess, shiftID, &plan, &lowStock)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	for _, pos := range lowStock {
		s.metrics.LowStock(pos.StoreID)
		s.logger.WithField("item_id", pos.ItemID).WithField("quantity", pos.Quantity.String()).Info("item at or below reorder point")
	}
	return plan.sale, nil
}

func (s *Service) createSaleTx(ctx context.Context, tx store.Tx, sess domain.Session, shiftID string, plan *salePlan, lowStock *[]domain.InventoryPosition) error {
	sale := &plan.sale

	shift, err := lockActiveShift(ctx, tx, sess.StoreID, sess.RegisterID, shiftID)
	if err != nil {
		return err
	}
	sale.ShiftID = shift.ID

	var customer *domain.Customer
	newBalance := decimal.Zero
	if plan.credit {
		customer, err = tx.LockCustomer(ctx, sale.CustomerID)
		if err != nil {
			return err
		}
		if !customer.CreditEnabled {
			return store.Policy(store.CodeCreditNotEnabled, "customer is not enabled for credit", map[string]any{"customer_id": customer.ID})
		}
		newBalance = customer.Balance.Add(sale.Total)
		if newBalance.GreaterThan(customer.CreditLimit) {
			return store.Conflict(store.CodeCreditLimitExceeded, "sale exceeds the customer's credit limit", map[string]any{
				"customer_id": customer.ID,
				"balance":     customer.Balance.String(),
				"limit":       customer.CreditLimit.String(),
				"total":       sale.Total.String(),
				"available":   decimal.Max(customer.CreditLimit.Sub(customer.Balance), decimal.Zero).String(),
			})
		}
	}

	if len(plan.stockIDs) > 0 {
		positions, err := tx.LockInventory(ctx, sale.StoreID, plan.stockIDs)
		if err != nil {
			return err
		}
		for i := range sale.Lines {
			line := &sale.Lines[i]
			if !line.StockTracked {
				continue
			}
			pos := positions[line.ItemID]
			line.UnitCost = pos.AverageCost
			if _, err := ledger.Decrease(ctx, tx, &pos, ledger.StockChange{
				Quantity: line.Quantity,
				UnitCost: pos.AverageCost,
				Kind:     domain.MovementSaleOut,
				Source:   domain.SourceRef{Kind: domain.SourceSale, ID: sale.ID},
				Actor:    sess.UserID,
				At:       sale.CreatedAt,
			}); err != nil {
				return err
			}
			positions[line.ItemID] = pos
		}
		for _, id := range plan.stockIDs {
			pos := positions[id]
			if pos.ReorderPoint.IsPositive() && pos.Quantity.LessThanOrEqual(pos.ReorderPoint) {
				*lowStock = append(*lowStock, pos)
			}
		}
	}

	counter, err := tx.NextCounter(ctx, sale.StoreID, "sale")
	if err != nil {
		return err
	}
	sale.Number = ledger.FormatRaw("S-", counter, saleNumberPad)

	if err := s.issueFiscalNumber(ctx, tx, sale); err != nil {
		return err
	}

	if err := tx.InsertSale(ctx, *sale); err != nil {
		return err
	}

	if plan.credit {
		if err := tx.UpdateCustomerBalance(ctx, customer.ID, newBalance); err != nil {
			return err
		}
		customer.Balance = newBalance
		sale.Customer = customer
	}

	for _, m := range plan.movements {
		m.Reason = "sale"
		m.Reference = sale.Number
		m.Source = domain.SourceRef{Kind: domain.SourceSale, ID: sale.ID}
		m.CreatedBy = sess.UserID
		m.CreatedAt = sale.CreatedAt
		if _, err := ledger.RecordMovement(ctx, tx, *shift, m); err != nil {
			return err
		}
	}
	return nil
}

// issueFiscalNumber allocates inside a savepoint. A failure only aborts the
// sale for a taxpayer; other sales complete without a fiscal number.
func (s *Service) issueFiscalNumber(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	var number domain.FiscalNumber
	err := tx.Nested(ctx, func(ntx store.Tx) error {
		var err error
		number, err = ledger.Allocate(ctx, ntx, sale.StoreID, sale.FiscalType)
		return err
	})
	s.metrics.Allocation(sale.FiscalType, allocationResult(err))
	if err == nil {
		sale.FiscalNumber = number.Formatted
		return nil
	}
	if sale.IsTaxpayer {
		return err
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"sale_id":     sale.ID,
		"fiscal_type": sale.FiscalType,
	}).Warn("fiscal number not issued, sale continues without it")
	return nil
}

func (s *Service) GetSale(ctx context.Context, sess domain.Session, saleID string) (*domain.Sale, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.StoreID != sess.StoreID {
		return nil, store.NotFound("sale", saleID)
	}
	return sale, nil
}
