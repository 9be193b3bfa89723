package service

import (
	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

type saleTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// priceLine computes one sale line. An explicit discount amount wins over a
// percent, and the percent is then derived from it for display. Tax applies to
// the discounted base; for tax-inclusive items the line total is the
// discounted base and the tax is carved out of it.
func priceLine(item domain.Item, req domain.SaleLineRequest) (domain.SaleLine, error) {
	fields := map[string]any{"item_id": item.ID}
	if !req.Quantity.IsPositive() {
		fields["quantity"] = req.Quantity.String()
		return domain.SaleLine{}, store.Validation(store.CodeInvalidInput, "quantity must be positive", fields)
	}
	unitPrice := item.Price
	if req.UnitPrice != nil {
		unitPrice = *req.UnitPrice
	}
	if unitPrice.IsNegative() {
		fields["unit_price"] = unitPrice.String()
		return domain.SaleLine{}, store.Validation(store.CodeInvalidInput, "unit price must not be negative", fields)
	}

	base := ledger.Money(req.Quantity.Mul(unitPrice))
	discountAmount := decimal.Zero
	discountPercent := decimal.Zero
	switch {
	case req.DiscountAmount != nil:
		discountAmount = ledger.Money(*req.DiscountAmount)
		if discountAmount.IsNegative() || discountAmount.GreaterThan(base) {
			fields["discount_amount"] = discountAmount.String()
			return domain.SaleLine{}, store.Validation(store.CodeInvalidInput, "discount amount must be between zero and the line base", fields)
		}
		if base.IsPositive() {
			discountPercent = discountAmount.Mul(hundred).Div(base).Round(4)
		}
	case req.DiscountPercent != nil:
		discountPercent = *req.DiscountPercent
		if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
			fields["discount_percent"] = discountPercent.String()
			return domain.SaleLine{}, store.Validation(store.CodeInvalidInput, "discount percent must be between 0 and 100", fields)
		}
		discountAmount = ledger.Percent(base, discountPercent)
	}

	net := base.Sub(discountAmount)
	var tax, total decimal.Decimal
	if item.TaxInclusive {
		tax = ledger.Money(net.Mul(item.TaxRate).Div(hundred.Add(item.TaxRate)))
		total = net
	} else {
		tax = ledger.Percent(net, item.TaxRate)
		total = net.Add(tax)
	}

	return domain.SaleLine{
		ID:              xid.New("sl"),
		ItemID:          item.ID,
		Description:     item.Name,
		Quantity:        req.Quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: discountPercent,
		DiscountAmount:  discountAmount,
		TaxRate:         item.TaxRate,
		TaxAmount:       tax,
		LineTotal:       total,
		UnitCost:        decimal.Zero,
		StockTracked:    item.StockTracked,
	}, nil
}

// sumLines totals priced lines. The sale total is the sum of line totals so
// the two can never drift apart.
func sumLines(lines []domain.SaleLine) saleTotals {
	totals := saleTotals{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, line := range lines {
		totals.Subtotal = totals.Subtotal.Add(ledger.Money(line.Base()))
		totals.Discount = totals.Discount.Add(line.DiscountAmount)
		totals.Tax = totals.Tax.Add(line.TaxAmount)
		totals.Total = totals.Total.Add(line.LineTotal)
	}
	return totals
}

type settledPayment struct {
	payment   domain.SalePayment
	movements []domain.CashMovement
}

// settlePayment converts one tender into the sale currency. Cash tenders also
// yield the drawer movements: a single net "in" when change is given in the
// tender's currency, otherwise the full tender in and the change out in its
// own currency.
func settlePayment(req domain.PaymentRequest, saleCurrency string) (settledPayment, error) {
	if err := requirePositive("amount", req.Amount); err != nil {
		return settledPayment{}, err
	}
	currency := normalizeCurrency(req.Currency, saleCurrency)
	fxRate := decimal.NewFromInt(1)
	if req.FXRate != nil {
		fxRate = *req.FXRate
	}
	if currency != saleCurrency && req.FXRate == nil {
		return settledPayment{}, store.Validation(store.CodeInvalidInput, "fx rate is required for a foreign currency payment",
			map[string]any{"currency": currency})
	}
	if err := requirePositive("fx_rate", fxRate); err != nil {
		return settledPayment{}, err
	}

	payment := domain.SalePayment{
		ID:           xid.New("pay"),
		Method:       req.Method,
		Amount:       ledger.Money(req.Amount),
		Currency:     currency,
		FXRate:       fxRate,
		AmountInSale: ledger.Money(req.Amount.Mul(fxRate)),
		Tendered:     ledger.Money(req.Amount),
		Change:       decimal.Zero,
		Reference:    req.Reference,
	}
	out := settledPayment{payment: payment}
	if req.Method != domain.PaymentMethodCash {
		return out, nil
	}

	if req.Tendered != nil {
		payment.Tendered = ledger.Money(*req.Tendered)
	}
	if payment.Tendered.LessThan(payment.Amount) {
		return settledPayment{}, store.Validation(store.CodeInvalidInput, "tendered cash is less than the payment amount",
			map[string]any{"amount": payment.Amount.String(), "tendered": payment.Tendered.String()})
	}
	change := payment.Tendered.Sub(payment.Amount)
	payment.ChangeCurrency = normalizeCurrency(req.ChangeCurrency, currency)
	payment.Change = change

	if payment.ChangeCurrency == currency || !change.IsPositive() {
		out.movements = append(out.movements, domain.CashMovement{
			Direction: domain.DirectionIn,
			Currency:  currency,
			Amount:    payment.Amount,
		})
		out.payment = payment
		return out, nil
	}

	if req.ChangeFXRate == nil || !req.ChangeFXRate.IsPositive() {
		return settledPayment{}, store.Validation(store.CodeInvalidInput, "change fx rate is required when change is given in another currency",
			map[string]any{"currency": currency, "change_currency": payment.ChangeCurrency})
	}
	payment.Change = ledger.Money(change.Mul(*req.ChangeFXRate))
	out.movements = append(out.movements, domain.CashMovement{Direction: domain.DirectionIn, Currency: currency, Amount: payment.Tendered})
	if payment.Change.IsPositive() {
		out.movements = append(out.movements, domain.CashMovement{Direction: domain.DirectionOut, Currency: payment.ChangeCurrency, Amount: payment.Change})
	}
	out.payment = payment
	return out, nil
}
