package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

func TestPriceLineDiscountAmountWins(t *testing.T) {
	item := domain.Item{ID: "A", Name: "A", Price: dec("20"), TaxRate: dec("18"), StockTracked: true, Active: true}

	line, err := priceLine(item, domain.SaleLineRequest{
		ItemID:          "A",
		Quantity:        dec("2"),
		DiscountPercent: decPtr("50"),
		DiscountAmount:  decPtr("4"),
	})
	require.NoError(t, err)
	assert.True(t, line.DiscountAmount.Equal(dec("4")))
	assert.True(t, line.DiscountPercent.Equal(dec("10")))
	assert.Equal(t, "6.48", line.TaxAmount.StringFixed(2))
	assert.Equal(t, "42.48", line.LineTotal.StringFixed(2))
}

func TestPriceLineTaxInclusive(t *testing.T) {
	item := domain.Item{ID: "B", Price: dec("118"), TaxRate: dec("18"), TaxInclusive: true, Active: true}

	line, err := priceLine(item, domain.SaleLineRequest{ItemID: "B", Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "18.00", line.TaxAmount.StringFixed(2))
	assert.Equal(t, "118.00", line.LineTotal.StringFixed(2))
}

func TestPriceLineRejectsBadInput(t *testing.T) {
	item := domain.Item{ID: "C", Price: dec("10"), TaxRate: decimal.Zero, Active: true}

	_, err := priceLine(item, domain.SaleLineRequest{ItemID: "C", Quantity: dec("0")})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = priceLine(item, domain.SaleLineRequest{ItemID: "C", Quantity: dec("1"), DiscountAmount: decPtr("11")})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = priceLine(item, domain.SaleLineRequest{ItemID: "C", Quantity: dec("1"), DiscountPercent: decPtr("101")})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestSettleCashSameCurrencyChange(t *testing.T) {
	settled, err := settlePayment(domain.PaymentRequest{
		Method:   domain.PaymentMethodCash,
		Amount:   dec("75.50"),
		Tendered: decPtr("100"),
	}, "DOP")
	require.NoError(t, err)
	assert.Equal(t, "24.50", settled.payment.Change.StringFixed(2))
	require.Len(t, settled.movements, 1)
	assert.Equal(t, domain.DirectionIn, settled.movements[0].Direction)
	assert.True(t, settled.movements[0].Amount.Equal(dec("75.50")))
}

func TestSettleForeignPaymentNeedsRate(t *testing.T) {
	_, err := settlePayment(domain.PaymentRequest{Method: domain.PaymentMethodCard, Amount: dec("5"), Currency: "USD"}, "DOP")
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = settlePayment(domain.PaymentRequest{
		Method: domain.PaymentMethodCash, Amount: dec("5"), Currency: "USD", FXRate: decPtr("60"),
		Tendered: decPtr("10"), ChangeCurrency: "DOP",
	}, "DOP")
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestResolveBilling(t *testing.T) {
	customer := &domain.Customer{ID: "C1", Name: "Shop", DocumentType: domain.DocumentTypeRNC, DocumentNumber: "1", IsTaxpayer: true}

	b := resolveBilling(domain.SaleRequest{BillingName: "Other name"}, customer)
	assert.Equal(t, "Other name", b.Name)
	assert.True(t, b.Taxpayer)

	no := false
	b = resolveBilling(domain.SaleRequest{IsTaxpayer: &no}, customer)
	assert.False(t, b.Taxpayer)

	b = resolveBilling(domain.SaleRequest{DocumentType: "none", DocumentNumber: "99"}, customer)
	assert.Equal(t, domain.DocumentTypeNone, b.DocumentType)
	assert.Empty(t, b.DocumentNumber)
	assert.False(t, b.Taxpayer)
}

func TestCostPolicy(t *testing.T) {
	policy, err := ParseCostPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCostPolicy, policy)

	policy, err = ParseCostPolicy("average, sale_price, average")
	require.NoError(t, err)
	assert.Equal(t, []CostSource{CostAverage, CostSalePrice}, policy)

	_, err = ParseCostPolicy("fifo")
	require.Error(t, err)

	line := domain.SaleLine{UnitPrice: dec("12")}
	withAvg := domain.InventoryPosition{AverageCost: dec("7")}
	noAvg := domain.InventoryPosition{AverageCost: decimal.Zero}

	assert.True(t, returnUnitCost(DefaultCostPolicy, decPtr("3"), withAvg, line).Equal(dec("3")))
	assert.True(t, returnUnitCost(DefaultCostPolicy, nil, withAvg, line).Equal(dec("7")))
	assert.True(t, returnUnitCost(DefaultCostPolicy, nil, noAvg, line).Equal(dec("12")))
	assert.True(t, returnUnitCost([]CostSource{CostAverage}, nil, noAvg, line).IsZero())
}

func TestProrate(t *testing.T) {
	total := dec("29.99")
	qty := dec("3")
	assert.True(t, prorate(total, decimal.Zero, qty, dec("1"), false).Equal(dec("10")))
	assert.True(t, prorate(total, dec("20"), qty, dec("1"), true).Equal(dec("9.99")))
	assert.True(t, prorate(total, dec("25"), qty, dec("1"), false).Equal(dec("4.99")))
}
