package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/logging"
	"poscore/backend/internal/metrics"
	"poscore/backend/internal/store"
	"poscore/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc, err := New(repo, Options{
		DefaultStoreID: memory.SeedStoreID,
		BaseCurrency:   "DOP",
		Logger:         logging.Discard(),
		Metrics:        metrics.New(),
	})
	require.NoError(t, err)
	return svc, repo
}

func cashier(register string) domain.Session {
	return domain.Session{
		UserID:       "cashier",
		Role:         "cashier",
		StoreID:      memory.SeedStoreID,
		RegisterID:   register,
		BaseCurrency: "DOP",
	}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func openShift(t *testing.T, svc *Service, sess domain.Session, counts ...domain.CurrencyCount) domain.CashShift {
	t.Helper()
	shift, err := svc.OpenShift(context.Background(), sess, domain.OpenShiftRequest{Counts: counts})
	require.NoError(t, err)
	return shift
}

func cardSale(itemID string, qty string, amount string) domain.SaleRequest {
	return domain.SaleRequest{
		Lines:    []domain.SaleLineRequest{{ItemID: itemID, Quantity: dec(qty)}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentMethodCard, Amount: dec(amount), Reference: "AUTH-1"}},
	}
}

func stockOf(t *testing.T, repo *memory.Store, itemID string) domain.InventoryPosition {
	t.Helper()
	pos, err := repo.GetInventory(context.Background(), memory.SeedStoreID, itemID)
	require.NoError(t, err)
	return *pos
}

func requireCode(t *testing.T, err error, kind error, code string) *store.Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	var coreErr *store.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, code, coreErr.Code)
	return coreErr
}

func TestCreateSaleTotalsInvariant(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	shift := openShift(t, svc, sess)

	sale, err := svc.CreateSale(ctx, sess, domain.SaleRequest{
		Lines: []domain.SaleLineRequest{
			{ItemID: "ITEM-ARROZ", Quantity: dec("3")},
			{ItemID: "ITEM-CAFE", Quantity: dec("2"), DiscountPercent: decPtr("10")},
			{ItemID: "ITEM-PAN", Quantity: dec("5"), DiscountAmount: decPtr("3")},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodCard, Amount: dec("300")},
			{Method: domain.PaymentMethodCash, Amount: dec("247.10"), Tendered: decPtr("300")},
		},
	})
	require.NoError(t, err)

	lineSum := decimal.Zero
	for _, line := range sale.Lines {
		lineSum = lineSum.Add(line.LineTotal)
	}
	assert.True(t, lineSum.Equal(sale.Total), "lines %s total %s", lineSum, sale.Total)
	assert.True(t, sale.PaidTotal.Add(sale.DueTotal).Equal(sale.Total))
	assert.Equal(t, "547.10", sale.Total.StringFixed(2))
	assert.Equal(t, "76.29", sale.TaxTotal.StringFixed(2))
	assert.Equal(t, "33.00", sale.DiscountTotal.StringFixed(2))
	assert.True(t, sale.Lines[2].DiscountPercent.Equal(dec("6")))

	assert.Equal(t, "S-00000001", sale.Number)
	assert.Equal(t, domain.FiscalTypeFinalConsumer, sale.FiscalType)
	assert.Equal(t, "B0200000001", sale.FiscalNumber)
	assert.Equal(t, shift.ID, sale.ShiftID)
	assert.Equal(t, domain.DocumentTypeNone, sale.DocumentType)

	assert.True(t, stockOf(t, repo, "ITEM-ARROZ").Quantity.Equal(dec("117")))
	assert.True(t, sale.Lines[0].UnitCost.Equal(dec("48.50")))

	movements, err := repo.ListCashMovements(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.DirectionIn, movements[0].Direction)
	assert.Equal(t, "247.10", movements[0].Amount.StringFixed(2))
	assert.Equal(t, domain.SourceRef{Kind: domain.SourceSale, ID: sale.ID}, movements[0].Source)
	assert.Equal(t, "52.90", sale.Payments[1].Change.StringFixed(2))

	stored, err := svc.GetSale(ctx, sess, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 3)
	assert.Len(t, stored.Payments, 2)
}

func TestCreateSaleRequiresOpenShift(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateSale(context.Background(), cashier("reg-1"), cardSale("ITEM-PAN", "1", "10"))
	requireCode(t, err, store.ErrConflict, store.CodeNoActiveShift)
	assert.True(t, stockOf(t, repo, "ITEM-PAN").Quantity.Equal(dec("200")))
}

func TestCreateSalePaymentShortfall(t *testing.T) {
	svc, _ := newTestService(t)
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	_, err := svc.CreateSale(context.Background(), sess, cardSale("ITEM-ARROZ", "1", "10"))
	coreErr := requireCode(t, err, store.ErrConflict, store.CodePaymentShortfall)
	assert.Equal(t, "76.7", coreErr.Fields["total"])
}

func TestCashOverpaymentMustBeChange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	shift := openShift(t, svc, sess)

	_, err := svc.CreateSale(ctx, sess, domain.SaleRequest{
		Lines:    []domain.SaleLineRequest{{ItemID: "ITEM-PAN", Quantity: dec("10")}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentMethodCash, Amount: dec("150")}},
	})
	coreErr := requireCode(t, err, store.ErrValidation, store.CodeInvalidInput)
	assert.Equal(t, "50", coreErr.Fields["excess"])

	movements, err := repo.ListCashMovements(ctx, shift.ID)
	require.NoError(t, err)
	assert.Empty(t, movements)

	sale, err := svc.CreateSale(ctx, sess, domain.SaleRequest{
		Lines:    []domain.SaleLineRequest{{ItemID: "ITEM-PAN", Quantity: dec("10")}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentMethodCash, Amount: dec("100"), Tendered: decPtr("150")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "50.00", sale.Payments[0].Change.StringFixed(2))

	movements, err = repo.ListCashMovements(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "100.00", movements[0].Amount.StringFixed(2))
}

func TestSaleRejectsShiftOfAnotherRegister(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	reg1 := cashier("reg-1")
	reg2 := cashier("reg-2")
	openShift(t, svc, reg1)
	other := openShift(t, svc, reg2)

	reg1.ShiftID = other.ID
	req := cardSale("ITEM-PAN", "1", "10")
	req.Payments = []domain.PaymentRequest{{Method: domain.PaymentMethodCash, Amount: dec("10")}}
	_, err := svc.CreateSale(ctx, reg1, req)
	requireCode(t, err, store.ErrConflict, store.CodeNoActiveShift)

	movements, err := repo.ListCashMovements(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, movements)
	assert.True(t, stockOf(t, repo, "ITEM-PAN").Quantity.Equal(dec("200")))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	require.NoError(t, repo.SaveItem(ctx, domain.Item{ID: "ITEM-LIMITED", Name: "Limited", StockTracked: true, Price: dec("10"), TaxRate: decimal.Zero, Active: true}))
	require.NoError(t, repo.SaveInventory(ctx, domain.InventoryPosition{StoreID: memory.SeedStoreID, ItemID: "ITEM-LIMITED", Quantity: dec("5"), AverageCost: dec("4")}))

	const attempts = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		codes     []string
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, sess, cardSale("ITEM-LIMITED", "1", "10"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			codes = append(codes, store.CodeOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	require.Len(t, codes, attempts-5)
	for _, code := range codes {
		assert.Equal(t, store.CodeInsufficientStock, code)
	}
	assert.True(t, stockOf(t, repo, "ITEM-LIMITED").Quantity.IsZero())
}

func TestShiftReconciliationScenario(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	shift := openShift(t, svc, sess, domain.CurrencyCount{
		Currency: "DOP",
		Lines: []domain.DenominationCount{
			{Denomination: dec("100"), Quantity: 2},
			{Denomination: dec("20"), Quantity: 5},
		},
	})

	_, err := svc.RecordCashMovement(ctx, sess, domain.CashMovementRequest{
		ShiftID:   shift.ID,
		Direction: domain.DirectionIn,
		Amount:    dec("150"),
		Reason:    "float top-up",
	})
	require.NoError(t, err)

	closed, err := svc.CloseShift(ctx, sess, domain.CloseShiftRequest{
		ShiftID: shift.ID,
		Counts: []domain.CurrencyCount{{
			Currency: "DOP",
			Lines: []domain.DenominationCount{
				{Denomination: dec("100"), Quantity: 4},
				{Denomination: dec("50"), Quantity: 1},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	rec := closed.Meta.Reconciliation["DOP"]
	assert.Equal(t, "300.00", rec.Opening.StringFixed(2))
	assert.Equal(t, "450.00", rec.Expected.StringFixed(2))
	assert.Equal(t, "0.00", rec.Variance.StringFixed(2))

	_, err = svc.CloseShift(ctx, sess, domain.CloseShiftRequest{
		ShiftID: shift.ID,
		Counts:  []domain.CurrencyCount{{Currency: "DOP", Lines: []domain.DenominationCount{{Denomination: dec("1"), Quantity: 1}}}},
	})
	requireCode(t, err, store.ErrConflict, store.CodeShiftNotOpen)

	counts, err := repo.ListCashCounts(ctx, shift.ID)
	require.NoError(t, err)
	closing := 0
	for _, count := range counts {
		if count.Type == domain.CashCountClosing {
			closing++
			assert.Equal(t, "450.00", count.TotalCounted.StringFixed(2))
		}
	}
	assert.Equal(t, 1, closing)

	_, err = svc.GetActiveShift(ctx, sess)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestClosingCountsAreReplaced(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	shift := openShift(t, svc, sess)

	submit := func(qty int64) {
		_, err := svc.RecordClosingCount(ctx, sess, domain.CloseShiftRequest{
			ShiftID: shift.ID,
			Counts:  []domain.CurrencyCount{{Currency: "DOP", Lines: []domain.DenominationCount{{Denomination: dec("100"), Quantity: qty}}}},
		})
		require.NoError(t, err)
	}
	submit(1)
	submit(2)

	counts, err := repo.ListCashCounts(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "200.00", counts[0].TotalCounted.StringFixed(2))

	closed, err := svc.CloseShift(ctx, sess, domain.CloseShiftRequest{ShiftID: shift.ID})
	require.NoError(t, err)
	assert.Equal(t, "200.00", closed.Meta.Reconciliation["DOP"].Variance.StringFixed(2))
}

func TestOpenShiftTwiceConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	_, err := svc.OpenShift(context.Background(), sess, domain.OpenShiftRequest{})
	requireCode(t, err, store.ErrConflict, store.CodeShiftAlreadyOpen)

	openShift(t, svc, cashier("reg-2"))
}

func TestCashMovementRejectsUnknownDirection(t *testing.T) {
	svc, _ := newTestService(t)
	sess := cashier("reg-1")
	shift := openShift(t, svc, sess)

	_, err := svc.RecordCashMovement(context.Background(), sess, domain.CashMovementRequest{
		ShiftID: shift.ID, Direction: "sideways", Amount: dec("5"), Reason: "test",
	})
	requireCode(t, err, store.ErrValidation, store.CodeInvalidDirection)
}

func TestConcurrentAllocationsAreContiguous(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")

	preview, err := svc.PreviewNextNumber(ctx, sess, "B02")
	require.NoError(t, err)
	require.NotNil(t, preview)
	start := preview.Raw

	const n = 30
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		raws []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.AllocateDocumentNumber(ctx, sess, "B02")
			assert.NoError(t, err)
			mu.Lock()
			raws = append(raws, number.Raw)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(raws, func(i, j int) bool { return raws[i] < raws[j] })
	require.Len(t, raws, n)
	for i, raw := range raws {
		assert.Equal(t, start+int64(i), raw)
	}

	next, err := svc.PreviewNextNumber(ctx, sess, "B02")
	require.NoError(t, err)
	assert.Equal(t, start+n, next.Raw)
}

func TestAllocateUnknownSequence(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AllocateDocumentNumber(context.Background(), cashier("reg-1"), "B15")
	requireCode(t, err, store.ErrNotFound, store.CodeSequenceNotFound)

	preview, err := svc.PreviewNextNumber(context.Background(), cashier("reg-1"), "B15")
	require.NoError(t, err)
	assert.Nil(t, preview)
}

func TestSaleReturnCap(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	sale, err := svc.CreateSale(ctx, sess, cardSale("ITEM-PAN", "10", "100"))
	require.NoError(t, err)
	lineID := sale.Lines[0].ID

	first, err := svc.CreateSaleReturn(ctx, sess, domain.SaleReturnRequest{
		SaleID: sale.ID,
		Lines:  []domain.SaleReturnLineRequest{{SaleLineID: lineID, Quantity: dec("6")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "60.00", first.Total.StringFixed(2))
	assert.True(t, first.CashRefunded.IsZero())

	_, err = svc.CreateSaleReturn(ctx, sess, domain.SaleReturnRequest{
		SaleID: sale.ID,
		Lines:  []domain.SaleReturnLineRequest{{SaleLineID: lineID, Quantity: dec("5")}},
	})
	coreErr := requireCode(t, err, store.ErrConflict, store.CodeOverReturn)
	assert.Equal(t, "4", coreErr.Fields["remaining"])

	assert.True(t, stockOf(t, repo, "ITEM-PAN").Quantity.Equal(dec("196")))

	last, err := svc.CreateSaleReturn(ctx, sess, domain.SaleReturnRequest{
		SaleID:     sale.ID,
		Lines:      []domain.SaleReturnLineRequest{{SaleLineID: lineID, Quantity: dec("4")}},
		RefundCash: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "40.00", last.CashRefunded.StringFixed(2))

	stored, err := svc.GetSale(ctx, sess, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusRefunded, stored.Status)
	assert.True(t, stockOf(t, repo, "ITEM-PAN").Quantity.Equal(dec("200")))
	assert.True(t, stockOf(t, repo, "ITEM-PAN").AverageCost.Equal(dec("6")))
}

func TestSaleReturnRemainderNeverExceedsCharge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	sale, err := svc.CreateSale(ctx, sess, domain.SaleRequest{
		Lines:    []domain.SaleLineRequest{{ItemID: "ITEM-PAN", Quantity: dec("3"), DiscountAmount: decPtr("0.01")}},
		Payments: []domain.PaymentRequest{{Method: domain.PaymentMethodCard, Amount: dec("29.99")}},
	})
	require.NoError(t, err)
	lineID := sale.Lines[0].ID

	refunded := decimal.Zero
	for i := 0; i < 3; i++ {
		ret, err := svc.CreateSaleReturn(ctx, sess, domain.SaleReturnRequest{
			SaleID: sale.ID,
			Lines:  []domain.SaleReturnLineRequest{{SaleLineID: lineID, Quantity: dec("1")}},
		})
		require.NoError(t, err)
		refunded = refunded.Add(ret.Total)
	}
	assert.True(t, refunded.Equal(sale.Total), "refunded %s of %s", refunded, sale.Total)
}

func TestWeightedAverageFromReceipts(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")

	require.NoError(t, repo.SaveItem(ctx, domain.Item{ID: "ITEM-BEANS", Name: "Beans", StockTracked: true, Price: dec("20"), TaxRate: decimal.Zero, Active: true}))
	for _, p := range []struct{ id, cost string }{{"PO-A", "5"}, {"PO-B", "7"}} {
		require.NoError(t, repo.CreatePurchase(ctx, domain.Purchase{
			ID: p.id, StoreID: memory.SeedStoreID, SupplierID: "SUP-1", Number: p.id,
			Status: domain.PurchaseStatusOrdered, Currency: "DOP",
			Freight: decimal.Zero, OtherCosts: decimal.Zero, Total: dec("100"), Balance: dec("100"),
			Lines: []domain.PurchaseLine{{
				ID: p.id + "-L1", PurchaseID: p.id, ItemID: "ITEM-BEANS", OrderedQty: dec("10"),
				ReceivedQty: decimal.Zero, ReturnedQty: decimal.Zero, UnitCost: dec(p.cost),
				DiscountAmount: decimal.Zero, TaxAmount: decimal.Zero,
			}},
		}))
		received, err := svc.ReceivePurchase(ctx, sess, domain.ReceivePurchaseRequest{
			PurchaseID: p.id,
			Lines:      []domain.PurchaseQuantity{{PurchaseLineID: p.id + "-L1", Quantity: dec("10")}},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusReceived, received.Status)
	}

	pos := stockOf(t, repo, "ITEM-BEANS")
	assert.True(t, pos.Quantity.Equal(dec("20")))
	assert.True(t, pos.AverageCost.Equal(dec("6")), "average %s", pos.AverageCost)

	openShift(t, svc, sess)
	sale, err := svc.CreateSale(ctx, sess, cardSale("ITEM-BEANS", "5", "100"))
	require.NoError(t, err)
	assert.True(t, sale.Lines[0].UnitCost.Equal(dec("6")))

	pos = stockOf(t, repo, "ITEM-BEANS")
	assert.True(t, pos.Quantity.Equal(dec("15")))
	assert.True(t, pos.AverageCost.Equal(dec("6")))
}

func TestCreditLimit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	credit := func(qty string) domain.SaleRequest {
		return domain.SaleRequest{
			CustomerID: "CUST-JUAN",
			Lines:      []domain.SaleLineRequest{{ItemID: "ITEM-PAN", Quantity: dec(qty)}},
			Payments:   []domain.PaymentRequest{{Method: domain.PaymentMethodCredit, Amount: dec("0.01")}},
		}
	}

	_, err := svc.CreateSale(ctx, sess, credit("10"))
	coreErr := requireCode(t, err, store.ErrConflict, store.CodeCreditLimitExceeded)
	assert.Equal(t, "50", coreErr.Fields["available"])

	customer, err := repo.GetCustomer(ctx, "CUST-JUAN")
	require.NoError(t, err)
	assert.True(t, customer.Balance.Equal(dec("950")))
	assert.True(t, stockOf(t, repo, "ITEM-PAN").Quantity.Equal(dec("200")))

	sale, err := svc.CreateSale(ctx, sess, credit("4"))
	require.NoError(t, err)
	assert.True(t, sale.DueTotal.Equal(dec("40")))
	assert.True(t, sale.PaidTotal.IsZero())
	require.Len(t, sale.Payments, 1)
	assert.True(t, sale.Payments[0].Amount.Equal(dec("40")))
	require.NotNil(t, sale.Customer)
	assert.True(t, sale.Customer.Balance.Equal(dec("990")))

	customer, err = repo.GetCustomer(ctx, "CUST-JUAN")
	require.NoError(t, err)
	assert.True(t, customer.Balance.Equal(dec("990")))

	ret, err := svc.CreateSaleReturn(ctx, sess, domain.SaleReturnRequest{
		SaleID:     sale.ID,
		Lines:      []domain.SaleReturnLineRequest{{SaleLineID: sale.Lines[0].ID, Quantity: dec("1")}},
		RefundCash: true,
	})
	require.NoError(t, err)
	assert.True(t, ret.CreditIssued.Equal(dec("10")))
	assert.True(t, ret.CashRefunded.IsZero())
	customer, err = repo.GetCustomer(ctx, "CUST-JUAN")
	require.NoError(t, err)
	assert.True(t, customer.Balance.Equal(dec("980")))
}

func TestCreditRequiresEnabledCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	_, err := svc.CreateSale(context.Background(), sess, domain.SaleRequest{
		CustomerID: "CUST-CONSUMER",
		Lines:      []domain.SaleLineRequest{{ItemID: "ITEM-PAN", Quantity: dec("1")}},
		Payments:   []domain.PaymentRequest{{Method: domain.PaymentMethodCredit, Amount: dec("10")}},
	})
	requireCode(t, err, store.ErrPolicy, store.CodeCreditNotEnabled)
}

func TestFiscalTypeRules(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	req := cardSale("ITEM-PAN", "1", "10")
	req.FiscalType = domain.FiscalTypeCreditFiscal
	_, err := svc.CreateSale(ctx, sess, req)
	requireCode(t, err, store.ErrPolicy, store.CodeFiscalPayerMismatch)

	req = cardSale("ITEM-PAN", "1", "10")
	req.CustomerID = "CUST-COLMADO"
	sale, err := svc.CreateSale(ctx, sess, req)
	require.NoError(t, err)
	assert.Equal(t, domain.FiscalTypeCreditFiscal, sale.FiscalType)
	assert.Equal(t, "B0100000001", sale.FiscalNumber)
	assert.Equal(t, domain.DocumentTypeRNC, sale.DocumentType)
	assert.True(t, sale.IsTaxpayer)

	req = cardSale("ITEM-PAN", "1", "10")
	req.CustomerID = "CUST-COLMADO"
	req.DocumentType = domain.DocumentTypeNone
	sale, err = svc.CreateSale(ctx, sess, req)
	require.NoError(t, err)
	assert.Equal(t, domain.FiscalTypeFinalConsumer, sale.FiscalType)
	assert.Empty(t, sale.DocumentNumber)
	assert.False(t, sale.IsTaxpayer)

	end := int64(1)
	require.NoError(t, repo.SaveSequence(ctx, domain.FiscalSequence{
		StoreID: memory.SeedStoreID, DocumentType: "B01", Prefix: "B01", NextNumber: 2, EndNumber: &end, PadLength: 8, Active: true,
	}))
	require.NoError(t, repo.SaveSequence(ctx, domain.FiscalSequence{
		StoreID: memory.SeedStoreID, DocumentType: "B02", Prefix: "B02", NextNumber: 2, PadLength: 8, Active: false,
	}))
	before := stockOf(t, repo, "ITEM-PAN").Quantity

	req = cardSale("ITEM-PAN", "1", "10")
	sale, err = svc.CreateSale(ctx, sess, req)
	require.NoError(t, err)
	assert.Empty(t, sale.FiscalNumber)

	req = cardSale("ITEM-PAN", "1", "10")
	req.CustomerID = "CUST-COLMADO"
	_, err = svc.CreateSale(ctx, sess, req)
	requireCode(t, err, store.ErrConflict, store.CodeSequenceExhausted)
	assert.True(t, stockOf(t, repo, "ITEM-PAN").Quantity.Equal(before.Sub(dec("1"))))
}

func TestIdempotentSaleReplays(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	req := cardSale("ITEM-ACEITE", "1", "247.80")
	req.IdempotencyKey = "till-1-0001"
	first, err := svc.CreateSale(ctx, sess, req)
	require.NoError(t, err)
	second, err := svc.CreateSale(ctx, sess, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.True(t, stockOf(t, repo, "ITEM-ACEITE").Quantity.Equal(dec("59")))
}

func TestForeignCashWithLocalChange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	shift := openShift(t, svc, sess)

	sale, err := svc.CreateSale(ctx, sess, domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ItemID: "ITEM-PAN", Quantity: dec("12")}},
		Payments: []domain.PaymentRequest{{
			Method:         domain.PaymentMethodCash,
			Amount:         dec("2"),
			Currency:       "USD",
			FXRate:         decPtr("60"),
			Tendered:       decPtr("5"),
			ChangeCurrency: "DOP",
			ChangeFXRate:   decPtr("60"),
		}},
	})
	require.NoError(t, err)
	assert.True(t, sale.Payments[0].AmountInSale.Equal(dec("120")))

	movements, err := repo.ListCashMovements(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "USD", movements[0].Currency)
	assert.True(t, movements[0].Amount.Equal(dec("5")))
	assert.Equal(t, domain.DirectionOut, movements[1].Direction)
	assert.Equal(t, "DOP", movements[1].Currency)
	assert.True(t, movements[1].Amount.Equal(dec("180")))
}

func TestPurchaseReceiveAndReturn(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")

	seeded, err := repo.GetPurchase(ctx, "PO-SEED-1")
	require.NoError(t, err)
	landed := LandedUnitCosts(*seeded)
	assert.Equal(t, "50.8333", landed["PO-SEED-1-L1"].StringFixed(4))
	assert.Equal(t, "10.1667", landed["PO-SEED-1-L2"].StringFixed(4))

	partial, err := svc.ReceivePurchase(ctx, sess, domain.ReceivePurchaseRequest{
		PurchaseID: "PO-SEED-1",
		Lines:      []domain.PurchaseQuantity{{PurchaseLineID: "PO-SEED-1-L1", Quantity: dec("60")}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusPartiallyReceived, partial.Status)

	full, err := svc.ReceivePurchase(ctx, sess, domain.ReceivePurchaseRequest{
		PurchaseID: "PO-SEED-1",
		Lines: []domain.PurchaseQuantity{
			{PurchaseLineID: "PO-SEED-1-L1", Quantity: dec("100")},
			{PurchaseLineID: "PO-SEED-1-L2", Quantity: dec("100")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusReceived, full.Status)
	assert.True(t, full.Lines[0].ReceivedQty.Equal(dec("100")))
	assert.True(t, stockOf(t, repo, "ITEM-ARROZ").Quantity.Equal(dec("220")))

	_, err = svc.ReceivePurchase(ctx, sess, domain.ReceivePurchaseRequest{
		PurchaseID: "PO-SEED-1",
		Lines:      []domain.PurchaseQuantity{{PurchaseLineID: "PO-SEED-1-L2", Quantity: dec("1")}},
	})
	requireCode(t, err, store.ErrConflict, store.CodeInvalidState)

	_, err = svc.ReturnPurchase(ctx, sess, domain.ReturnPurchaseRequest{
		PurchaseID: "PO-SEED-1",
		Lines:      []domain.PurchaseQuantity{{PurchaseLineID: "PO-SEED-1-L2", Quantity: dec("150")}},
	})
	coreErr := requireCode(t, err, store.ErrConflict, store.CodeOverReturn)
	assert.Equal(t, "100", coreErr.Fields["remaining"])

	avgBefore := stockOf(t, repo, "ITEM-PAN").AverageCost
	ret, err := svc.ReturnPurchase(ctx, sess, domain.ReturnPurchaseRequest{
		PurchaseID: "PO-SEED-1",
		Lines:      []domain.PurchaseQuantity{{PurchaseLineID: "PO-SEED-1-L2", Quantity: dec("10")}},
		Reason:     "damaged",
	})
	require.NoError(t, err)
	assert.Equal(t, "101.67", ret.Total.StringFixed(2))

	pan := stockOf(t, repo, "ITEM-PAN")
	assert.True(t, pan.Quantity.Equal(dec("290")))
	assert.True(t, pan.AverageCost.Equal(avgBefore))

	after, err := svc.GetPurchase(ctx, sess, "PO-SEED-1")
	require.NoError(t, err)
	assert.Equal(t, "5998.33", after.Balance.StringFixed(2))
	assert.True(t, after.Lines[1].ReturnedQty.Equal(dec("10")))
}

func TestAdjustInventory(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")

	movement, err := svc.AdjustInventory(ctx, sess, domain.AdjustInventoryRequest{ItemID: "ITEM-ARROZ", NewQuantity: dec("100"), Reason: "cycle count"})
	require.NoError(t, err)
	require.NotNil(t, movement)
	assert.Equal(t, domain.MovementAdjustmentOut, movement.Kind)
	assert.True(t, movement.Quantity.Equal(dec("20")))
	assert.True(t, movement.UnitPrice.Equal(dec("48.50")))

	movement, err = svc.AdjustInventory(ctx, sess, domain.AdjustInventoryRequest{ItemID: "ITEM-ARROZ", NewQuantity: dec("100"), Reason: "recount"})
	require.NoError(t, err)
	assert.Nil(t, movement)

	movement, err = svc.AdjustInventory(ctx, sess, domain.AdjustInventoryRequest{ItemID: "ITEM-ARROZ", NewQuantity: dec("130"), Reason: "found pallet"})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementAdjustmentIn, movement.Kind)
	pos := stockOf(t, repo, "ITEM-ARROZ")
	assert.True(t, pos.Quantity.Equal(dec("130")))
	assert.True(t, pos.AverageCost.Equal(dec("48.50")))

	_, err = svc.AdjustInventory(ctx, sess, domain.AdjustInventoryRequest{ItemID: "ITEM-ARROZ", NewQuantity: dec("-1"), Reason: "typo"})
	requireCode(t, err, store.ErrValidation, store.CodeInvalidInput)

	_, err = svc.AdjustInventory(ctx, sess, domain.AdjustInventoryRequest{ItemID: "ITEM-SERV", NewQuantity: dec("1"), Reason: "service"})
	requireCode(t, err, store.ErrValidation, store.CodeInvalidInput)
}

func TestLowStockAlertRaisedOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	for _, qty := range []string{"16", "16", "4"} {
		_, err := svc.CreateSale(ctx, sess, cardSale("ITEM-CAFE", qty, "2400"))
		require.NoError(t, err)
	}

	alerts, err := svc.ListLowStockAlerts(ctx, sess)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ITEM-CAFE", alerts[0].ItemID)
	assert.Equal(t, domain.AlertSeverityWarning, alerts[0].Severity)

	_, err = svc.CreateSale(ctx, sess, cardSale("ITEM-CAFE", "4", "600"))
	require.NoError(t, err)
	alerts, err = svc.ListLowStockAlerts(ctx, sess)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.AlertSeverityCritical, alerts[1].Severity)
}

func TestRequestValidationFields(t *testing.T) {
	svc, _ := newTestService(t)
	sess := cashier("reg-1")

	_, err := svc.CreateSale(context.Background(), sess, domain.SaleRequest{})
	coreErr := requireCode(t, err, store.ErrValidation, store.CodeInvalidInput)
	assert.Equal(t, "required", coreErr.Fields["lines"])
	assert.Equal(t, "required", coreErr.Fields["payments"])

	_, err = svc.CreateSale(context.Background(), domain.Session{RegisterID: "reg-1"}, cardSale("ITEM-PAN", "1", "10"))
	requireCode(t, err, store.ErrValidation, store.CodeInvalidInput)
}

func TestAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	sess := cashier("reg-1")
	openShift(t, svc, sess)

	logs, err := svc.ListAuditLogs(context.Background(), sess, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "shift_open", logs[0].Action)
	assert.Equal(t, "cashier", logs[0].Actor)
}
