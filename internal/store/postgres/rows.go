package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

const positionColumns = `store_id, item_id, quantity, average_cost, reorder_point, updated_at`

const shiftColumns = `id, store_id, register_id, opened_by, opened_at, status, COALESCE(closed_by, ''), closed_at, meta`

const saleColumns = `id, store_id, register_id, shift_id, COALESCE(customer_id, ''), currency, number, status,
	subtotal, discount_total, tax_total, total, paid_total, due_total, COALESCE(billing_name, ''),
	document_type, COALESCE(document_number, ''), is_taxpayer, COALESCE(fiscal_type, ''),
	COALESCE(fiscal_number, ''), COALESCE(idempotency_key, ''), created_by, created_at`

const purchaseColumns = `id, store_id, supplier_id, number, status, currency, freight, other_costs,
	total, balance, created_at, received_at`

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func scanPosition(row pgx.Row) (domain.InventoryPosition, error) {
	var p domain.InventoryPosition
	err := row.Scan(&p.StoreID, &p.ItemID, &p.Quantity, &p.AverageCost, &p.ReorderPoint, &p.UpdatedAt)
	return p, err
}

func scanShift(row pgx.Row) (domain.CashShift, error) {
	var (
		s    domain.CashShift
		meta []byte
	)
	if err := row.Scan(&s.ID, &s.StoreID, &s.RegisterID, &s.OpenedBy, &s.OpenedAt, &s.Status,
		&s.ClosedBy, &s.ClosedAt, &meta); err != nil {
		return domain.CashShift{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Meta); err != nil {
			return domain.CashShift{}, fmt.Errorf("decode shift meta: %w", err)
		}
	}
	return s, nil
}

func getItems(ctx context.Context, q querier, ids []string) (map[string]domain.Item, error) {
	out := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, sku, name, stock_tracked, price, tax_rate, tax_inclusive, active
		FROM items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Item, error) {
		var it domain.Item
		err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.StockTracked, &it.Price, &it.TaxRate, &it.TaxInclusive, &it.Active)
		return it, err
	})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

func getCustomer(ctx context.Context, q querier, id string, lock bool) (*domain.Customer, error) {
	var c domain.Customer
	err := q.QueryRow(ctx, `
		SELECT id, name, document_type, COALESCE(document_number, ''), is_taxpayer, credit_enabled, credit_limit, balance
		FROM customers
		WHERE id = $1`+forUpdate(lock), id).Scan(
		&c.ID, &c.Name, &c.DocumentType, &c.DocumentNumber, &c.IsTaxpayer, &c.CreditEnabled, &c.CreditLimit, &c.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("customer", id)
		}
		return nil, err
	}
	return &c, nil
}

func getSequence(ctx context.Context, q querier, storeID string, documentType string, lock bool) (*domain.FiscalSequence, error) {
	var seq domain.FiscalSequence
	err := q.QueryRow(ctx, `
		SELECT store_id, document_type, prefix, next_number, end_number, pad_length, active
		FROM fiscal_sequences
		WHERE store_id = $1 AND document_type = $2`+forUpdate(lock), storeID, documentType).Scan(
		&seq.StoreID, &seq.DocumentType, &seq.Prefix, &seq.NextNumber, &seq.EndNumber, &seq.PadLength, &seq.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &seq, nil
}

func getShift(ctx context.Context, q querier, id string, lock bool) (*domain.CashShift, error) {
	shift, err := scanShift(q.QueryRow(ctx, `SELECT `+shiftColumns+` FROM cash_shifts WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("shift", id)
		}
		return nil, err
	}
	return &shift, nil
}

// listCashCounts returns the counts of a shift; an empty countType means all.
func listCashCounts(ctx context.Context, q querier, shiftID string, countType string) ([]domain.CashCount, error) {
	rows, err := q.Query(ctx, `
		SELECT id, shift_id, count_type, currency, total_counted, lines, created_at
		FROM cash_counts
		WHERE shift_id = $1 AND ($2::text = '' OR count_type = $2)
		ORDER BY count_type, currency
	`, shiftID, countType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CashCount, error) {
		var (
			c     domain.CashCount
			lines []byte
		)
		if err := row.Scan(&c.ID, &c.ShiftID, &c.Type, &c.Currency, &c.TotalCounted, &lines, &c.CreatedAt); err != nil {
			return c, err
		}
		if err := json.Unmarshal(lines, &c.Lines); err != nil {
			return c, fmt.Errorf("decode cash count lines: %w", err)
		}
		return c, nil
	})
}

func listCashMovements(ctx context.Context, q querier, shiftID string) ([]domain.CashMovement, error) {
	rows, err := q.Query(ctx, `
		SELECT id, shift_id, direction, currency, amount, reason, COALESCE(reference, ''),
		       source_kind, source_id, created_by, created_at
		FROM cash_movements
		WHERE shift_id = $1
		ORDER BY created_at, id
	`, shiftID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CashMovement, error) {
		var m domain.CashMovement
		err := row.Scan(&m.ID, &m.ShiftID, &m.Direction, &m.Currency, &m.Amount, &m.Reason, &m.Reference,
			&m.Source.Kind, &m.Source.ID, &m.CreatedBy, &m.CreatedAt)
		return m, err
	})
}

func getSale(ctx context.Context, q querier, id string, lock bool) (*domain.Sale, error) {
	var s domain.Sale
	err := q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`+forUpdate(lock), id).Scan(
		&s.ID, &s.StoreID, &s.RegisterID, &s.ShiftID, &s.CustomerID, &s.Currency, &s.Number, &s.Status,
		&s.Subtotal, &s.DiscountTotal, &s.TaxTotal, &s.Total, &s.PaidTotal, &s.DueTotal, &s.BillingName,
		&s.DocumentType, &s.DocumentNumber, &s.IsTaxpayer, &s.FiscalType,
		&s.FiscalNumber, &s.IdempotencyKey, &s.CreatedBy, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("sale", id)
		}
		return nil, err
	}

	lineRows, err := q.Query(ctx, `
		SELECT id, sale_id, item_id, description, quantity, unit_price, discount_percent, discount_amount,
		       tax_rate, tax_amount, line_total, unit_cost, stock_tracked
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	s.Lines, err = pgx.CollectRows(lineRows, func(row pgx.CollectableRow) (domain.SaleLine, error) {
		var l domain.SaleLine
		err := row.Scan(&l.ID, &l.SaleID, &l.ItemID, &l.Description, &l.Quantity, &l.UnitPrice, &l.DiscountPercent,
			&l.DiscountAmount, &l.TaxRate, &l.TaxAmount, &l.LineTotal, &l.UnitCost, &l.StockTracked)
		return l, err
	})
	if err != nil {
		return nil, err
	}

	paymentRows, err := q.Query(ctx, `
		SELECT id, sale_id, method, amount, currency, fx_rate, amount_in_sale, tendered, change_amount,
		       COALESCE(change_currency, ''), COALESCE(reference, '')
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	s.Payments, err = pgx.CollectRows(paymentRows, func(row pgx.CollectableRow) (domain.SalePayment, error) {
		var p domain.SalePayment
		err := row.Scan(&p.ID, &p.SaleID, &p.Method, &p.Amount, &p.Currency, &p.FXRate, &p.AmountInSale,
			&p.Tendered, &p.Change, &p.ChangeCurrency, &p.Reference)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func getPurchase(ctx context.Context, q querier, id string, lock bool) (*domain.Purchase, error) {
	var p domain.Purchase
	err := q.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`+forUpdate(lock), id).Scan(
		&p.ID, &p.StoreID, &p.SupplierID, &p.Number, &p.Status, &p.Currency, &p.Freight, &p.OtherCosts,
		&p.Total, &p.Balance, &p.CreatedAt, &p.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("purchase", id)
		}
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, purchase_id, item_id, ordered_qty, received_qty, returned_qty, unit_cost,
		       discount_amount, tax_amount, landed_unit_cost
		FROM purchase_lines
		WHERE purchase_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	p.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PurchaseLine, error) {
		var l domain.PurchaseLine
		err := row.Scan(&l.ID, &l.PurchaseID, &l.ItemID, &l.OrderedQty, &l.ReceivedQty, &l.ReturnedQty,
			&l.UnitCost, &l.DiscountAmount, &l.TaxAmount, &l.LandedUnitCost)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
