package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

type pgTx struct {
	tx pgx.Tx
}

// Nested runs fn inside a SAVEPOINT. pgx maps Begin on a pgx.Tx to a
// savepoint and Rollback to ROLLBACK TO SAVEPOINT.
func (t *pgTx) Nested(ctx context.Context, fn func(tx store.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(&pgTx{tx: sp}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback: %v)", err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

func (t *pgTx) HasOpenShift(ctx context.Context, storeID string, registerID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM cash_shifts WHERE store_id = $1 AND register_id = $2 AND status = 'open')
	`, storeID, registerID).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertShift(ctx context.Context, shift domain.CashShift) error {
	meta, err := json.Marshal(shift.Meta)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO cash_shifts (id, store_id, register_id, opened_by, opened_at, status, closed_by, closed_at, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shift.ID, shift.StoreID, shift.RegisterID, shift.OpenedBy, shift.OpenedAt, shift.Status,
		nullIfEmpty(shift.ClosedBy), shift.ClosedAt, meta)
	if err != nil {
		if isUniqueViolation(err) && constraintName(err) == "cash_shifts_open_register_uq" {
			return store.Conflict(store.CodeShiftAlreadyOpen, "a shift is already open for this register",
				map[string]any{"store_id": shift.StoreID, "register_id": shift.RegisterID})
		}
		return mapWriteError(err)
	}
	return nil
}

func (t *pgTx) LockShift(ctx context.Context, shiftID string) (*domain.CashShift, error) {
	return getShift(ctx, t.tx, shiftID, true)
}

func (t *pgTx) UpdateShift(ctx context.Context, shift domain.CashShift) error {
	meta, err := json.Marshal(shift.Meta)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE cash_shifts SET status = $2, closed_by = $3, closed_at = $4, meta = $5
		WHERE id = $1
	`, shift.ID, shift.Status, nullIfEmpty(shift.ClosedBy), shift.ClosedAt, meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("shift", shift.ID)
	}
	return nil
}

func (t *pgTx) ListCashCounts(ctx context.Context, shiftID string, countType string) ([]domain.CashCount, error) {
	return listCashCounts(ctx, t.tx, shiftID, countType)
}

func (t *pgTx) DeleteCashCounts(ctx context.Context, shiftID string, countType string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cash_counts WHERE shift_id = $1 AND count_type = $2`, shiftID, countType)
	return err
}

func (t *pgTx) InsertCashCount(ctx context.Context, count domain.CashCount) error {
	lines, err := json.Marshal(count.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO cash_counts (id, shift_id, count_type, currency, total_counted, lines, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, count.ID, count.ShiftID, count.Type, count.Currency, count.TotalCounted, lines, count.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Conflict(store.CodeInvalidState, "cash count already recorded",
				map[string]any{"shift_id": count.ShiftID, "type": count.Type, "currency": count.Currency})
		}
		return err
	}
	return nil
}

func (t *pgTx) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	return listCashMovements(ctx, t.tx, shiftID)
}

func (t *pgTx) InsertCashMovement(ctx context.Context, m domain.CashMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cash_movements (id, shift_id, direction, currency, amount, reason, reference,
		                            source_kind, source_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ID, m.ShiftID, m.Direction, m.Currency, m.Amount, m.Reason, nullIfEmpty(m.Reference),
		m.Source.Kind, m.Source.ID, m.CreatedBy, m.CreatedAt)
	return mapWriteError(err)
}

func (t *pgTx) GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	return getItems(ctx, t.tx, ids)
}

// LockInventory creates missing positions first so every requested row
// exists, then takes the row locks in ascending item id order.
func (t *pgTx) LockInventory(ctx context.Context, storeID string, itemIDs []string) (map[string]domain.InventoryPosition, error) {
	ids := slices.Clone(itemIDs)
	sort.Strings(ids)
	ids = slices.Compact(ids)
	out := make(map[string]domain.InventoryPosition, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO inventory_positions (store_id, item_id)
		SELECT $1, id FROM unnest($2::text[]) AS id ORDER BY id
		ON CONFLICT (store_id, item_id) DO NOTHING
	`, storeID, ids); err != nil {
		return nil, fmt.Errorf("failed to create inventory positions: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+positionColumns+`
		FROM inventory_positions
		WHERE store_id = $1 AND item_id = ANY($2)
		ORDER BY item_id
		FOR UPDATE
	`, storeID, ids)
	if err != nil {
		return nil, err
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InventoryPosition, error) {
		return scanPosition(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}
	for _, pos := range positions {
		out[pos.ItemID] = pos
	}
	return out, nil
}

func (t *pgTx) UpdateInventory(ctx context.Context, position domain.InventoryPosition) error {
	if position.Quantity.IsNegative() {
		return store.Conflict(store.CodeInsufficientStock, "inventory would go negative",
			map[string]any{"item_id": position.ItemID, "quantity": position.Quantity.String()})
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE inventory_positions
		SET quantity = $3, average_cost = $4, reorder_point = $5, updated_at = $6
		WHERE store_id = $1 AND item_id = $2
	`, position.StoreID, position.ItemID, position.Quantity, position.AverageCost, position.ReorderPoint, position.UpdatedAt)
	return mapWriteError(err)
}

func (t *pgTx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (id, store_id, item_id, kind, quantity, unit_price, subtotal,
		                             source_kind, source_id, reason, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.StoreID, m.ItemID, string(m.Kind), m.Quantity, m.UnitPrice, m.Subtotal,
		m.Source.Kind, m.Source.ID, nullIfEmpty(m.Reason), m.Actor, m.CreatedAt)
	return err
}

func (t *pgTx) UpsertLowStockAlert(ctx context.Context, a domain.LowStockAlert) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO low_stock_alerts (id, store_id, item_id, severity, status, quantity, reorder_point, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (store_id, item_id, severity) WHERE status = 'unread' DO NOTHING
	`, a.ID, a.StoreID, a.ItemID, a.Severity, a.Status, a.Quantity, a.ReorderPoint, a.CreatedAt)
	return err
}

func (t *pgTx) LockCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	return getCustomer(ctx, t.tx, customerID, true)
}

func (t *pgTx) UpdateCustomerBalance(ctx context.Context, customerID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE customers SET balance = $2 WHERE id = $1`, customerID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("customer", customerID)
	}
	return nil
}

func (t *pgTx) LockSequence(ctx context.Context, storeID string, documentType string) (*domain.FiscalSequence, error) {
	return getSequence(ctx, t.tx, storeID, documentType, true)
}

func (t *pgTx) SetSequenceNext(ctx context.Context, storeID string, documentType string, next int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE fiscal_sequences SET next_number = $3
		WHERE store_id = $1 AND document_type = $2 AND next_number <= $3
	`, storeID, documentType, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	seq, err := getSequence(ctx, t.tx, storeID, documentType, false)
	if err != nil {
		return err
	}
	if seq == nil {
		return store.NotFound("fiscal sequence", documentType)
	}
	return store.Conflict(store.CodeInvalidState, "sequence cannot move backwards",
		map[string]any{"document_type": documentType, "next": next, "current": seq.NextNumber})
}

func (t *pgTx) NextCounter(ctx context.Context, storeID string, name string) (int64, error) {
	var value int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO document_counters (store_id, name, value) VALUES ($1, $2, 1)
		ON CONFLICT (store_id, name) DO UPDATE SET value = document_counters.value + 1
		RETURNING value
	`, storeID, name).Scan(&value)
	return value, err
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (id, store_id, register_id, shift_id, customer_id, currency, number, status,
		                   subtotal, discount_total, tax_total, total, paid_total, due_total, billing_name,
		                   document_type, document_number, is_taxpayer, fiscal_type, fiscal_number,
		                   idempotency_key, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, sale.ID, sale.StoreID, sale.RegisterID, sale.ShiftID, nullIfEmpty(sale.CustomerID), sale.Currency,
		sale.Number, sale.Status, sale.Subtotal, sale.DiscountTotal, sale.TaxTotal, sale.Total, sale.PaidTotal,
		sale.DueTotal, nullIfEmpty(sale.BillingName), sale.DocumentType, nullIfEmpty(sale.DocumentNumber),
		sale.IsTaxpayer, nullIfEmpty(sale.FiscalType), nullIfEmpty(sale.FiscalNumber),
		nullIfEmpty(sale.IdempotencyKey), sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}

	batch := &pgx.Batch{}
	for i, l := range sale.Lines {
		batch.Queue(`
			INSERT INTO sale_lines (id, sale_id, position, item_id, description, quantity, unit_price,
			                        discount_percent, discount_amount, tax_rate, tax_amount, line_total,
			                        unit_cost, stock_tracked)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, l.ID, sale.ID, i, l.ItemID, l.Description, l.Quantity, l.UnitPrice, l.DiscountPercent,
			l.DiscountAmount, l.TaxRate, l.TaxAmount, l.LineTotal, l.UnitCost, l.StockTracked)
	}
	for i, p := range sale.Payments {
		batch.Queue(`
			INSERT INTO sale_payments (id, sale_id, position, method, amount, currency, fx_rate, amount_in_sale,
			                           tendered, change_amount, change_currency, reference)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, p.ID, sale.ID, i, p.Method, p.Amount, p.Currency, p.FXRate, p.AmountInSale,
			p.Tendered, p.Change, nullIfEmpty(p.ChangeCurrency), nullIfEmpty(p.Reference))
	}
	return mapWriteError(t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) LockSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return getSale(ctx, t.tx, saleID, true)
}

func (t *pgTx) UpdateSaleStatus(ctx context.Context, saleID string, status string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET status = $2 WHERE id = $1`, saleID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("sale", saleID)
	}
	return nil
}

func (t *pgTx) ReturnedBySaleLine(ctx context.Context, saleID string) (map[string]domain.ReturnedLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT rl.sale_line_id, SUM(rl.quantity), SUM(rl.subtotal), SUM(rl.discount), SUM(rl.tax), SUM(rl.total)
		FROM sale_return_lines rl
		JOIN sale_returns r ON r.id = rl.return_id
		WHERE r.sale_id = $1
		GROUP BY rl.sale_line_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.ReturnedLine)
	for rows.Next() {
		var (
			lineID string
			agg    domain.ReturnedLine
		)
		if err := rows.Scan(&lineID, &agg.Quantity, &agg.Subtotal, &agg.Discount, &agg.Tax, &agg.Total); err != nil {
			return nil, err
		}
		out[lineID] = agg
	}
	return out, rows.Err()
}

func (t *pgTx) InsertSaleReturn(ctx context.Context, ret domain.SaleReturn) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sale_returns (id, sale_id, store_id, shift_id, subtotal, discount, tax, total,
		                          cash_refunded, credit_issued, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, ret.ID, ret.SaleID, ret.StoreID, nullIfEmpty(ret.ShiftID), ret.Subtotal, ret.Discount, ret.Tax, ret.Total,
		ret.CashRefunded, ret.CreditIssued, nullIfEmpty(ret.Reason), ret.CreatedBy, ret.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}

	batch := &pgx.Batch{}
	for _, l := range ret.Lines {
		batch.Queue(`
			INSERT INTO sale_return_lines (id, return_id, sale_line_id, item_id, quantity, unit_cost,
			                               subtotal, discount, tax, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, l.ID, ret.ID, l.SaleLineID, l.ItemID, l.Quantity, l.UnitCost, l.Subtotal, l.Discount, l.Tax, l.Total)
	}
	return mapWriteError(t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) LockPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return getPurchase(ctx, t.tx, purchaseID, true)
}

func (t *pgTx) UpdatePurchase(ctx context.Context, p domain.Purchase) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchases SET status = $2, total = $3, balance = $4, received_at = $5
		WHERE id = $1
	`, p.ID, p.Status, p.Total, p.Balance, p.ReceivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("purchase", p.ID)
	}

	batch := &pgx.Batch{}
	for _, l := range p.Lines {
		batch.Queue(`
			UPDATE purchase_lines SET received_qty = $2, returned_qty = $3, landed_unit_cost = $4
			WHERE id = $1
		`, l.ID, l.ReceivedQty, l.ReturnedQty, l.LandedUnitCost)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) InsertPurchaseReturn(ctx context.Context, ret domain.PurchaseReturn) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchase_returns (id, purchase_id, store_id, total, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ret.ID, ret.PurchaseID, ret.StoreID, ret.Total, nullIfEmpty(ret.Reason), ret.CreatedBy, ret.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}

	batch := &pgx.Batch{}
	for _, l := range ret.Lines {
		batch.Queue(`
			INSERT INTO purchase_return_lines (return_id, purchase_line_id, item_id, quantity, unit_cost, total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ret.ID, l.PurchaseLineID, l.ItemID, l.Quantity, l.UnitCost, l.Total)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}
