package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates every table and index that does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// pgTx methods provide the serialization the ledgers need.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	return getItems(ctx, s.pool, ids)
}

func (s *Store) SaveItem(ctx context.Context, item domain.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return store.Validation(store.CodeInvalidInput, "item id is required", nil)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, sku, name, stock_tracked, price, tax_rate, tax_inclusive, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku, name = EXCLUDED.name, stock_tracked = EXCLUDED.stock_tracked,
			price = EXCLUDED.price, tax_rate = EXCLUDED.tax_rate,
			tax_inclusive = EXCLUDED.tax_inclusive, active = EXCLUDED.active
	`, item.ID, item.SKU, item.Name, item.StockTracked, item.Price, item.TaxRate, item.TaxInclusive, item.Active)
	return err
}

func (s *Store) GetInventory(ctx context.Context, storeID string, itemID string) (*domain.InventoryPosition, error) {
	pos, err := scanPosition(s.pool.QueryRow(ctx, `
		SELECT `+positionColumns+` FROM inventory_positions WHERE store_id = $1 AND item_id = $2
	`, storeID, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("inventory", itemID)
		}
		return nil, err
	}
	return &pos, nil
}

func (s *Store) SaveInventory(ctx context.Context, position domain.InventoryPosition) error {
	if position.Quantity.IsNegative() {
		return store.Validation(store.CodeInvalidInput, "quantity must not be negative", map[string]any{"item_id": position.ItemID})
	}
	if position.UpdatedAt.IsZero() {
		position.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory_positions (store_id, item_id, quantity, average_cost, reorder_point, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (store_id, item_id) DO UPDATE SET
			quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost,
			reorder_point = EXCLUDED.reorder_point, updated_at = EXCLUDED.updated_at
	`, position.StoreID, position.ItemID, position.Quantity, position.AverageCost, position.ReorderPoint, position.UpdatedAt)
	return err
}

func (s *Store) ListStockMovements(ctx context.Context, storeID string, itemID string) ([]domain.StockMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, item_id, kind, quantity, unit_price, subtotal, source_kind, source_id,
		       COALESCE(reason, ''), actor, created_at
		FROM stock_movements
		WHERE store_id = $1 AND ($2::text = '' OR item_id = $2)
		ORDER BY created_at, id
	`, storeID, itemID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StockMovement, error) {
		var m domain.StockMovement
		err := row.Scan(&m.ID, &m.StoreID, &m.ItemID, &m.Kind, &m.Quantity, &m.UnitPrice, &m.Subtotal,
			&m.Source.Kind, &m.Source.ID, &m.Reason, &m.Actor, &m.CreatedAt)
		return m, err
	})
}

func (s *Store) ListLowStockAlerts(ctx context.Context, storeID string) ([]domain.LowStockAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, item_id, severity, status, quantity, reorder_point, created_at
		FROM low_stock_alerts
		WHERE store_id = $1
		ORDER BY created_at, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LowStockAlert, error) {
		var a domain.LowStockAlert
		err := row.Scan(&a.ID, &a.StoreID, &a.ItemID, &a.Severity, &a.Status, &a.Quantity, &a.ReorderPoint, &a.CreatedAt)
		return a, err
	})
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.pool, id, false)
}

func (s *Store) SaveCustomer(ctx context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.ID) == "" {
		return store.Validation(store.CodeInvalidInput, "customer id is required", nil)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, name, document_type, document_number, is_taxpayer, credit_enabled, credit_limit, balance)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, document_type = EXCLUDED.document_type,
			document_number = EXCLUDED.document_number, is_taxpayer = EXCLUDED.is_taxpayer,
			credit_enabled = EXCLUDED.credit_enabled, credit_limit = EXCLUDED.credit_limit,
			balance = EXCLUDED.balance
	`, customer.ID, customer.Name, customer.DocumentType, nullIfEmpty(customer.DocumentNumber),
		customer.IsTaxpayer, customer.CreditEnabled, customer.CreditLimit, customer.Balance)
	return err
}

func (s *Store) PeekSequence(ctx context.Context, storeID string, documentType string) (*domain.FiscalSequence, error) {
	return getSequence(ctx, s.pool, storeID, documentType, false)
}

func (s *Store) SaveSequence(ctx context.Context, seq domain.FiscalSequence) error {
	if seq.StoreID == "" || seq.DocumentType == "" || seq.NextNumber < 1 {
		return store.Validation(store.CodeInvalidInput, "sequence needs store, document type and a positive next number", nil)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fiscal_sequences (store_id, document_type, prefix, next_number, end_number, pad_length, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (store_id, document_type) DO UPDATE SET
			prefix = EXCLUDED.prefix, next_number = EXCLUDED.next_number, end_number = EXCLUDED.end_number,
			pad_length = EXCLUDED.pad_length, active = EXCLUDED.active
	`, seq.StoreID, seq.DocumentType, seq.Prefix, seq.NextNumber, seq.EndNumber, seq.PadLength, seq.Active)
	return err
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.CashShift, error) {
	return getShift(ctx, s.pool, id, false)
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, registerID string) (*domain.CashShift, error) {
	shift, err := scanShift(s.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+` FROM cash_shifts
		WHERE store_id = $1 AND register_id = $2 AND status = 'open'
	`, storeID, registerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("active shift", registerID)
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) ListCashCounts(ctx context.Context, shiftID string) ([]domain.CashCount, error) {
	return listCashCounts(ctx, s.pool, shiftID, "")
}

func (s *Store) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	return listCashMovements(ctx, s.pool, shiftID)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := getSale(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	if sale.CustomerID != "" {
		customer, err := getCustomer(ctx, s.pool, sale.CustomerID, false)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		sale.Customer = customer
	}
	return sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, storeID string, key string) (*domain.Sale, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM sales WHERE store_id = $1 AND idempotency_key = $2
	`, storeID, key).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("sale", key)
		}
		return nil, err
	}
	return s.GetSale(ctx, id)
}

func (s *Store) ListSaleReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sale_id, store_id, COALESCE(shift_id, ''), subtotal, discount, tax, total,
		       cash_refunded, credit_issued, COALESCE(reason, ''), created_by, created_at
		FROM sale_returns
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	returns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SaleReturn, error) {
		var r domain.SaleReturn
		err := row.Scan(&r.ID, &r.SaleID, &r.StoreID, &r.ShiftID, &r.Subtotal, &r.Discount, &r.Tax, &r.Total,
			&r.CashRefunded, &r.CreditIssued, &r.Reason, &r.CreatedBy, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, err
	}

	for i := range returns {
		lineRows, err := s.pool.Query(ctx, `
			SELECT id, return_id, sale_line_id, item_id, quantity, unit_cost, subtotal, discount, tax, total
			FROM sale_return_lines
			WHERE return_id = $1
			ORDER BY id
		`, returns[i].ID)
		if err != nil {
			return nil, err
		}
		returns[i].Lines, err = pgx.CollectRows(lineRows, func(row pgx.CollectableRow) (domain.SaleReturnLine, error) {
			var l domain.SaleReturnLine
			err := row.Scan(&l.ID, &l.ReturnID, &l.SaleLineID, &l.ItemID, &l.Quantity, &l.UnitCost,
				&l.Subtotal, &l.Discount, &l.Tax, &l.Total)
			return l, err
		})
		if err != nil {
			return nil, err
		}
	}
	return returns, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	if purchase.ID == "" || purchase.StoreID == "" || len(purchase.Lines) == 0 {
		return store.Validation(store.CodeInvalidInput, "purchase needs id, store and lines", nil)
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO purchases (id, store_id, supplier_id, number, status, currency, freight, other_costs,
		                       total, balance, created_at, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, purchase.ID, purchase.StoreID, purchase.SupplierID, purchase.Number, purchase.Status, purchase.Currency,
		purchase.Freight, purchase.OtherCosts, purchase.Total, purchase.Balance, purchase.CreatedAt, purchase.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Conflict(store.CodeInvalidState, "purchase already exists", map[string]any{"purchase_id": purchase.ID})
		}
		return err
	}

	batch := &pgx.Batch{}
	for i, line := range purchase.Lines {
		batch.Queue(`
			INSERT INTO purchase_lines (id, purchase_id, position, item_id, ordered_qty, received_qty, returned_qty,
			                            unit_cost, discount_amount, tax_amount, landed_unit_cost)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, line.ID, purchase.ID, i, line.ItemID, line.OrderedQty, line.ReceivedQty, line.ReturnedQty,
			line.UnitCost, line.DiscountAmount, line.TaxAmount, line.LandedUnitCost)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapWriteError(err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(ctx, s.pool, id, false)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, store_id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.StoreID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, storeID, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditLog, error) {
		var e domain.AuditLog
		err := row.Scan(&e.ID, &e.StoreID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt)
		return e, err
	})
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.Validation(store.CodeInvalidInput, "username is required", nil)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, password, role, store_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, username, user.Password, user.Role, user.StoreID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Conflict(store.CodeInvalidState, "username already exists", map[string]any{"username": username})
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.pool.QueryRow(ctx, `
		SELECT username, password, role, store_id, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound("user", username)
		}
		return nil, err
	}
	return &user, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// mapWriteError turns constraint violations that can race past the
// application checks into classified errors.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isUniqueViolation(err):
		switch constraintName(err) {
		case "sales_idempotency_uq":
			return store.Conflict(store.CodeRequestInProgress, "sale with this idempotency key already exists", nil)
		case "cash_shifts_open_register_uq":
			return store.Conflict(store.CodeShiftAlreadyOpen, "a shift is already open for this register", nil)
		default:
			return store.Conflict(store.CodeInvalidState, "record already exists",
				map[string]any{"constraint": constraintName(err)})
		}
	case isCheckViolation(err):
		if constraintName(err) == "inventory_positions_quantity_check" {
			return store.Conflict(store.CodeInsufficientStock, "inventory would go negative", nil)
		}
		return store.Validation(store.CodeInvalidInput, "value violates a constraint",
			map[string]any{"constraint": constraintName(err)})
	}
	return err
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*pgTx)(nil)
)
