package store

import (
	"context"

	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
)

// Repository is the persistence boundary. Mutations that must be atomic go
// through WithinTx; everything else is a plain read or a setup write.
type Repository interface {
	// WithinTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write fn made.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error)
	SaveItem(ctx context.Context, item domain.Item) error
	GetInventory(ctx context.Context, storeID string, itemID string) (*domain.InventoryPosition, error)
	SaveInventory(ctx context.Context, position domain.InventoryPosition) error
	ListStockMovements(ctx context.Context, storeID string, itemID string) ([]domain.StockMovement, error)
	ListLowStockAlerts(ctx context.Context, storeID string) ([]domain.LowStockAlert, error)

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SaveCustomer(ctx context.Context, customer domain.Customer) error

	PeekSequence(ctx context.Context, storeID string, documentType string) (*domain.FiscalSequence, error)
	SaveSequence(ctx context.Context, seq domain.FiscalSequence) error

	GetShift(ctx context.Context, id string) (*domain.CashShift, error)
	GetActiveShift(ctx context.Context, storeID string, registerID string) (*domain.CashShift, error)
	ListCashCounts(ctx context.Context, shiftID string) ([]domain.CashCount, error)
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, storeID string, key string) (*domain.Sale, error)
	ListSaleReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}

// Tx is one unit of work. Lock* methods take an exclusive row lock that is
// held until the transaction ends and returns a NotFound error for a missing
// row unless documented otherwise. Callers acquire locks in this order:
// shift, sale, purchase, customer, inventory rows ascending by item id,
// document counters, fiscal sequence.
type Tx interface {
	// Nested runs fn inside a savepoint. When fn fails only its own writes
	// are undone and the outer transaction stays usable.
	Nested(ctx context.Context, fn func(tx Tx) error) error

	HasOpenShift(ctx context.Context, storeID string, registerID string) (bool, error)
	// InsertShift returns a shift_already_open Conflict when another open
	// shift exists for the register.
	InsertShift(ctx context.Context, shift domain.CashShift) error
	LockShift(ctx context.Context, shiftID string) (*domain.CashShift, error)
	UpdateShift(ctx context.Context, shift domain.CashShift) error
	ListCashCounts(ctx context.Context, shiftID string, countType string) ([]domain.CashCount, error)
	DeleteCashCounts(ctx context.Context, shiftID string, countType string) error
	InsertCashCount(ctx context.Context, count domain.CashCount) error
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)
	InsertCashMovement(ctx context.Context, movement domain.CashMovement) error

	GetItems(ctx context.Context, ids []string) (map[string]domain.Item, error)
	// LockInventory locks the positions for itemIDs in ascending id order.
	// Missing positions are created at zero quantity and cost.
	LockInventory(ctx context.Context, storeID string, itemIDs []string) (map[string]domain.InventoryPosition, error)
	UpdateInventory(ctx context.Context, position domain.InventoryPosition) error
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error
	// UpsertLowStockAlert is a no-op when an unread alert with the same
	// store, item and severity exists.
	UpsertLowStockAlert(ctx context.Context, alert domain.LowStockAlert) error

	LockCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	UpdateCustomerBalance(ctx context.Context, customerID string, balance decimal.Decimal) error

	// LockSequence returns nil, nil when no sequence row exists.
	LockSequence(ctx context.Context, storeID string, documentType string) (*domain.FiscalSequence, error)
	SetSequenceNext(ctx context.Context, storeID string, documentType string, next int64) error
	// NextCounter increments and returns a per-store document counter,
	// creating it at 1.
	NextCounter(ctx context.Context, storeID string, name string) (int64, error)

	InsertSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, saleID string) (*domain.Sale, error)
	UpdateSaleStatus(ctx context.Context, saleID string, status string) error
	ReturnedBySaleLine(ctx context.Context, saleID string) (map[string]domain.ReturnedLine, error)
	InsertSaleReturn(ctx context.Context, ret domain.SaleReturn) error

	LockPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error)
	UpdatePurchase(ctx context.Context, purchase domain.Purchase) error
	InsertPurchaseReturn(ctx context.Context, ret domain.PurchaseReturn) error
}
