package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"

	CashCountOpening = "opening"
	CashCountClosing = "closing"

	DirectionIn  = "in"
	DirectionOut = "out"

	SaleStatusCompleted = "completed"
	SaleStatusVoid      = "void"
	SaleStatusRefunded  = "refunded"

	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCredit   = "credit"

	PurchaseStatusOrdered           = "ordered"
	PurchaseStatusPartiallyReceived = "partially_received"
	PurchaseStatusReceived          = "received"
	PurchaseStatusCancelled         = "cancelled"

	AlertSeverityWarning  = "warning"
	AlertSeverityCritical = "critical"
	AlertStatusUnread     = "unread"
	AlertStatusRead       = "read"
)

// Billing document types. NONE means an anonymous consumer.
const (
	DocumentTypeNone     = "NONE"
	DocumentTypeRNC      = "RNC"
	DocumentTypeCedula   = "CEDULA"
	DocumentTypePassport = "PASSPORT"
)

// Fiscal (NCF) document types. B01 is the credit-fiscal receipt that only a
// registered taxpayer may receive; B02 is the final-consumer receipt.
const (
	FiscalTypeCreditFiscal  = "B01"
	FiscalTypeFinalConsumer = "B02"
)

type MovementKind string

const (
	MovementPurchaseIn        MovementKind = "purchase_in"
	MovementSaleOut           MovementKind = "sale_out"
	MovementAdjustmentIn      MovementKind = "adjustment_in"
	MovementAdjustmentOut     MovementKind = "adjustment_out"
	MovementPurchaseReturnOut MovementKind = "purchase_return_out"
	MovementSaleReturnIn      MovementKind = "sale_return_in"
)

// SourceRef points at the document that caused a stock or cash movement.
type SourceRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

const (
	SourceSale           = "sale"
	SourceSaleReturn     = "sale_return"
	SourcePurchase       = "purchase"
	SourcePurchaseReturn = "purchase_return"
	SourceAdjustment     = "adjustment"
	SourceManual         = "manual"
)

// Session is the already-authenticated caller context every core operation
// receives explicitly.
type Session struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	StoreID      string `json:"store_id"`
	RegisterID   string `json:"register_id"`
	ShiftID      string `json:"shift_id,omitempty"`
	BaseCurrency string `json:"base_currency"`
}

type Item struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	StockTracked bool            `json:"stock_tracked"`
	Price        decimal.Decimal `json:"price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxInclusive bool            `json:"tax_inclusive"`
	Active       bool            `json:"active"`
}

type InventoryPosition struct {
	StoreID      string          `json:"store_id"`
	ItemID       string          `json:"item_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type StockMovement struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	ItemID    string          `json:"item_id"`
	Kind      MovementKind    `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Source    SourceRef       `json:"source"`
	Reason    string          `json:"reason,omitempty"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}

type LowStockAlert struct {
	ID           string          `json:"id"`
	StoreID      string          `json:"store_id"`
	ItemID       string          `json:"item_id"`
	Severity     string          `json:"severity"`
	Status       string          `json:"status"`
	Quantity     decimal.Decimal `json:"quantity"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	CreatedAt    time.Time       `json:"created_at"`
}

type FiscalSequence struct {
	StoreID      string `json:"store_id"`
	DocumentType string `json:"document_type"`
	Prefix       string `json:"prefix"`
	NextNumber   int64  `json:"next_number"`
	EndNumber    *int64 `json:"end_number,omitempty"`
	PadLength    int    `json:"pad_length"`
	Active       bool   `json:"active"`
}

func (s FiscalSequence) Exhausted() bool {
	return s.EndNumber != nil && s.NextNumber > *s.EndNumber
}

type FiscalNumber struct {
	DocumentType string `json:"document_type"`
	Formatted    string `json:"formatted"`
	Raw          int64  `json:"raw"`
}

type CashShift struct {
	ID         string     `json:"id"`
	StoreID    string     `json:"store_id"`
	RegisterID string     `json:"register_id"`
	OpenedBy   string     `json:"opened_by"`
	OpenedAt   time.Time  `json:"opened_at"`
	Status     string     `json:"status"`
	ClosedBy   string     `json:"closed_by,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Meta       ShiftMeta  `json:"meta"`
}

type ShiftMeta struct {
	OpeningNote    string                            `json:"opening_note,omitempty"`
	ClosingNote    string                            `json:"closing_note,omitempty"`
	Reconciliation map[string]CurrencyReconciliation `json:"reconciliation,omitempty"`
}

type CurrencyReconciliation struct {
	Currency string          `json:"currency"`
	Opening  decimal.Decimal `json:"opening"`
	In       decimal.Decimal `json:"in"`
	Out      decimal.Decimal `json:"out"`
	Expected decimal.Decimal `json:"expected"`
	Counted  decimal.Decimal `json:"counted"`
	Variance decimal.Decimal `json:"variance"`
}

type CashCount struct {
	ID           string          `json:"id"`
	ShiftID      string          `json:"shift_id"`
	Type         string          `json:"type"`
	Currency     string          `json:"currency"`
	TotalCounted decimal.Decimal `json:"total_counted"`
	Lines        []CashCountLine `json:"lines"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CashCountLine struct {
	Denomination decimal.Decimal `json:"denomination"`
	Quantity     int64           `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type CashMovement struct {
	ID        string          `json:"id"`
	ShiftID   string          `json:"shift_id"`
	Direction string          `json:"direction"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference,omitempty"`
	Source    SourceRef       `json:"source"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	DocumentType   string          `json:"document_type"`
	DocumentNumber string          `json:"document_number,omitempty"`
	IsTaxpayer     bool            `json:"is_taxpayer"`
	CreditEnabled  bool            `json:"credit_enabled"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	Balance        decimal.Decimal `json:"balance"`
}

type Sale struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	RegisterID     string          `json:"register_id"`
	ShiftID        string          `json:"shift_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Currency       string          `json:"currency"`
	Number         string          `json:"number"`
	Status         string          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountTotal  decimal.Decimal `json:"discount_total"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	Total          decimal.Decimal `json:"total"`
	PaidTotal      decimal.Decimal `json:"paid_total"`
	DueTotal       decimal.Decimal `json:"due_total"`
	BillingName    string          `json:"billing_name,omitempty"`
	DocumentType   string          `json:"document_type"`
	DocumentNumber string          `json:"document_number,omitempty"`
	IsTaxpayer     bool            `json:"is_taxpayer"`
	FiscalType     string          `json:"fiscal_type,omitempty"`
	FiscalNumber   string          `json:"fiscal_number,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []SaleLine      `json:"lines"`
	Payments       []SalePayment   `json:"payments"`
	Customer       *Customer       `json:"customer,omitempty"`
}

func (s Sale) IsCredit() bool {
	return len(s.Payments) == 1 && s.Payments[0].Method == PaymentMethodCredit
}

type SaleLine struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	ItemID          string          `json:"item_id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	LineTotal       decimal.Decimal `json:"line_total"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	StockTracked    bool            `json:"stock_tracked"`
}

// Base is quantity times unit price, before discount and tax.
func (l SaleLine) Base() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

type SalePayment struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	FXRate         decimal.Decimal `json:"fx_rate"`
	AmountInSale   decimal.Decimal `json:"amount_in_sale_currency"`
	Tendered       decimal.Decimal `json:"tendered"`
	Change         decimal.Decimal `json:"change"`
	ChangeCurrency string          `json:"change_currency,omitempty"`
	Reference      string          `json:"reference,omitempty"`
}

type SaleReturn struct {
	ID           string           `json:"id"`
	SaleID       string           `json:"sale_id"`
	StoreID      string           `json:"store_id"`
	ShiftID      string           `json:"shift_id,omitempty"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	Discount     decimal.Decimal  `json:"discount"`
	Tax          decimal.Decimal  `json:"tax"`
	Total        decimal.Decimal  `json:"total"`
	CashRefunded decimal.Decimal  `json:"cash_refunded"`
	CreditIssued decimal.Decimal  `json:"credit_issued"`
	Reason       string           `json:"reason,omitempty"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	Lines        []SaleReturnLine `json:"lines"`
}

type SaleReturnLine struct {
	ID         string          `json:"id"`
	ReturnID   string          `json:"return_id"`
	SaleLineID string          `json:"sale_line_id"`
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
}

// ReturnedLine aggregates every historical return against one sale line.
type ReturnedLine struct {
	Quantity decimal.Decimal
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

type Purchase struct {
	ID         string          `json:"id"`
	StoreID    string          `json:"store_id"`
	SupplierID string          `json:"supplier_id"`
	Number     string          `json:"number"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency"`
	Freight    decimal.Decimal `json:"freight"`
	OtherCosts decimal.Decimal `json:"other_costs"`
	Total      decimal.Decimal `json:"total"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
	Lines      []PurchaseLine  `json:"lines"`
}

type PurchaseLine struct {
	ID             string          `json:"id"`
	PurchaseID     string          `json:"purchase_id"`
	ItemID         string          `json:"item_id"`
	OrderedQty     decimal.Decimal `json:"ordered_qty"`
	ReceivedQty    decimal.Decimal `json:"received_qty"`
	ReturnedQty    decimal.Decimal `json:"returned_qty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	LandedUnitCost decimal.Decimal `json:"landed_unit_cost"`
}

// Value is the line's net document value (ordered qty at cost, less discount, plus tax).
func (l PurchaseLine) Value() decimal.Decimal {
	return l.OrderedQty.Mul(l.UnitCost).Sub(l.DiscountAmount).Add(l.TaxAmount)
}

type PurchaseReturn struct {
	ID         string               `json:"id"`
	PurchaseID string               `json:"purchase_id"`
	StoreID    string               `json:"store_id"`
	Total      decimal.Decimal      `json:"total"`
	Reason     string               `json:"reason,omitempty"`
	CreatedBy  string               `json:"created_by"`
	CreatedAt  time.Time            `json:"created_at"`
	Lines      []PurchaseReturnLine `json:"lines"`
}

type PurchaseReturnLine struct {
	PurchaseLineID string          `json:"purchase_line_id"`
	ItemID         string          `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Total          decimal.Decimal `json:"total"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
