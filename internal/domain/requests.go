package domain

import "github.com/shopspring/decimal"

type DenominationCount struct {
	Denomination decimal.Decimal `json:"denomination"`
	Quantity     int64           `json:"quantity" validate:"gte=0"`
}

type CurrencyCount struct {
	Currency string              `json:"currency" validate:"required,len=3"`
	Lines    []DenominationCount `json:"lines" validate:"dive"`
}

type OpenShiftRequest struct {
	Counts []CurrencyCount `json:"counts" validate:"dive"`
	Note   string          `json:"note,omitempty" validate:"max=500"`
}

type CloseShiftRequest struct {
	ShiftID string          `json:"shift_id" validate:"required"`
	Counts  []CurrencyCount `json:"counts" validate:"dive"`
	Note    string          `json:"note,omitempty" validate:"max=500"`
}

type CashMovementRequest struct {
	ShiftID   string          `json:"shift_id" validate:"required"`
	Direction string          `json:"direction"`
	Currency  string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"required,max=200"`
	Reference string          `json:"reference,omitempty" validate:"max=120"`
	Source    *SourceRef      `json:"source,omitempty"`
}

type SaleLineRequest struct {
	ItemID          string           `json:"item_id" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
}

type PaymentRequest struct {
	Method         string           `json:"method" validate:"required,oneof=cash card transfer credit"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	FXRate         *decimal.Decimal `json:"fx_rate,omitempty"`
	Tendered       *decimal.Decimal `json:"tendered,omitempty"`
	ChangeCurrency string           `json:"change_currency,omitempty" validate:"omitempty,len=3"`
	ChangeFXRate   *decimal.Decimal `json:"change_fx_rate,omitempty"`
	Reference      string           `json:"reference,omitempty" validate:"max=120"`
}

type SaleRequest struct {
	CustomerID     string            `json:"customer_id,omitempty"`
	Currency       string            `json:"currency,omitempty" validate:"omitempty,len=3"`
	Lines          []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
	Payments       []PaymentRequest  `json:"payments" validate:"required,min=1,dive"`
	BillingName    string            `json:"billing_name,omitempty" validate:"max=200"`
	DocumentType   string            `json:"document_type,omitempty" validate:"omitempty,oneof=NONE RNC CEDULA PASSPORT"`
	DocumentNumber string            `json:"document_number,omitempty" validate:"max=40"`
	IsTaxpayer     *bool             `json:"is_taxpayer,omitempty"`
	FiscalType     string            `json:"fiscal_type,omitempty" validate:"omitempty,oneof=B01 B02"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"max=120"`
}

type SaleReturnLineRequest struct {
	SaleLineID string           `json:"sale_line_id" validate:"required"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
}

type SaleReturnRequest struct {
	SaleID     string                  `json:"sale_id" validate:"required"`
	Lines      []SaleReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
	RefundCash bool                    `json:"refund_cash"`
	Reason     string                  `json:"reason,omitempty" validate:"max=500"`
}

type PurchaseQuantity struct {
	PurchaseLineID string          `json:"purchase_line_id" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
}

type ReceivePurchaseRequest struct {
	PurchaseID string             `json:"purchase_id" validate:"required"`
	Lines      []PurchaseQuantity `json:"lines" validate:"required,min=1,dive"`
}

type ReturnPurchaseRequest struct {
	PurchaseID string             `json:"purchase_id" validate:"required"`
	Lines      []PurchaseQuantity `json:"lines" validate:"required,min=1,dive"`
	Reason     string             `json:"reason,omitempty" validate:"max=500"`
}

type AdjustInventoryRequest struct {
	ItemID      string          `json:"item_id" validate:"required"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      string          `json:"reason" validate:"required,max=200"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RegisterID string `json:"register_id"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	RegisterID  string `json:"register_id"`
	ExpiresAt   string `json:"expires_at"`
}
