// Package seed holds the demo dataset used by the in-memory store and, on
// request, loaded into an empty postgres database.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

// StoreID is the store every seeded row belongs to.
const StoreID = "main-store"

type Fixtures struct {
	Items     []domain.Item
	Positions []domain.InventoryPosition
	Customers []domain.Customer
	Sequences []domain.FiscalSequence
	Purchases []domain.Purchase
	Users     []domain.UserAccount
}

// Demo returns a small catalog, stock, customers, fiscal sequences, an open
// purchase and two users. Passwords come from SEED_ADMIN_PASSWORD and
// SEED_CASHIER_PASSWORD, with dev defaults.
func Demo(now time.Time) (Fixtures, error) {
	users, err := demoUsers(now)
	if err != nil {
		return Fixtures{}, err
	}

	f := Fixtures{
		Items: []domain.Item{
			{ID: "ITEM-ARROZ", SKU: "ARROZ-1KG", Name: "Arroz 1kg", StockTracked: true, Price: dec("65.00"), TaxRate: dec("18"), Active: true},
			{ID: "ITEM-ACEITE", SKU: "ACEITE-1L", Name: "Aceite 1L", StockTracked: true, Price: dec("210.00"), TaxRate: dec("18"), Active: true},
			{ID: "ITEM-CAFE", SKU: "CAFE-250", Name: "Cafe 250g", StockTracked: true, Price: dec("150.00"), TaxRate: dec("18"), TaxInclusive: true, Active: true},
			{ID: "ITEM-PAN", SKU: "PAN-SOBAO", Name: "Pan sobao", StockTracked: true, Price: dec("10.00"), TaxRate: decimal.Zero, Active: true},
			{ID: "ITEM-SERV", SKU: "SERV-DELIV", Name: "Delivery fee", StockTracked: false, Price: dec("100.00"), TaxRate: dec("18"), Active: true},
		},
		Customers: []domain.Customer{
			{ID: "CUST-CONSUMER", Name: "Consumidor final", DocumentType: domain.DocumentTypeNone},
			{ID: "CUST-COLMADO", Name: "Colmado La Esquina", DocumentType: domain.DocumentTypeRNC, DocumentNumber: "131000001",
				IsTaxpayer: true, CreditEnabled: true, CreditLimit: dec("50000.00"), Balance: decimal.Zero},
			{ID: "CUST-JUAN", Name: "Juan Perez", DocumentType: domain.DocumentTypeCedula, DocumentNumber: "00112345678",
				CreditEnabled: true, CreditLimit: dec("1000.00"), Balance: dec("950.00")},
		},
		Users: users,
	}

	for _, pos := range []domain.InventoryPosition{
		{ItemID: "ITEM-ARROZ", Quantity: dec("120"), AverageCost: dec("48.50"), ReorderPoint: dec("20")},
		{ItemID: "ITEM-ACEITE", Quantity: dec("60"), AverageCost: dec("165.00"), ReorderPoint: dec("10")},
		{ItemID: "ITEM-CAFE", Quantity: dec("40"), AverageCost: dec("110.00"), ReorderPoint: dec("8")},
		{ItemID: "ITEM-PAN", Quantity: dec("200"), AverageCost: dec("6.00"), ReorderPoint: dec("30")},
	} {
		pos.StoreID = StoreID
		pos.UpdatedAt = now
		f.Positions = append(f.Positions, pos)
	}

	b01End := int64(99999999)
	f.Sequences = []domain.FiscalSequence{
		{StoreID: StoreID, DocumentType: domain.FiscalTypeCreditFiscal, Prefix: "B01", NextNumber: 1, EndNumber: &b01End, PadLength: 8, Active: true},
		{StoreID: StoreID, DocumentType: domain.FiscalTypeFinalConsumer, Prefix: "B02", NextNumber: 1, PadLength: 8, Active: true},
	}

	f.Purchases = []domain.Purchase{{
		ID:         "PO-SEED-1",
		StoreID:    StoreID,
		SupplierID: "SUP-DISTRIBUIDORA",
		Number:     "PO-000001",
		Status:     domain.PurchaseStatusOrdered,
		Currency:   "DOP",
		Freight:    dec("100.00"),
		OtherCosts: decimal.Zero,
		Total:      dec("6100.00"),
		Balance:    dec("6100.00"),
		CreatedAt:  now,
		Lines: []domain.PurchaseLine{
			{ID: "PO-SEED-1-L1", PurchaseID: "PO-SEED-1", ItemID: "ITEM-ARROZ", OrderedQty: dec("100"), ReceivedQty: decimal.Zero,
				ReturnedQty: decimal.Zero, UnitCost: dec("50.00"), DiscountAmount: decimal.Zero, TaxAmount: decimal.Zero},
			{ID: "PO-SEED-1-L2", PurchaseID: "PO-SEED-1", ItemID: "ITEM-PAN", OrderedQty: dec("100"), ReceivedQty: decimal.Zero,
				ReturnedQty: decimal.Zero, UnitCost: dec("10.00"), DiscountAmount: decimal.Zero, TaxAmount: decimal.Zero},
		},
	}}
	return f, nil
}

// Apply writes f through the repository's setup methods. It does nothing
// when the first item already exists, so restarting against a seeded
// database never resets stock or balances.
func Apply(ctx context.Context, repo store.Repository, f Fixtures) error {
	if len(f.Items) > 0 {
		existing, err := repo.GetItems(ctx, []string{f.Items[0].ID})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
	}

	for _, item := range f.Items {
		if err := repo.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %s: %w", item.ID, err)
		}
	}
	for _, pos := range f.Positions {
		if err := repo.SaveInventory(ctx, pos); err != nil {
			return fmt.Errorf("seed inventory %s: %w", pos.ItemID, err)
		}
	}
	for _, customer := range f.Customers {
		if err := repo.SaveCustomer(ctx, customer); err != nil {
			return fmt.Errorf("seed customer %s: %w", customer.ID, err)
		}
	}
	for _, seq := range f.Sequences {
		if err := repo.SaveSequence(ctx, seq); err != nil {
			return fmt.Errorf("seed sequence %s: %w", seq.DocumentType, err)
		}
	}
	for _, purchase := range f.Purchases {
		if err := repo.CreatePurchase(ctx, purchase); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed purchase %s: %w", purchase.ID, err)
		}
	}
	for _, user := range f.Users {
		if err := repo.CreateUser(ctx, user); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("seed user %s: %w", user.Username, err)
		}
	}
	return nil
}

func demoUsers(now time.Time) ([]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logrus.Warn("seed: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   StoreID,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users, nil
}

func envOr(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
