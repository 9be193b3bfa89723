package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

// BuildCount turns caller-supplied denomination counts into a CashCount whose
// TotalCounted is the sum of quantity * denomination.
func BuildCount(shiftID string, countType string, in domain.CurrencyCount, at time.Time) (domain.CashCount, error) {
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		return domain.CashCount{}, store.Validation(store.CodeInvalidInput, "currency is required", nil)
	}

	count := domain.CashCount{
		ID:           xid.New("cc"),
		ShiftID:      shiftID,
		Type:         countType,
		Currency:     currency,
		TotalCounted: decimal.Zero,
		Lines:        make([]domain.CashCountLine, 0, len(in.Lines)),
		CreatedAt:    at,
	}
	for _, line := range in.Lines {
		if !line.Denomination.IsPositive() || line.Quantity < 0 {
			return domain.CashCount{}, store.Validation(store.CodeInvalidInput, "denomination must be positive and quantity not negative",
				map[string]any{"currency": currency, "denomination": line.Denomination.String(), "quantity": line.Quantity})
		}
		subtotal := Money(line.Denomination.Mul(decimal.NewFromInt(line.Quantity)))
		count.Lines = append(count.Lines, domain.CashCountLine{
			Denomination: line.Denomination,
			Quantity:     line.Quantity,
			Subtotal:     subtotal,
		})
		count.TotalCounted = count.TotalCounted.Add(subtotal)
	}
	return count, nil
}

// BuildCounts builds one count per currency and rejects a currency listed twice.
func BuildCounts(shiftID string, countType string, in []domain.CurrencyCount, at time.Time) ([]domain.CashCount, error) {
	seen := make(map[string]struct{}, len(in))
	counts := make([]domain.CashCount, 0, len(in))
	for _, entry := range in {
		count, err := BuildCount(shiftID, countType, entry, at)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[count.Currency]; dup {
			return nil, store.Validation(store.CodeInvalidInput, "currency counted twice", map[string]any{"currency": count.Currency})
		}
		seen[count.Currency] = struct{}{}
		counts = append(counts, count)
	}
	return counts, nil
}

// ValidateMovement checks a movement before any lock is taken.
func ValidateMovement(direction string, amount decimal.Decimal) error {
	if direction != domain.DirectionIn && direction != domain.DirectionOut {
		return store.Validation(store.CodeInvalidDirection, fmt.Sprintf("direction must be %q or %q", domain.DirectionIn, domain.DirectionOut),
			map[string]any{"direction": direction})
	}
	if !amount.IsPositive() {
		return store.Validation(store.CodeInvalidInput, "amount must be positive", map[string]any{"amount": amount.String()})
	}
	return nil
}

// RecordMovement writes a cash event against a shift that the caller has
// locked. The shift must still be open.
func RecordMovement(ctx context.Context, tx store.Tx, shift domain.CashShift, movement domain.CashMovement) (domain.CashMovement, error) {
	if err := ValidateMovement(movement.Direction, movement.Amount); err != nil {
		return domain.CashMovement{}, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.CashMovement{}, store.Conflict(store.CodeShiftNotOpen, "shift is not open",
			map[string]any{"shift_id": shift.ID, "status": shift.Status})
	}
	if movement.ID == "" {
		movement.ID = xid.New("cm")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.ShiftID = shift.ID
	movement.Currency = strings.ToUpper(movement.Currency)
	movement.Amount = Money(movement.Amount)
	if err := tx.InsertCashMovement(ctx, movement); err != nil {
		return domain.CashMovement{}, err
	}
	return movement, nil
}

// Reconcile computes expected, counted and variance per currency. The
// currency set is the union of opening counts, movements in either direction
// and the closing payload, so a currency with nothing counted still gets a row.
// When all sources are empty the base currency is reconciled alone.
func Reconcile(opening []domain.CashCount, movements []domain.CashMovement, closing []domain.CashCount, baseCurrency string) map[string]domain.CurrencyReconciliation {
	rows := make(map[string]*domain.CurrencyReconciliation)
	row := func(currency string) *domain.CurrencyReconciliation {
		currency = strings.ToUpper(currency)
		r, ok := rows[currency]
		if !ok {
			r = &domain.CurrencyReconciliation{
				Currency: currency,
				Opening:  decimal.Zero,
				In:       decimal.Zero,
				Out:      decimal.Zero,
				Counted:  decimal.Zero,
			}
			rows[currency] = r
		}
		return r
	}

	for _, count := range opening {
		r := row(count.Currency)
		r.Opening = r.Opening.Add(count.TotalCounted)
	}
	for _, m := range movements {
		r := row(m.Currency)
		switch m.Direction {
		case domain.DirectionIn:
			r.In = r.In.Add(m.Amount)
		case domain.DirectionOut:
			r.Out = r.Out.Add(m.Amount)
		}
	}
	for _, count := range closing {
		r := row(count.Currency)
		r.Counted = r.Counted.Add(count.TotalCounted)
	}
	if len(rows) == 0 {
		row(baseCurrency)
	}

	out := make(map[string]domain.CurrencyReconciliation, len(rows))
	for currency, r := range rows {
		r.Expected = Money(r.Opening.Add(r.In).Sub(r.Out))
		r.Variance = Money(r.Counted.Sub(r.Expected))
		out[currency] = *r
	}
	return out
}

// Currencies returns the keys of a reconciliation in sorted order.
func Currencies(rec map[string]domain.CurrencyReconciliation) []string {
	keys := make([]string, 0, len(rec))
	for key := range rec {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
