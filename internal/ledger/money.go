package ledger

import "github.com/shopspring/decimal"

const (
	MoneyPlaces = 2
	CostPlaces  = 4
)

var (
	// Tolerance is the largest rounding gap accepted between two money amounts.
	Tolerance = decimal.New(1, -MoneyPlaces)
	hundred   = decimal.NewFromInt(100)
)

func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func Cost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostPlaces)
}

// Percent returns pct percent of base, rounded to cents.
func Percent(base decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return Money(base.Mul(pct).Div(hundred))
}

// WithinTolerance reports whether a and b differ by at most Tolerance.
func WithinTolerance(a decimal.Decimal, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
