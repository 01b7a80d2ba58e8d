// Package money compares client-declared amounts with provider-confirmed ones.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTolerance absorbs rounding drift between two independent systems.
var DefaultTolerance = decimal.New(1, -2)

// WithinTolerance reports whether |requested - authoritative| <= tolerance.
func WithinTolerance(requested, authoritative, tolerance decimal.Decimal) bool {
	return requested.Sub(authoritative).Abs().LessThanOrEqual(tolerance)
}

// ValidateAmount is WithinTolerance for float inputs. The optional tolerance defaults to 0.01.
// Floats are converted through their shortest decimal representation, so 100.005 compares
// as exactly 100.005.
func ValidateAmount(requested, authoritative float64, tolerance ...float64) bool {
	tol := DefaultTolerance
	if len(tolerance) > 0 {
		tol = decimal.NewFromFloat(tolerance[0])
	}
	return WithinTolerance(decimal.NewFromFloat(requested), decimal.NewFromFloat(authoritative), tol)
}

// ParseTolerance parses a configured tolerance. An empty string yields DefaultTolerance.
func ParseTolerance(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTolerance, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: invalid tolerance %q: %w", raw, err)
	}
	if tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("money: tolerance %q must not be negative", raw)
	}
	return tol, nil
}

// SameCurrency compares ISO currency codes case-insensitively. An empty code on
// either side matches, since some providers omit it for single-currency accounts.
func SameCurrency(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}

// Total sums unit price times quantity across line items, rounded to cents.
func Total(lines ...Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum.Round(2)
}

// Line is one priced item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}
