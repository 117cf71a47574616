package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

const moneyPlaces = 2

// TaxCalculator applies a single flat tax rate. Prices handed to the platform include tax;
// rounding to cents happens only on aggregates.
type TaxCalculator struct{}

// NewTaxCalculator returns a calculator. It carries no state.
func NewTaxCalculator() TaxCalculator {
	return TaxCalculator{}
}

// Apply rounds subtotal to cents, computes tax on it and rounds the tax half up.
func (TaxCalculator) Apply(subtotal, rate decimal.Decimal) domain.TaxBreakdown {
	sub := subtotal.Round(moneyPlaces)
	tax := sub.Mul(rate).Round(moneyPlaces)
	return domain.TaxBreakdown{
		Subtotal: sub,
		Tax:      tax,
		Total:    sub.Add(tax),
	}
}

// CombineSubtotals rounds each part to cents and sums the rounded parts.
func (TaxCalculator) CombineSubtotals(parts ...decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, part := range parts {
		sum = sum.Add(part.Round(moneyPlaces))
	}
	return sum
}

// ExcludeTax strips tax from a tax-inclusive price without rounding.
func (TaxCalculator) ExcludeTax(price, rate decimal.Decimal) decimal.Decimal {
	return price.Div(decimal.NewFromInt(1).Add(rate))
}

// Split derives subtotal and tax from a tax-inclusive total so that Subtotal + Tax == Total.
func (t TaxCalculator) Split(total, rate decimal.Decimal) domain.TaxBreakdown {
	rounded := total.Round(moneyPlaces)
	sub := t.ExcludeTax(rounded, rate).Round(moneyPlaces)
	return domain.TaxBreakdown{
		Subtotal: sub,
		Tax:      rounded.Sub(sub),
		Total:    rounded,
	}
}
