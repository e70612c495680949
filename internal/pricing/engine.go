// Package pricing computes order line amounts and order totals. Every
// function is pure; amounts stay unrounded until the final totals.
package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// Places is the number of decimal places of every persisted amount.
const Places = 2

// Line is the pricing input of one order line.
type Line struct {
	LineID       uuid.UUID
	VariantID    uuid.UUID
	Qty          int
	UnitPrice    decimal.Decimal
	LineDiscount decimal.Decimal
}

// Input is everything that determines an order's totals. Any total the
// caller may hold is deliberately absent: totals are always derived.
type Input struct {
	Lines           []Line
	CouponDiscounts []decimal.Decimal
	ShippingFee     decimal.Decimal
	Tax             decimal.Decimal
}

// LineTotal is the priced form of a Line.
type LineTotal struct {
	LineID    uuid.UUID
	VariantID uuid.UUID
	Amount    decimal.Decimal
}

// Totals is the rounded result of Compute.
type Totals struct {
	Lines       []LineTotal
	SubTotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// LineAmount returns unit_price * qty - line_discount, unrounded.
func LineAmount(unitPrice decimal.Decimal, qty int, lineDiscount decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Sub(lineDiscount)
}

// ValidateLine checks the per-line invariants.
func ValidateLine(qty int, unitPrice, lineDiscount decimal.Decimal) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be greater than zero").
			WithDetails(map[string]any{"qty": qty})
	}
	if unitPrice.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	if lineDiscount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "line discount must not be negative")
	}
	if lineDiscount.GreaterThan(unitPrice.Mul(decimal.NewFromInt(int64(qty)))) {
		return pkgerrors.New(pkgerrors.CodeValidation, "line discount exceeds line value").
			WithDetails(map[string]any{"line_discount": lineDiscount.String()})
	}
	return nil
}

// SubTotal sums the unrounded line amounts.
func SubTotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(LineAmount(line.UnitPrice, line.Qty, line.LineDiscount))
	}
	return sum
}

// CapDiscount sums coupon contributions and caps them at subTotal.
func CapDiscount(subTotal decimal.Decimal, contributions []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range contributions {
		if c.IsPositive() {
			sum = sum.Add(c)
		}
	}
	if sum.GreaterThan(subTotal) {
		return subTotal
	}
	return sum
}

// Compute derives the order totals:
//
//	total = sub_total - discount + shipping_fee + tax
//
// sub_total and discount are banker's rounded from their unrounded sums;
// line amounts are rounded for storage only.
func Compute(in Input) (Totals, error) {
	for _, line := range in.Lines {
		if err := ValidateLine(line.Qty, line.UnitPrice, line.LineDiscount); err != nil {
			return Totals{}, err
		}
	}
	if in.ShippingFee.IsNegative() {
		return Totals{}, pkgerrors.New(pkgerrors.CodeValidation, "shipping fee must not be negative")
	}
	if in.Tax.IsNegative() {
		return Totals{}, pkgerrors.New(pkgerrors.CodeValidation, "tax must not be negative")
	}

	lines := make([]LineTotal, 0, len(in.Lines))
	for _, line := range in.Lines {
		lines = append(lines, LineTotal{
			LineID:    line.LineID,
			VariantID: line.VariantID,
			Amount:    Round(LineAmount(line.UnitPrice, line.Qty, line.LineDiscount)),
		})
	}

	subTotal := SubTotal(in.Lines)
	out := Totals{
		Lines:       lines,
		SubTotal:    Round(subTotal),
		Discount:    Round(CapDiscount(subTotal, in.CouponDiscounts)),
		ShippingFee: Round(in.ShippingFee),
		Tax:         Round(in.Tax),
	}
	// total is derived from the rounded parts so the stored columns add up
	out.Total = out.SubTotal.Sub(out.Discount).Add(out.ShippingFee).Add(out.Tax)
	return out, nil
}

// Round applies banker's rounding to Places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Places)
}

// Percent returns pct% of amount, unrounded.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(decimal.NewFromInt(100))
}
