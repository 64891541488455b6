package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Totals struct {
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	DeliveryCost decimal.Decimal
	Total        decimal.Decimal
}

// ComputeTotals derives the order totals from resolved price snapshots.
// Option prices count once per unit of the line they belong to.
func ComputeTotals(items []LineItem, discount, deliveryCost decimal.Decimal) (Totals, error) {
	subtotal := decimal.Zero
	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(item.UnitPrice.Mul(qty))
		for _, opt := range item.Options {
			subtotal = subtotal.Add(opt.Price.Mul(qty))
		}
	}

	if discount.IsNegative() {
		return Totals{}, fmt.Errorf("%w: discount cannot be negative", ErrValidation)
	}
	if discount.GreaterThan(subtotal) {
		return Totals{}, fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrValidation, discount.StringFixed(2), subtotal.StringFixed(2))
	}
	if deliveryCost.IsNegative() {
		return Totals{}, fmt.Errorf("%w: delivery cost cannot be negative", ErrValidation)
	}
	if !WholeCents(discount) || !WholeCents(deliveryCost) {
		return Totals{}, fmt.Errorf("%w: discount and delivery cost must not have fractions of a cent", ErrValidation)
	}

	return Totals{
		Subtotal:     subtotal,
		Discount:     discount,
		DeliveryCost: deliveryCost,
		Total:        subtotal.Sub(discount).Add(deliveryCost),
	}, nil
}

// WholeCents reports whether amount fits the two fractional digits money is
// stored with.
func WholeCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

// Consistent reports whether total == subtotal - discount + deliveryCost.
func (t Totals) Consistent() bool {
	return t.Total.Equal(t.Subtotal.Sub(t.Discount).Add(t.DeliveryCost))
}

func (o *Order) Totals() Totals {
	return Totals{
		Subtotal:     o.Subtotal,
		Discount:     o.Discount,
		DeliveryCost: o.DeliveryCost,
		Total:        o.Total,
	}
}
