// Package pricing derives cart totals. Everything here is a pure function of
// its inputs.
package pricing

import (
	"github.com/yashrajoria/pos-terminal/services/terminal-service/cart"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// ComputeTotals sums price and per-unit tax components for every unit, then
// adds each selected paid topping with its own tax components. Free or
// unresolvable toppings contribute nothing.
func ComputeTotals(c cart.Cart) models.CartTotals {
	return ComputeLines(c.Lines())
}

// ComputeLines is ComputeTotals over raw lines.
func ComputeLines(lines []models.CartLine) models.CartTotals {
	var t models.CartTotals

	for _, l := range lines {
		qty := int64(l.Qty)
		t.Subtotal += l.UnitPrice * qty
		t.TotalPB1 += l.TaxRates.PB1 * qty
		t.TotalPPN += l.TaxRates.PPN * qty
		t.TotalService += l.TaxRates.Service * qty

		for _, u := range l.Units {
			for _, name := range u.ToppingNames {
				if !models.IsRealTopping(name) {
					continue
				}
				topping, ok := l.FindTopping(name)
				if !ok || topping.IsFree {
					continue
				}
				t.Subtotal += topping.Price
				t.TotalPB1 += topping.TaxRates.PB1
				t.TotalPPN += topping.TaxRates.PPN
				t.TotalService += topping.TaxRates.Service
			}
		}
	}

	t.GrandTotal = t.Subtotal + t.TotalPB1 + t.TotalPPN + t.TotalService
	return t
}

// FinalTotal is the grand total minus a points discount, floored at zero.
func FinalTotal(t models.CartTotals, discount int64) int64 {
	if discount > t.GrandTotal {
		return 0
	}
	return t.GrandTotal - discount
}
