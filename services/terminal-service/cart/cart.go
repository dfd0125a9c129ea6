package cart

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// Cart is an immutable cart value. Every mutation returns a new Cart and
// leaves the receiver untouched.
type Cart struct {
	lines []models.CartLine
}

// New builds a cart from lines, renumbering units so the slot invariant holds.
func New(lines ...models.CartLine) Cart {
	c := Cart{lines: make([]models.CartLine, 0, len(lines))}
	for _, l := range lines {
		l = cloneLine(l)
		l.Units = normaliseUnits(l.Units, l.Qty)
		c.lines = append(c.lines, l)
	}
	return c
}

// Lines returns a deep copy of the cart lines.
func (c Cart) Lines() []models.CartLine {
	out := make([]models.CartLine, len(c.lines))
	for i, l := range c.lines {
		out[i] = cloneLine(l)
	}
	return out
}

func (c Cart) Len() int { return len(c.lines) }

func (c Cart) IsEmpty() bool { return len(c.lines) == 0 }

// TotalQty is the number of physical units in the cart.
func (c Cart) TotalQty() int {
	n := 0
	for _, l := range c.lines {
		n += l.Qty
	}
	return n
}

// AddUnits adds qty units of p. slots carries topping choices for the new
// units; UnitIndex is relative to the added units and missing units get an
// empty slot. Adding a product already in the cart merges into its line.
func (c Cart) AddUnits(p models.Product, qty int, slots []models.UnitToppings) (Cart, error) {
	if qty < 1 {
		return c, apperrors.ErrInvalidQuantity
	}
	if len(slots) > qty {
		return c, apperrors.ErrTooManySlots
	}

	idx := c.indexOf(p.ID)
	line := cloneLine(models.CartLine{Product: p})
	if idx >= 0 {
		line = cloneLine(c.lines[idx])
	}

	added := make([]models.UnitToppings, qty)
	for i := range added {
		added[i] = models.UnitToppings{UnitIndex: i, ToppingNames: []string{}}
	}
	for _, s := range slots {
		if s.UnitIndex < 0 || s.UnitIndex >= qty {
			return c, apperrors.ErrUnitOutOfRange
		}
		names, err := resolveNames(line, s.ToppingNames)
		if err != nil {
			return c, err
		}
		added[s.UnitIndex].ToppingNames = names
	}

	for _, u := range added {
		u.UnitIndex = len(line.Units)
		line.Units = append(line.Units, u)
	}
	line.Qty += qty

	next := c.clone()
	if idx >= 0 {
		next.lines[idx] = line
	} else {
		next.lines = append(next.lines, line)
	}
	return next, nil
}

// RemoveLine drops the line for productID. Unknown ids are a no-op.
func (c Cart) RemoveLine(productID string) Cart {
	next := Cart{lines: make([]models.CartLine, 0, len(c.lines))}
	for _, l := range c.lines {
		if l.ID != productID {
			next.lines = append(next.lines, cloneLine(l))
		}
	}
	return next
}

// ChangeQty adjusts the quantity of a line. Growth appends empty slots,
// shrinking drops slots from the tail, and reaching zero removes the line.
func (c Cart) ChangeQty(productID string, delta int) (Cart, error) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return c, apperrors.ErrLineNotFound
	}
	if delta == 0 {
		return c, nil
	}

	line := cloneLine(c.lines[idx])
	newQty := line.Qty + delta
	if newQty <= 0 {
		return c.RemoveLine(productID), nil
	}

	if delta > 0 {
		for i := line.Qty; i < newQty; i++ {
			line.Units = append(line.Units, models.UnitToppings{UnitIndex: i, ToppingNames: []string{}})
		}
	} else {
		line.Units = line.Units[:newQty]
	}
	line.Qty = newQty

	next := c.clone()
	next.lines[idx] = line
	return next, nil
}

// SetToppingsForUnit replaces the topping choice of one unit. An empty list
// or the NoTopping sentinel clears the unit.
func (c Cart) SetToppingsForUnit(lineIndex, unitIndex int, toppingNames []string) (Cart, error) {
	if lineIndex < 0 || lineIndex >= len(c.lines) {
		return c, apperrors.ErrLineNotFound
	}
	line := c.lines[lineIndex]
	if unitIndex < 0 || unitIndex >= line.Qty {
		return c, apperrors.ErrUnitOutOfRange
	}

	names, err := resolveNames(line, toppingNames)
	if err != nil {
		return c, err
	}

	next := c.clone()
	next.lines[lineIndex].Units[unitIndex].ToppingNames = names
	return next, nil
}

// Clear returns an empty cart.
func (c Cart) Clear() Cart { return Cart{} }

// ToppingSummary renders per-topping unit counts for a line in first-seen
// order, e.g. "Cheese (x2), None (x1)". Lines without toppings on offer
// have no summary.
func (c Cart) ToppingSummary(lineIndex int) string {
	if lineIndex < 0 || lineIndex >= len(c.lines) {
		return ""
	}
	return summarise(c.lines[lineIndex])
}

// DisplayLines projects the cart for a customer display.
func (c Cart) DisplayLines() []models.DisplayLine {
	out := make([]models.DisplayLine, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, models.DisplayLine{
			ProductID:      l.ID,
			Name:           l.Name,
			Qty:            l.Qty,
			UnitPrice:      l.UnitPrice,
			ToppingSummary: summarise(l),
		})
	}
	return out
}

// OrderLines expands the cart to single units and groups identical units of
// the same product back together, keyed by their sorted topping codes.
// Groups keep first-seen order.
func (c Cart) OrderLines() []models.OrderLine {
	var out []models.OrderLine
	index := map[string]int{}

	for _, l := range c.lines {
		for _, u := range l.Units {
			toppings := make([]models.OrderTopping, 0, len(u.ToppingNames))
			codes := make([]string, 0, len(u.ToppingNames))
			for _, name := range u.ToppingNames {
				if !models.IsRealTopping(name) {
					continue
				}
				t, ok := l.FindTopping(name)
				if !ok || t.Code == "" {
					continue
				}
				toppings = append(toppings, models.OrderTopping{ToppingCode: t.Code})
				codes = append(codes, t.Code)
			}
			sort.Strings(codes)
			key := l.ID + "|" + strings.Join(codes, ",")

			if i, ok := index[key]; ok {
				out[i].Quantity++
				continue
			}
			index[key] = len(out)
			out = append(out, models.OrderLine{ProductCode: l.ID, Quantity: 1, Toppings: toppings})
		}
	}
	return out
}

func (c Cart) indexOf(productID string) int {
	for i, l := range c.lines {
		if l.ID == productID {
			return i
		}
	}
	return -1
}

func (c Cart) clone() Cart {
	return Cart{lines: c.Lines()}
}

func resolveNames(line models.CartLine, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		if n == models.NoTopping {
			return []string{models.NoTopping}, nil
		}
		if n == "" || seen[n] {
			continue
		}
		if _, ok := line.FindTopping(n); !ok {
			return nil, apperrors.Wrap(apperrors.ErrUnknownTopping, fmt.Errorf("%q on %s", n, line.ID))
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

func summarise(l models.CartLine) string {
	if len(l.AvailableToppings) == 0 {
		return ""
	}

	var order []string
	counts := map[string]int{}
	bump := func(name string) {
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}

	for _, u := range l.Units {
		if !u.HasToppings() {
			bump(models.NoTopping)
			continue
		}
		for _, n := range u.ToppingNames {
			if models.IsRealTopping(n) {
				bump(n)
			}
		}
	}

	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%s (x%d)", name, counts[name]))
	}
	return strings.Join(parts, ", ")
}

func normaliseUnits(units []models.UnitToppings, qty int) []models.UnitToppings {
	out := make([]models.UnitToppings, qty)
	for i := range out {
		out[i] = models.UnitToppings{UnitIndex: i, ToppingNames: []string{}}
		if i < len(units) {
			out[i].ToppingNames = append([]string{}, units[i].ToppingNames...)
		}
	}
	return out
}

func cloneLine(l models.CartLine) models.CartLine {
	out := l
	out.AvailableToppings = append([]models.Topping(nil), l.AvailableToppings...)
	out.Units = make([]models.UnitToppings, len(l.Units))
	for i, u := range l.Units {
		out.Units[i] = models.UnitToppings{
			UnitIndex:    u.UnitIndex,
			ToppingNames: append([]string{}, u.ToppingNames...),
		}
	}
	return out
}
