package models

// NoTopping is the sentinel a unit carries when the cashier picked the
// explicit "no topping" option.
const NoTopping = "None"

// TaxRates are fixed per-unit amounts added on top of the price.
type TaxRates struct {
	PB1     int64 `json:"pb1"`
	PPN     int64 `json:"ppn"`
	Service int64 `json:"service"`
}

// Topping is immutable catalog reference data.
type Topping struct {
	Code     string   `json:"topping_cd"`
	Name     string   `json:"topping_nm"`
	Price    int64    `json:"price"`
	TaxRates TaxRates `json:"tax_rates"`
	IsFree   bool     `json:"is_free"`
}

// Product is what the catalog hands the terminal when a cashier adds an item.
type Product struct {
	ID                string    `json:"id" binding:"required"`
	Name              string    `json:"name" binding:"required"`
	UnitPrice         int64     `json:"price" binding:"gte=0"`
	TaxRates          TaxRates  `json:"tax_rates"`
	AvailableToppings []Topping `json:"available_toppings"`
}

// UnitToppings holds the topping choice for one physical unit of a line.
type UnitToppings struct {
	UnitIndex    int      `json:"unit_index"`
	ToppingNames []string `json:"topping_names"`
}

// HasToppings reports whether the unit carries at least one real topping.
func (u UnitToppings) HasToppings() bool {
	for _, n := range u.ToppingNames {
		if IsRealTopping(n) {
			return true
		}
	}
	return false
}

// IsRealTopping is false for blanks and the NoTopping sentinel.
func IsRealTopping(name string) bool {
	return name != "" && name != NoTopping
}

// CartLine is one product in the cart. len(Units) == Qty always holds and
// Units[i].UnitIndex == i.
type CartLine struct {
	Product
	Qty   int            `json:"qty"`
	Units []UnitToppings `json:"units"`
}

// FindTopping resolves a topping by display name.
func (l CartLine) FindTopping(name string) (Topping, bool) {
	for _, t := range l.AvailableToppings {
		if t.Name == name {
			return t, true
		}
	}
	return Topping{}, false
}

// OrderTopping and OrderLine are the backend order API line format.
type OrderTopping struct {
	ToppingCode string `json:"topping_cd"`
}

type OrderLine struct {
	ProductCode string         `json:"product_cd"`
	Quantity    int            `json:"quantity"`
	Toppings    []OrderTopping `json:"toppings"`
}

// CartTotals is derived from a cart. GrandTotal is always the sum of the
// other four fields.
type CartTotals struct {
	Subtotal     int64 `json:"subtotal"`
	TotalPB1     int64 `json:"totalPb1"`
	TotalPPN     int64 `json:"totalPpn"`
	TotalService int64 `json:"totalService"`
	GrandTotal   int64 `json:"grandTotal"`
}
