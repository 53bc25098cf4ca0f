// Package pricing computes line prices for catalog products and validates
// addon selections against each group's cardinality rules.
//
// All amounts are decimals rounded half up to two places. Rounding happens
// once per line, after multiplying by quantity.
package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// Places is the number of decimal places money is rounded to.
const Places = 2

// Selection is one shopper choice: a product, a quantity, and the addon ids
// picked per addon group.
type Selection struct {
	ProductID string              `json:"product_id" binding:"required"`
	Quantity  int                 `json:"quantity"   binding:"required,min=1"`
	Addons    map[string][]string `json:"addons,omitempty"` // group id -> addon ids
}

// PricedAddon is a selected addon with its parsed price.
type PricedAddon struct {
	AddonID string          `json:"addon_id"`
	GroupID string          `json:"group_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
}

// LinePrice is the priced result of one Selection.
type LinePrice struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	AddonsTotal  decimal.Decimal `json:"addons_total"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
	Addons       []PricedAddon   `json:"addons"`
}

// ParseAmount parses a catalog price string. A comma is accepted as the
// decimal separator when no dot is present ("12,90").
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrMalformedPrice
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedPrice, s)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}
	return d, nil
}

// Round2 rounds half away from zero, which is half up for the non-negative
// amounts handled here.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(Places) }

// UnitPrice returns min(price, originalPrice ?? price) rounded.
func UnitPrice(p domain.Product) (decimal.Decimal, error) {
	price, err := ParseAmount(p.Price)
	if err != nil {
		return decimal.Zero, err
	}
	if p.OriginalPrice != nil && strings.TrimSpace(*p.OriginalPrice) != "" {
		orig, err := ParseAmount(*p.OriginalPrice)
		if err != nil {
			return decimal.Zero, err
		}
		price = decimal.Min(price, orig)
	}
	return Round2(price), nil
}

// PriceLine validates sel against p and prices it. p.AddonGroups (with
// their Addons) is the addon catalog consulted.
//
// Unknown, unavailable, or repeated addon ids fail with *InvalidAddonError.
// A group whose count is below its minimum (required groups only) or above
// its maximum fails with *SelectionConstraintViolation. The function has no
// side effects.
func PriceLine(p domain.Product, sel Selection) (LinePrice, error) {
	if sel.Quantity < 1 {
		return LinePrice{}, ErrInvalidQuantity
	}
	if !p.IsAvailable {
		return LinePrice{}, ErrProductUnavailable
	}
	unit, err := UnitPrice(p)
	if err != nil {
		return LinePrice{}, err
	}

	groups := make(map[string]domain.AddonGroup, len(p.AddonGroups))
	for _, g := range p.AddonGroups {
		groups[g.ID] = g
	}

	// Unknown groups first, in a stable order.
	groupIDs := make([]string, 0, len(sel.Addons))
	for gid := range sel.Addons {
		groupIDs = append(groupIDs, gid)
	}
	sort.Strings(groupIDs)
	for _, gid := range groupIDs {
		if _, ok := groups[gid]; !ok && len(sel.Addons[gid]) > 0 {
			return LinePrice{}, &InvalidAddonError{AddonID: sel.Addons[gid][0], Reason: "group does not belong to product"}
		}
	}

	addonsTotal := decimal.Zero
	var picked []PricedAddon
	for _, g := range p.AddonGroups {
		ids := sel.Addons[g.ID]
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return LinePrice{}, &InvalidAddonError{AddonID: id, Reason: "selected more than once"}
			}
			seen[id] = struct{}{}

			a, ok := findAddon(g, id)
			if !ok {
				return LinePrice{}, &InvalidAddonError{AddonID: id, Reason: "not part of group " + g.ID}
			}
			if !a.IsAvailable {
				return LinePrice{}, &InvalidAddonError{AddonID: id, Reason: "unavailable"}
			}
			price, err := ParseAmount(a.Price)
			if err != nil {
				return LinePrice{}, err
			}
			addonsTotal = addonsTotal.Add(price)
			picked = append(picked, PricedAddon{AddonID: a.ID, GroupID: g.ID, Name: a.Name, Price: price})
		}

		count := len(ids)
		if g.IsRequired && count < g.MinSelections {
			return LinePrice{}, &SelectionConstraintViolation{GroupID: g.ID, GroupName: g.Name, Bound: BoundMin, Expected: g.MinSelections, Got: count}
		}
		if count > g.MaxSelections {
			return LinePrice{}, &SelectionConstraintViolation{GroupID: g.ID, GroupName: g.Name, Bound: BoundMax, Expected: g.MaxSelections, Got: count}
		}
	}

	subtotal := unit.Add(addonsTotal).Mul(decimal.NewFromInt(int64(sel.Quantity)))
	return LinePrice{
		ProductID:    p.ID,
		ProductName:  p.Name,
		Quantity:     sel.Quantity,
		UnitPrice:    unit,
		AddonsTotal:  Round2(addonsTotal),
		LineSubtotal: Round2(subtotal),
		Addons:       picked,
	}, nil
}

// Total sums line subtotals.
func Total(lines []LinePrice) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineSubtotal)
	}
	return Round2(total)
}

func findAddon(g domain.AddonGroup, id string) (domain.Addon, bool) {
	for _, a := range g.Addons {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Addon{}, false
}
