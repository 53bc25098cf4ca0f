// Package cart implements the shopper cart: a mutable set of product
// selections whose prices are always recomputed from the current catalog,
// and which freezes into an Order snapshot on submit.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/pricing"
)

var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrLineNotFound = errors.New("cart line not found")
	ErrSubmitted    = errors.New("cart already submitted")
)

// ProductLookup resolves a product, with its addon groups and addons, from
// the store's current catalog.
type ProductLookup interface {
	Product(ctx context.Context, productID string) (domain.Product, error)
}

// LookupFunc adapts a function to ProductLookup.
type LookupFunc func(ctx context.Context, productID string) (domain.Product, error)

// Product implements ProductLookup.
func (f LookupFunc) Product(ctx context.Context, productID string) (domain.Product, error) {
	return f(ctx, productID)
}

// Line is one cart entry.
type Line struct {
	ID        string
	Selection pricing.Selection
}

// Cart is safe for concurrent use. Each mutation is applied atomically, so
// readers never see a half-updated line.
type Cart struct {
	StoreID string
	Source  domain.OrderSource

	lookup ProductLookup

	mu        sync.Mutex
	lines     []Line
	submitted bool
}

// New returns an empty cart for a store.
func New(storeID string, source domain.OrderSource, lookup ProductLookup) *Cart {
	if !source.IsValid() {
		source = domain.SourceDigital
	}
	return &Cart{StoreID: storeID, Source: source, lookup: lookup}
}

// Restore rebuilds a cart from previously stored lines. Line ids are kept;
// prices are not, they are recomputed on every read.
func Restore(storeID string, source domain.OrderSource, lookup ProductLookup, lines []Line) *Cart {
	c := New(storeID, source, lookup)
	c.lines = make([]Line, 0, len(lines))
	for _, l := range lines {
		c.lines = append(c.lines, Line{ID: l.ID, Selection: cloneSelection(l.Selection)})
	}
	return c
}

// Items returns a copy of the current lines, in order.
func (c *Cart) Items() []Line {
	out := c.snapshot()
	for i := range out {
		out[i].Selection = cloneSelection(out[i].Selection)
	}
	return out
}

// AddLine validates sel against the catalog and appends it.
func (c *Cart) AddLine(ctx context.Context, sel pricing.Selection) (string, pricing.LinePrice, error) {
	lp, err := c.price(ctx, sel)
	if err != nil {
		return "", pricing.LinePrice{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted {
		return "", pricing.LinePrice{}, ErrSubmitted
	}
	id := uuid.NewString()
	c.lines = append(c.lines, Line{ID: id, Selection: cloneSelection(sel)})
	return id, lp, nil
}

// UpdateQuantity sets a line's quantity. Zero removes the line.
func (c *Cart) UpdateQuantity(ctx context.Context, lineID string, qty int) error {
	if qty == 0 {
		return c.RemoveLine(lineID)
	}
	if qty < 0 {
		return pricing.ErrInvalidQuantity
	}

	c.mu.Lock()
	idx := c.indexOf(lineID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrLineNotFound
	}
	sel := cloneSelection(c.lines[idx].Selection)
	c.mu.Unlock()

	sel.Quantity = qty
	if _, err := c.price(ctx, sel); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted {
		return ErrSubmitted
	}
	// the line may have been removed while pricing
	if idx = c.indexOf(lineID); idx < 0 {
		return ErrLineNotFound
	}
	c.lines[idx].Selection.Quantity = qty
	return nil
}

// RemoveLine drops a line.
func (c *Cart) RemoveLine(lineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted {
		return ErrSubmitted
	}
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	return nil
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Lines prices every line against the current catalog.
func (c *Cart) Lines(ctx context.Context) ([]pricing.LinePrice, error) {
	snapshot := c.snapshot()
	out := make([]pricing.LinePrice, 0, len(snapshot))
	for _, l := range snapshot {
		lp, err := c.price(ctx, l.Selection)
		if err != nil {
			return nil, err
		}
		out = append(out, lp)
	}
	return out, nil
}

// Total is the sum of line subtotals, recomputed on every call.
func (c *Cart) Total(ctx context.Context) (decimal.Decimal, error) {
	lines, err := c.Lines(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return pricing.Total(lines), nil
}

// Submit freezes the cart into a new Order in received status. Product and
// addon names and prices are copied into the order so later catalog edits
// never alter it. The returned order is not persisted.
func (c *Cart) Submit(ctx context.Context) (*domain.Order, error) {
	c.mu.Lock()
	if c.submitted {
		c.mu.Unlock()
		return nil, ErrSubmitted
	}
	if len(c.lines) == 0 {
		c.mu.Unlock()
		return nil, ErrEmptyCart
	}
	c.mu.Unlock()

	lines, err := c.Lines(ctx)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitted {
		return nil, ErrSubmitted
	}
	c.submitted = true
	return BuildOrder(c.StoreID, c.Source, lines), nil
}

// BuildOrder snapshots priced lines into an unsaved order.
func BuildOrder(storeID string, source domain.OrderSource, lines []pricing.LinePrice) *domain.Order {
	o := &domain.Order{
		ID:          uuid.NewString(),
		StoreID:     storeID,
		Status:      domain.OrderReceived,
		Source:      source,
		TotalAmount: pricing.Total(lines),
		CreatedAt:   time.Now().UTC(),
	}
	for i, lp := range lines {
		item := domain.OrderItem{
			ID:           uuid.NewString(),
			OrderID:      o.ID,
			ProductID:    lp.ProductID,
			ProductName:  lp.ProductName,
			Quantity:     lp.Quantity,
			UnitPrice:    lp.UnitPrice,
			AddonsTotal:  lp.AddonsTotal,
			LineSubtotal: lp.LineSubtotal,
			Position:     i,
		}
		for _, a := range lp.Addons {
			item.Addons = append(item.Addons, domain.OrderItemAddon{
				ID:          uuid.NewString(),
				OrderItemID: item.ID,
				AddonID:     a.AddonID,
				GroupID:     a.GroupID,
				Name:        a.Name,
				Price:       a.Price,
			})
		}
		o.Items = append(o.Items, item)
	}
	return o
}

func (c *Cart) price(ctx context.Context, sel pricing.Selection) (pricing.LinePrice, error) {
	p, err := c.lookup.Product(ctx, sel.ProductID)
	if err != nil {
		return pricing.LinePrice{}, err
	}
	return pricing.PriceLine(p, sel)
}

func (c *Cart) snapshot() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// indexOf must be called with c.mu held.
func (c *Cart) indexOf(lineID string) int {
	for i, l := range c.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func cloneSelection(s pricing.Selection) pricing.Selection {
	out := pricing.Selection{ProductID: s.ProductID, Quantity: s.Quantity}
	if len(s.Addons) > 0 {
		out.Addons = make(map[string][]string, len(s.Addons))
		for g, ids := range s.Addons {
			out.Addons[g] = append([]string(nil), ids...)
		}
	}
	return out
}
