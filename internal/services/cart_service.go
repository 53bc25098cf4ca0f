// Package services – CartService
//
// CartService keeps a shopper's cart between requests. Only selections are
// stored; every read reprices them against the live catalog, and submit
// freezes the cart into an order through the same path as a one-shot
// checkout. Each edit is checked against the version the cart was read at,
// so concurrent edits of one cart surface as ErrConflict instead of a lost
// update.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/cart"
	"github.com/tbourn/go-menu-backend/internal/conversion"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/repo"
)

// CartLine is a priced cart line with the id used to edit it.
type CartLine struct {
	ID string `json:"id"`
	pricing.LinePrice
}

// CartView is a stored cart priced against the current catalog.
type CartView struct {
	ID      string             `json:"id"`
	StoreID string             `json:"store_id"`
	Source  domain.OrderSource `json:"source"`
	Version int                `json:"version"`
	Lines   []CartLine         `json:"lines"`
	Total   decimal.Decimal    `json:"total"`
}

// SubmitInput carries the customer details given at submit.
type SubmitInput struct {
	CustomerName  string
	CustomerPhone string
}

// CartService owns open carts.
type CartService struct {
	DB         *gorm.DB
	Orders     *OrderService
	Conversion *conversion.Dispatcher
}

// NewCartService returns a CartService sharing the order path of orders.
func NewCartService(orders *OrderService) *CartService {
	return &CartService{DB: orders.DB, Orders: orders, Conversion: orders.Conversion}
}

// Create opens an empty cart. An empty source means digital.
func (s *CartService) Create(ctx context.Context, storeID string, source domain.OrderSource) (*CartView, error) {
	tr := otel.Tracer("services/CartService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("store.id", storeID)))
	defer span.End()

	if source == "" {
		source = domain.SourceDigital
	}
	if !source.IsValid() {
		return nil, invalid("unknown order source %q", source)
	}
	if err := ensureStore(ctx, s.DB, storeID); err != nil {
		return nil, err
	}
	row, err := repo.CreateCart(ctx, s.DB, storeID, source)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("cart.id", row.ID))
	return s.view(ctx, row, s.restore(row))
}

// Get returns a cart priced against the current catalog. A product removed
// from the menu since it was added makes the cart fail validation until the
// line is removed.
func (s *CartService) Get(ctx context.Context, storeID, id string) (*CartView, error) {
	tr := otel.Tracer("services/CartService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("cart.id", id),
		),
	)
	defer span.End()

	row, c, err := s.load(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, row, c)
}

// AddLine validates sel and appends it, reporting an AddToCart. It returns
// the updated cart and the new line's id.
func (s *CartService) AddLine(ctx context.Context, storeID, id string, sel pricing.Selection, v conversion.Visitor) (*CartView, string, error) {
	tr := otel.Tracer("services/CartService")
	ctx, span := tr.Start(ctx, "AddLine",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("cart.id", id),
			attribute.String("product.id", sel.ProductID),
		),
	)
	defer span.End()

	row, c, err := s.load(ctx, storeID, id)
	if err != nil {
		return nil, "", err
	}
	lineID, lp, err := c.AddLine(ctx, sel)
	if err != nil {
		return nil, "", err
	}
	if err := s.save(ctx, row, c); err != nil {
		return nil, "", err
	}
	cv, err := s.view(ctx, row, c)
	if err != nil {
		return nil, "", err
	}
	item := lineItems([]pricing.LinePrice{lp})[0]
	background(ctx, func(ctx context.Context) { s.Conversion.TrackAddToCart(ctx, v, item) })
	return cv, lineID, nil
}

// UpdateLine sets a line's quantity. Zero removes the line.
func (s *CartService) UpdateLine(ctx context.Context, storeID, id, lineID string, qty int) (*CartView, error) {
	tr := otel.Tracer("services/CartService")
	ctx, span := tr.Start(ctx, "UpdateLine",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("cart.id", id),
			attribute.String("line.id", lineID),
			attribute.Int("quantity", qty),
		),
	)
	defer span.End()

	row, c, err := s.load(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if err := c.UpdateQuantity(ctx, lineID, qty); err != nil {
		return nil, lineErr(err)
	}
	if err := s.save(ctx, row, c); err != nil {
		return nil, err
	}
	return s.view(ctx, row, c)
}

// RemoveLine drops a line.
func (s *CartService) RemoveLine(ctx context.Context, storeID, id, lineID string) (*CartView, error) {
	tr := otel.Tracer("services/CartService")
	ctx, span := tr.Start(ctx, "RemoveLine",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("cart.id", id),
			attribute.String("line.id", lineID),
		),
	)
	defer span.End()

	row, c, err := s.load(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if err := c.RemoveLine(lineID); err != nil {
		return nil, lineErr(err)
	}
	if err := s.save(ctx, row, c); err != nil {
		return nil, err
	}
	return s.view(ctx, row, c)
}

// Submit turns the cart into an order and removes it. key behaves as on
// checkout: a retry with the same key returns the first order, even though
// the cart is gone by then.
func (s *CartService) Submit(ctx context.Context, storeID, id, key string, in SubmitInput, v conversion.Visitor) (*domain.Order, bool, error) {
	tr := otel.Tracer("services/CartService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("cart.id", id),
			attribute.Bool("idempotent", key != ""),
		),
	)
	defer span.End()

	key = strings.TrimSpace(key)
	if key != "" {
		if o, ok, err := s.Orders.replay(ctx, storeID, key); err != nil || ok {
			return o, ok, err
		}
	}

	row, c, err := s.load(ctx, storeID, id)
	if err != nil {
		return nil, false, err
	}
	o, replayed, err := s.Orders.place(ctx, storeID, key, c, in.CustomerName, in.CustomerPhone, v, func(tx *gorm.DB) error {
		return repo.DeleteCart(ctx, tx, storeID, row.ID, row.Version)
	})
	if errors.Is(err, repo.ErrStaleCart) {
		return nil, false, ErrConflict
	}
	return o, replayed, err
}

// load reads a cart row and rebuilds the aggregate over it.
func (s *CartService) load(ctx context.Context, storeID, id string) (*domain.Cart, *cart.Cart, error) {
	if err := ensureStore(ctx, s.DB, storeID); err != nil {
		return nil, nil, err
	}
	row, err := repo.GetCart(ctx, s.DB, storeID, id)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return row, s.restore(row), nil
}

func (s *CartService) restore(row *domain.Cart) *cart.Cart {
	lines := make([]cart.Line, 0, len(row.Lines))
	for _, l := range row.Lines {
		lines = append(lines, cart.Line{
			ID:        l.ID,
			Selection: pricing.Selection{ProductID: l.ProductID, Quantity: l.Quantity, Addons: l.Addons},
		})
	}
	return cart.Restore(row.StoreID, row.Source, s.Orders.lookup(row.StoreID), lines)
}

// save writes the aggregate's lines back at the version row was read.
func (s *CartService) save(ctx context.Context, row *domain.Cart, c *cart.Cart) error {
	items := c.Items()
	lines := make([]domain.CartLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.CartLine{
			ID:        it.ID,
			ProductID: it.Selection.ProductID,
			Quantity:  it.Selection.Quantity,
			Addons:    it.Selection.Addons,
		})
	}
	if err := repo.SaveCartLines(ctx, s.DB, row, lines); err != nil {
		if errors.Is(err, repo.ErrStaleCart) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *CartService) view(ctx context.Context, row *domain.Cart, c *cart.Cart) (*CartView, error) {
	priced, err := c.Lines(ctx)
	if err != nil {
		return nil, err
	}
	total, err := c.Total(ctx)
	if err != nil {
		return nil, err
	}
	items := c.Items()
	out := &CartView{
		ID:      row.ID,
		StoreID: row.StoreID,
		Source:  row.Source,
		Version: row.Version,
		Lines:   make([]CartLine, 0, len(priced)),
		Total:   total,
	}
	for i, lp := range priced {
		out.Lines = append(out.Lines, CartLine{ID: items[i].ID, LinePrice: lp})
	}
	return out, nil
}

// lineErr reports a missing line as ErrNotFound.
func lineErr(err error) error {
	if errors.Is(err, cart.ErrLineNotFound) {
		return ErrNotFound
	}
	return err
}
