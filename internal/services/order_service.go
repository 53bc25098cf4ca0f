// Package services – OrderService
//
// This file implements OrderService: quoting a cart against the live
// catalog, checking out into a persisted order snapshot, listing orders, and
// moving an order through its fulfillment lifecycle.
//
// Checkout honors an optional Idempotency-Key per store: a retry with the
// same key returns the order created by the first attempt. Conversion
// events are reported in the background and never affect the result.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

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

// QuoteStage tells which funnel step a quote belongs to.
type QuoteStage string

const (
	StageCart     QuoteStage = "cart"     // reported as AddToCart
	StageCheckout QuoteStage = "checkout" // reported as InitiateCheckout
)

// Quote is a priced cart that was not persisted.
type Quote struct {
	StoreID string              `json:"store_id"`
	Lines   []pricing.LinePrice `json:"lines"`
	Total   decimal.Decimal     `json:"total"`
}

// CheckoutInput is a cart submitted for persistence.
type CheckoutInput struct {
	Source        domain.OrderSource
	CustomerName  string
	CustomerPhone string
	Items         []pricing.Selection
}

// OrderService owns carts turning into orders and the order lifecycle.
type OrderService struct {
	DB         *gorm.DB
	Conversion *conversion.Dispatcher

	// IdempotencyTTL bounds how long a checkout key replays.
	IdempotencyTTL time.Duration
}

// NewOrderService constructs an OrderService. d may be nil.
func NewOrderService(db *gorm.DB, d *conversion.Dispatcher, ttl time.Duration) *OrderService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OrderService{DB: db, Conversion: d, IdempotencyTTL: ttl}
}

// Quote prices selections against the public menu of slug.
func (s *OrderService) Quote(ctx context.Context, slug string, sels []pricing.Selection, stage QuoteStage, v conversion.Visitor) (*Quote, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Quote",
		trace.WithAttributes(
			attribute.String("store.slug", slug),
			attribute.Int("lines", len(sels)),
			attribute.String("stage", string(stage)),
		),
	)
	defer span.End()

	st, err := repo.GetStoreBySlug(ctx, s.DB, strings.TrimSpace(slug))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	lines, err := s.price(ctx, st.ID, domain.SourceDigital, sels)
	if err != nil {
		return nil, err
	}
	q := &Quote{StoreID: st.ID, Lines: lines, Total: pricing.Total(lines)}

	items := lineItems(lines)
	switch stage {
	case StageCheckout:
		background(ctx, func(ctx context.Context) { s.Conversion.TrackInitiateCheckout(ctx, v, items, q.Total) })
	default:
		for _, it := range items {
			background(ctx, func(ctx context.Context) { s.Conversion.TrackAddToCart(ctx, v, it) })
		}
	}
	return q, nil
}

// Checkout prices the cart, persists the order snapshot, and reports a
// Purchase. replayed is true when key matched an earlier checkout.
func (s *OrderService) Checkout(ctx context.Context, storeID, key string, in CheckoutInput, v conversion.Visitor) (order *domain.Order, replayed bool, err error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Checkout",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.Int("lines", len(in.Items)),
			attribute.Bool("idempotent", key != ""),
		),
	)
	defer span.End()

	if in.Source == "" {
		in.Source = domain.SourceDigital
	}
	if !in.Source.IsValid() {
		return nil, false, invalid("unknown order source %q", in.Source)
	}
	if err := ensureStore(ctx, s.DB, storeID); err != nil {
		return nil, false, err
	}

	key = strings.TrimSpace(key)
	if key != "" {
		if o, ok, err := s.replay(ctx, storeID, key); err != nil || ok {
			return o, ok, err
		}
	}

	c, err := s.fill(ctx, storeID, in.Source, in.Items)
	if err != nil {
		return nil, false, err
	}
	return s.place(ctx, storeID, key, c, in.CustomerName, in.CustomerPhone, v, nil)
}

// place submits c and persists the resulting order, the idempotency record
// for key, and whatever inTx adds, in one transaction. A Purchase is
// reported once the order is committed.
func (s *OrderService) place(ctx context.Context, storeID, key string, c *cart.Cart, name, phone string, v conversion.Visitor, inTx func(tx *gorm.DB) error) (*domain.Order, bool, error) {
	o, err := c.Submit(ctx)
	if err != nil {
		return nil, false, err
	}
	o.CustomerName = strings.TrimSpace(name)
	o.CustomerPhone = strings.TrimSpace(phone)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateOrder(ctx, tx, o); err != nil {
			return err
		}
		if inTx != nil {
			if err := inTx(tx); err != nil {
				return err
			}
		}
		if key == "" {
			return nil
		}
		_, err := repo.CreateIdempotency(ctx, tx, storeID, domain.ScopeCheckout, key, o.ID, 201, s.IdempotencyTTL)
		return err
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// a concurrent checkout with the same key committed first
		prev, ok, rerr := s.replay(ctx, storeID, key)
		if rerr != nil {
			return nil, false, rerr
		}
		if ok {
			return prev, true, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", o.ID))

	items := orderItems(o)
	total := o.TotalAmount
	orderID := o.ID
	background(ctx, func(ctx context.Context) { s.Conversion.TrackPurchase(ctx, v, orderID, items, total) })
	return o, false, nil
}

// List returns a page of orders, newest first. An empty status lists all.
func (s *OrderService) List(ctx context.Context, storeID string, status domain.OrderStatus, page, pageSize int) ([]domain.Order, int64, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("status", string(status)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !status.IsValid() {
		return nil, 0, invalid("unknown order status %q", status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if err := ensureStore(ctx, s.DB, storeID); err != nil {
		return nil, 0, err
	}
	total, err := repo.CountOrders(ctx, s.DB, storeID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}
	items, err := repo.ListOrdersPage(ctx, s.DB, storeID, status, offset, pageSize)
	return items, total, err
}

// Get returns one order of a store with its lines.
func (s *OrderService) Get(ctx context.Context, storeID, id string) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("order.id", id),
		),
	)
	defer span.End()

	o, err := repo.GetOrder(ctx, s.DB, storeID, id)
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// Advance moves an order one step along received → preparing → ready →
// delivered. A delivered order returns domain.ErrTerminalState.
func (s *OrderService) Advance(ctx context.Context, storeID, id string) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Advance",
		trace.WithAttributes(
			attribute.String("store.id", storeID),
			attribute.String("order.id", id),
		),
	)
	defer span.End()

	o, err := repo.GetOrder(ctx, s.DB, storeID, id)
	if err != nil {
		return nil, notFound(err)
	}
	from := o.Status
	if err := o.Advance(); err != nil {
		return nil, err
	}
	if err := repo.UpdateOrderStatus(ctx, s.DB, storeID, id, from, o.Status); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil, ErrConflict
		}
		return nil, notFound(err)
	}
	span.SetAttributes(attribute.String("status", string(o.Status)))
	return o, nil
}

func (s *OrderService) replay(ctx context.Context, storeID, key string) (*domain.Order, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, storeID, domain.ScopeCheckout, key, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	o, err := repo.GetOrder(ctx, s.DB, storeID, rec.ResourceID)
	if err != nil {
		return nil, false, notFound(err)
	}
	return o, true, nil
}

// price runs selections through a cart bound to the store's catalog.
func (s *OrderService) price(ctx context.Context, storeID string, source domain.OrderSource, sels []pricing.Selection) ([]pricing.LinePrice, error) {
	if len(sels) == 0 {
		return nil, cart.ErrEmptyCart
	}
	c, err := s.fill(ctx, storeID, source, sels)
	if err != nil {
		return nil, err
	}
	return c.Lines(ctx)
}

// fill builds a cart holding sels, validating each against the catalog.
func (s *OrderService) fill(ctx context.Context, storeID string, source domain.OrderSource, sels []pricing.Selection) (*cart.Cart, error) {
	c := cart.New(storeID, source, s.lookup(storeID))
	for _, sel := range sels {
		if _, _, err := c.AddLine(ctx, sel); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// lookup resolves products of storeID. Products are memoized for the life
// of the returned lookup, so a cart priced more than once in a request
// reads each product once.
func (s *OrderService) lookup(storeID string) cart.ProductLookup {
	seen := map[string]domain.Product{}
	var mu sync.Mutex
	return cart.LookupFunc(func(ctx context.Context, productID string) (domain.Product, error) {
		mu.Lock()
		p, ok := seen[productID]
		mu.Unlock()
		if ok {
			return p, nil
		}
		got, err := repo.GetProduct(ctx, s.DB, storeID, productID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Product{}, invalid("unknown product %s", productID)
			}
			return domain.Product{}, err
		}
		mu.Lock()
		seen[productID] = *got
		mu.Unlock()
		return *got, nil
	})
}

// orderItems lists the snapshot lines of o for conversion events.
func orderItems(o *domain.Order) []conversion.Item {
	out := make([]conversion.Item, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, conversion.Item{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.Add(it.AddonsTotal),
		})
	}
	return out
}
