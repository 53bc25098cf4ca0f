package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/tbourn/go-menu-backend/internal/config"
)

// ErrDispatch wraps every failed delivery.
var ErrDispatch = errors.New("conversion: dispatch failed")

// Result reports what happened to one event. It is never an error the
// caller has to act on.
type Result struct {
	EventID    string
	Sent       bool
	Skipped    bool // dispatcher disabled
	StatusCode int
	Err        error
}

// Item is a priced product line used to fill custom data.
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Dispatcher sends one event per HTTP call, without batching, queueing or
// retries. A nil *Dispatcher is valid and skips everything.
type Dispatcher struct {
	endpoint string
	token    string
	testCode string
	currency currency.Unit
	client   *http.Client
	now      func() time.Time
	newID    func() string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// WithClock replaces the event clock.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithCurrency sets the currency reported with monetary events.
func WithCurrency(u currency.Unit) Option { return func(d *Dispatcher) { d.currency = u } }

// WithIDGenerator replaces the event id generator.
func WithIDGenerator(f func() string) Option { return func(d *Dispatcher) { d.newID = f } }

// NewDispatcher builds a dispatcher from cfg. An empty endpoint yields a
// dispatcher that builds envelopes but never sends them.
func NewDispatcher(cfg config.ConversionConfig, opts ...Option) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		endpoint: strings.ReplaceAll(strings.TrimSpace(cfg.Endpoint), "{pixel_id}", cfg.PixelID),
		token:    cfg.AccessToken,
		testCode: cfg.TestEventCode,
		currency: currency.BRL,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Enabled reports whether events are actually sent.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.endpoint != ""
}

// NewEnvelope builds an envelope with a fresh event_id.
func (d *Dispatcher) NewEnvelope(name EventName, v Visitor, custom CustomData) Envelope {
	return Envelope{
		EventName:      name,
		EventTime:      d.now().Unix(),
		ActionSource:   ActionSourceWebsite,
		EventSourceURL: v.SourceURL,
		EventID:        d.newID(),
		UserData:       HashUserData(v),
		CustomData:     custom,
	}
}

type request struct {
	Data          []Envelope `json:"data"`
	AccessToken   string     `json:"access_token"`
	TestEventCode string     `json:"test_event_code,omitempty"`
}

// Send delivers env once. Sending the same envelope again reuses its
// event_id, which is how a caller retries.
func (d *Dispatcher) Send(ctx context.Context, env Envelope) (res Result) {
	res.EventID = env.EventID
	if !d.Enabled() {
		res.Skipped = true
		observe(env.EventName, "skipped")
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			res.Sent = false
			res.Err = fmt.Errorf("%w: panic: %v", ErrDispatch, r)
		}
		if res.Err != nil {
			observe(env.EventName, "failed")
			log.Warn().Err(res.Err).
				Str("event_name", string(env.EventName)).
				Str("event_id", env.EventID).
				Msg("conversion: event not delivered")
			return
		}
		observe(env.EventName, "sent")
	}()

	body, err := json.Marshal(request{Data: []Envelope{env}, AccessToken: d.token, TestEventCode: d.testCode})
	if err != nil {
		res.Err = fmt.Errorf("%w: marshal: %v", ErrDispatch, err)
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("%w: create request: %v", ErrDispatch, err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrDispatch, err)
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = fmt.Errorf("%w: status %d", ErrDispatch, resp.StatusCode)
		return res
	}
	res.Sent = true
	return res
}

func (d *Dispatcher) track(ctx context.Context, name EventName, v Visitor, custom CustomData) Result {
	if d == nil {
		return Result{Skipped: true}
	}
	return d.Send(ctx, d.NewEnvelope(name, v, custom))
}

func money(v decimal.Decimal) *float64 {
	f := v.Round(2).InexactFloat64()
	return &f
}

func itemsData(items []Item) (ids []string, contents []Content, n int, value decimal.Decimal) {
	value = decimal.Zero
	for _, it := range items {
		ids = append(ids, it.ProductID)
		contents = append(contents, Content{ID: it.ProductID, Quantity: it.Quantity, ItemPrice: it.UnitPrice.Round(2).InexactFloat64()})
		n += it.Quantity
		value = value.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return ids, contents, n, value
}

// TrackViewContent reports a product detail view.
func (d *Dispatcher) TrackViewContent(ctx context.Context, v Visitor, item Item) Result {
	if d == nil {
		return Result{Skipped: true}
	}
	return d.track(ctx, EventViewContent, v, CustomData{
		Currency:    d.currency.String(),
		Value:       money(item.UnitPrice),
		ContentType: "product",
		ContentName: item.Name,
		ContentIDs:  []string{item.ProductID},
	})
}

// TrackAddToCart reports a priced line added to a cart.
func (d *Dispatcher) TrackAddToCart(ctx context.Context, v Visitor, item Item) Result {
	if d == nil {
		return Result{Skipped: true}
	}
	ids, contents, n, value := itemsData([]Item{item})
	return d.track(ctx, EventAddToCart, v, CustomData{
		Currency:    d.currency.String(),
		Value:       money(value),
		ContentType: "product",
		ContentName: item.Name,
		ContentIDs:  ids,
		Contents:    contents,
		NumItems:    n,
	})
}

// TrackInitiateCheckout reports a full cart about to be submitted.
func (d *Dispatcher) TrackInitiateCheckout(ctx context.Context, v Visitor, items []Item, total decimal.Decimal) Result {
	if d == nil {
		return Result{Skipped: true}
	}
	ids, contents, n, _ := itemsData(items)
	return d.track(ctx, EventInitiateCheckout, v, CustomData{
		Currency:    d.currency.String(),
		Value:       money(total),
		ContentType: "product",
		ContentIDs:  ids,
		Contents:    contents,
		NumItems:    n,
	})
}

// TrackPurchase reports a created order. Each call is a distinct purchase
// with its own event_id.
func (d *Dispatcher) TrackPurchase(ctx context.Context, v Visitor, orderID string, items []Item, total decimal.Decimal) Result {
	if d == nil {
		return Result{Skipped: true}
	}
	ids, contents, n, _ := itemsData(items)
	return d.track(ctx, EventPurchase, v, CustomData{
		Currency:    d.currency.String(),
		Value:       money(total),
		ContentType: "product",
		ContentIDs:  ids,
		Contents:    contents,
		NumItems:    n,
		OrderID:     orderID,
	})
}

// TrackLead reports a contact intent, such as opening a WhatsApp chat.
func (d *Dispatcher) TrackLead(ctx context.Context, v Visitor, contentName string) Result {
	return d.track(ctx, EventLead, v, CustomData{ContentName: contentName})
}

// TrackSearch reports a menu search.
func (d *Dispatcher) TrackSearch(ctx context.Context, v Visitor, query string, resultIDs []string) Result {
	return d.track(ctx, EventSearch, v, CustomData{
		SearchString: strings.TrimSpace(query),
		ContentIDs:   resultIDs,
	})
}
