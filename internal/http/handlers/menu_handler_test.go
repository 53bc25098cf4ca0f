package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/services"
)

func newMenuRouter(t *testing.T) (*Handlers, catalogFixture, http.Handler) {
	t.Helper()
	db := newHandlerDB(t)
	f := seedCatalog(t, db, "burger-house")
	h := New(services.NewCatalogService(db, nil), services.NewOrderService(db, nil, 0), nil, nil, nil)

	r := newTestEngine()
	r.GET("/menu/:slug", h.GetMenu)
	r.GET("/menu/:slug/search", h.SearchMenu)
	r.GET("/menu/:slug/products/:productId", h.GetProduct)
	r.POST("/menu/:slug/quote", h.QuoteCart)
	return h, f, r
}

func TestGetMenu_ETagAndNotModified(t *testing.T) {
	_, f, r := newMenuRouter(t)

	w := doJSON(t, r, http.MethodGet, "/menu/burger-house", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var menu services.Menu
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &menu))
	assert.Equal(t, f.store.ID, menu.Store.ID)
	require.Len(t, menu.Sections, 1)
	assert.Len(t, menu.Sections[0].Products, 2)

	w = doJSON(t, r, http.MethodGet, "/menu/burger-house", nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Zero(t, w.Body.Len())

	w = doJSON(t, r, http.MethodGet, "/menu/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Code)
}

func TestSearchMenu(t *testing.T) {
	_, f, r := newMenuRouter(t)

	w := doJSON(t, r, http.MethodGet, "/menu/burger-house/search", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/menu/burger-house/search?q=batata", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Products)
	assert.Equal(t, f.fries.ID, resp.Products[0].ID)
}

func TestGetProduct(t *testing.T) {
	_, f, r := newMenuRouter(t)

	w := doJSON(t, r, http.MethodGet, "/menu/burger-house/products/"+f.burger.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), f.sauce.ID)

	w = doJSON(t, r, http.MethodGet, "/menu/burger-house/products/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuoteCart(t *testing.T) {
	_, f, r := newMenuRouter(t)

	t.Run("prices lines and total", func(t *testing.T) {
		body := QuoteRequest{Items: []pricing.Selection{
			{ProductID: f.fries.ID, Quantity: 2},
			{ProductID: f.burger.ID, Quantity: 1, Addons: map[string][]string{f.sauce.ID: {f.mayo.ID}}},
		}}
		w := doJSON(t, r, http.MethodPost, "/menu/burger-house/quote?stage=checkout", body, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var q services.Quote
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
		require.Len(t, q.Lines, 2)
		// 2 x 12.90 + (24.90 + 1.50)
		assert.True(t, q.Total.Equal(decimal.RequireFromString("52.20")), "total = %s", q.Total)
	})

	t.Run("missing required addon", func(t *testing.T) {
		body := QuoteRequest{Items: []pricing.Selection{{ProductID: f.burger.ID, Quantity: 1}}}
		w := doJSON(t, r, http.MethodPost, "/menu/burger-house/quote", body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

		er := decodeError(t, w)
		assert.Equal(t, ErrCodeSelectionConstraint, er.Code)
		details, ok := er.Details.(map[string]any)
		require.True(t, ok, "details = %#v", er.Details)
		assert.Equal(t, f.sauce.ID, details["group_id"])
		assert.Equal(t, "min", details["bound"])
	})

	t.Run("unknown addon", func(t *testing.T) {
		body := QuoteRequest{Items: []pricing.Selection{
			{ProductID: f.burger.ID, Quantity: 1, Addons: map[string][]string{f.sauce.ID: {"ghost"}}},
		}}
		w := doJSON(t, r, http.MethodPost, "/menu/burger-house/quote", body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		assert.Equal(t, ErrCodeInvalidAddon, decodeError(t, w).Code)
	})

	t.Run("zero quantity is a bad request", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/menu/burger-house/quote",
			`{"items":[{"product_id":"`+f.fries.ID+`","quantity":0}]}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown stage", func(t *testing.T) {
		body := QuoteRequest{Items: []pricing.Selection{{ProductID: f.fries.ID, Quantity: 1}}}
		w := doJSON(t, r, http.MethodPost, "/menu/burger-house/quote?stage=later", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
