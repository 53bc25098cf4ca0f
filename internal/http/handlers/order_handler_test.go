package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/http/middleware"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/services"
)

func newOrderRouter(t *testing.T) (catalogFixture, http.Handler) {
	t.Helper()
	db := newHandlerDB(t)
	f := seedCatalog(t, db, "order-house")
	h := New(services.NewCatalogService(db, nil), services.NewOrderService(db, nil, 0), nil, nil, nil)

	r := newTestEngine()
	r.POST("/stores/:storeId/orders", h.Checkout)
	r.GET("/stores/:storeId/orders", h.ListOrders)
	r.GET("/stores/:storeId/orders/:id", h.GetOrder)
	r.POST("/stores/:storeId/orders/:id/advance", h.AdvanceOrder)
	return f, r
}

func TestCheckout_CreatesThenReplays(t *testing.T) {
	f, r := newOrderRouter(t)
	path := "/stores/" + f.store.ID + "/orders"
	body := CheckoutRequest{
		CustomerName:  "Ana",
		CustomerPhone: "+55 11 91234-5678",
		Items:         []pricing.Selection{{ProductID: f.fries.ID, Quantity: 3}},
	}
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "cart-42"}

	w := doJSON(t, r, http.MethodPost, path, body, hdr)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get(middleware.HeaderIdempotencyReplayed))
	var first domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, domain.OrderReceived, first.Status)
	assert.Equal(t, domain.SourceDigital, first.Source)
	require.Len(t, first.Items, 1)

	w = doJSON(t, r, http.MethodPost, path, body, hdr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(middleware.HeaderIdempotencyReplayed))
	var again domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, first.ID, again.ID)

	// without a key every checkout is a new order
	w = doJSON(t, r, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestCheckout_Rejections(t *testing.T) {
	f, r := newOrderRouter(t)
	path := "/stores/" + f.store.ID + "/orders"

	for _, body := range []string{`{"items":[]}`, `{"customer_name":"Ana"}`} {
		w := doJSON(t, r, http.MethodPost, path, body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, body)
		assert.Equal(t, ErrCodeEmptyCart, decodeError(t, w).Code, body)
	}

	w := doJSON(t, r, http.MethodPost, path, `{"items":[{"product_id":"x","quantity":0}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, path, CheckoutRequest{
		Source: "kiosk",
		Items:  []pricing.Selection{{ProductID: f.fries.ID, Quantity: 1}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, path, CheckoutRequest{
		Items: []pricing.Selection{{ProductID: "no-such-product", Quantity: 1}},
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, ErrCodeValidation, decodeError(t, w).Code)

	w = doJSON(t, r, http.MethodPost, "/stores/unknown-store/orders", CheckoutRequest{
		Items: []pricing.Selection{{ProductID: f.fries.ID, Quantity: 1}},
	}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrders_ETagAndFilter(t *testing.T) {
	f, r := newOrderRouter(t)
	path := "/stores/" + f.store.ID + "/orders"
	w := doJSON(t, r, http.MethodPost, path, CheckoutRequest{
		Items: []pricing.Selection{{ProductID: f.fries.ID, Quantity: 1}},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, path+"?page_size=500", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var resp ListOrdersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Orders, 1)
	assert.Equal(t, 100, resp.Pagination.PageSize)
	assert.Equal(t, int64(1), resp.Pagination.Total)
	assert.False(t, resp.Pagination.HasNext)

	w = doJSON(t, r, http.MethodGet, path+"?page_size=500", nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = doJSON(t, r, http.MethodGet, path+"?status=ready", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Orders)

	w = doJSON(t, r, http.MethodGet, path+"?status=cooking", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdvanceOrder_UntilTerminal(t *testing.T) {
	f, r := newOrderRouter(t)
	path := "/stores/" + f.store.ID + "/orders"
	w := doJSON(t, r, http.MethodPost, path, CheckoutRequest{
		Source: "pdv",
		Items:  []pricing.Selection{{ProductID: f.fries.ID, Quantity: 1}},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))

	for _, want := range []domain.OrderStatus{domain.OrderPreparing, domain.OrderReady, domain.OrderDelivered} {
		w = doJSON(t, r, http.MethodPost, path+"/"+o.ID+"/advance", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got domain.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, want, got.Status)
	}

	w = doJSON(t, r, http.MethodPost, path+"/"+o.ID+"/advance", nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeTerminalState, decodeError(t, w).Code)

	w = doJSON(t, r, http.MethodGet, path+"/"+o.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, path+"/missing/advance", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
