// Order HTTP handlers.
//
// This file exposes the order lifecycle of a store:
//   - POST /stores/{storeId}/orders               (checkout, Idempotency-Key)
//   - GET  /stores/{storeId}/orders               (list, paginated, ETag support)
//   - GET  /stores/{storeId}/orders/{id}          (detail)
//   - POST /stores/{storeId}/orders/{id}/advance  (next status)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/http/middleware"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/services"
)

//
// DTOs
//

// CheckoutRequest is the JSON payload for turning a cart into an order.
type CheckoutRequest struct {
	// Source is "digital" (menu checkout, default) or "pdv" (point of sale).
	Source        string              `json:"source"         binding:"omitempty,oneof=digital pdv" example:"digital"`
	CustomerName  string              `json:"customer_name"  binding:"max=255"                     example:"Ana"`
	CustomerPhone string              `json:"customer_phone" binding:"max=32"                      example:"+55 11 91234-5678"`
	CustomerEmail string              `json:"customer_email" binding:"omitempty,email"`
	Items         []pricing.Selection `json:"items"          binding:"dive"`
}

// ListOrdersResponse wraps a page of orders and pagination information.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

//
// Handlers
//

// Checkout godoc
// @ID          checkout
// @Summary     Place an order
// @Description Prices the cart and persists the order. Repeating a request with the same Idempotency-Key returns the original order with 200 and Idempotency-Replayed: true.
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       storeId          path    string                    true   "Store ID (UUID)"  format(uuid)
// @Param       Idempotency-Key  header  string                    false  "Replay key"       example(2b0c3f5e-cart-17)
// @Param       body             body    handlers.CheckoutRequest  true   "Cart"
//
// @Success     201  {object} domain.Order
// @Success     200  {object} domain.Order "Replayed"
// @Header      200  {string} Idempotency-Replayed "true"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     422  {object} handlers.ErrorResponse "Empty cart or selection rejected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/orders [post]
func (h *Handlers) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "each item needs product_id and quantity >= 1")
		return
	}

	key, found := middleware.GetIdempotencyKey(c)
	if !found {
		key = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}

	v := visitor(c)
	v.Phone = req.CustomerPhone
	v.Email = req.CustomerEmail

	o, replayed, err := h.orders.Checkout(c.Request.Context(), storeID(c), key, services.CheckoutInput{
		Source:        domain.OrderSource(req.Source),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Items:         req.Items,
	}, v)
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, o)
		return
	}
	ok(c, http.StatusCreated, o)
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders (paginated)
// @Description Returns a page of the store's orders, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Orders
// @Produce     json
//
// @Param       storeId        path    string  true   "Store ID (UUID)"             format(uuid)
// @Param       status         query   string  false  "Status filter"               Enums(received, preparing, ready, delivered)
// @Param       page           query   int     false  "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"              minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.ListOrdersResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	sid := storeID(c)
	page, pageSize := clampPagination(c)

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.IsValid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status")
		return
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.orders.(*services.OrderService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.OrdersStats(ctx, db, sid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"orders:%s:%s:%d:%d:%d:%d"`, sid, status, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.orders.List(ctx, sid, status, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Order{}
	}
	ok(c, http.StatusOK, ListOrdersResponse{Orders: items, Pagination: newPagination(page, pageSize, total)})
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Order detail
// @Tags        Orders
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"  format(uuid)
// @Param       id       path  string  true  "Order ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Order
// @Failure     404  {object} handlers.ErrorResponse "Order not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), storeID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// AdvanceOrder godoc
// @ID          advanceOrder
// @Summary     Move an order to its next status
// @Description received -> preparing -> ready -> delivered. A delivered order cannot advance.
// @Tags        Orders
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"  format(uuid)
// @Param       id       path  string  true  "Order ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Order
// @Failure     404  {object} handlers.ErrorResponse "Order not found"
// @Failure     409  {object} handlers.ErrorResponse "Order already delivered"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/orders/{id}/advance [post]
func (h *Handlers) AdvanceOrder(c *gin.Context) {
	o, err := h.orders.Advance(c.Request.Context(), storeID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}
