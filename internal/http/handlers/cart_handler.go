// Cart HTTP handlers.
//
// This file exposes server-kept carts of a store:
//   - POST   /stores/{storeId}/carts                          (open)
//   - GET    /stores/{storeId}/carts/{cartId}                 (priced view)
//   - POST   /stores/{storeId}/carts/{cartId}/lines           (add line)
//   - PATCH  /stores/{storeId}/carts/{cartId}/lines/{lineId}  (set quantity, 0 removes)
//   - DELETE /stores/{storeId}/carts/{cartId}/lines/{lineId}  (remove line)
//   - POST   /stores/{storeId}/carts/{cartId}/submit          (place order, Idempotency-Key)
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/http/middleware"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/services"
)

//
// DTOs
//

// CreateCartRequest is the optional JSON payload for opening a cart.
type CreateCartRequest struct {
	Source string `json:"source" binding:"omitempty,oneof=digital pdv" example:"pdv"`
}

// UpdateCartLineRequest sets the quantity of a line.
type UpdateCartLineRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=0" example:"2"`
}

// AddCartLineResponse is the cart after an add, with the new line's id.
type AddCartLineResponse struct {
	LineID string             `json:"line_id"`
	Cart   *services.CartView `json:"cart"`
}

// SubmitCartRequest carries the customer details given at submit.
type SubmitCartRequest struct {
	CustomerName  string `json:"customer_name"  binding:"max=255"         example:"Ana"`
	CustomerPhone string `json:"customer_phone" binding:"max=32"          example:"+55 11 91234-5678"`
	CustomerEmail string `json:"customer_email" binding:"omitempty,email"`
}

//
// Handlers
//

// CreateCart godoc
// @ID          createCart
// @Summary     Open a cart
// @Tags        Carts
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                      true   "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.CreateCartRequest  false  "Cart source"
//
// @Success     201  {object} services.CartView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/carts [post]
func (h *Handlers) CreateCart(c *gin.Context) {
	var req CreateCartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "source must be digital or pdv")
		return
	}
	cv, err := h.carts.Create(c.Request.Context(), storeID(c), domain.OrderSource(req.Source))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, cv)
}

// GetCart godoc
// @ID          getCart
// @Summary     Cart with current prices
// @Description Lines are repriced from the live catalog on every read.
// @Tags        Carts
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"  format(uuid)
// @Param       cartId   path  string  true  "Cart ID (UUID)"   format(uuid)
//
// @Success     200  {object} services.CartView
// @Failure     404  {object} handlers.ErrorResponse "Cart not found"
// @Failure     422  {object} handlers.ErrorResponse "A line no longer prices"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/carts/{cartId} [get]
func (h *Handlers) GetCart(c *gin.Context) {
	cv, err := h.carts.Get(c.Request.Context(), storeID(c), c.Param("cartId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cv)
}

// AddCartLine godoc
// @ID          addCartLine
// @Summary     Add a line to a cart
// @Tags        Carts
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string             true  "Store ID (UUID)"  format(uuid)
// @Param       cartId   path  string             true  "Cart ID (UUID)"   format(uuid)
// @Param       body     body  pricing.Selection  true  "Selection"
//
// @Success     201  {object} handlers.AddCartLineResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Cart not found"
// @Failure     409  {object} handlers.ErrorResponse "Cart changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Selection rejected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/carts/{cartId}/lines [post]
func (h *Handlers) AddCartLine(c *gin.Context) {
	var sel pricing.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_id and quantity >= 1 required")
		return
	}
	cv, lineID, err := h.carts.AddLine(c.Request.Context(), storeID(c), c.Param("cartId"), sel, visitor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, AddCartLineResponse{LineID: lineID, Cart: cv})
}

// UpdateCartLine godoc
// @ID          updateCartLine
// @Summary     Set a line's quantity
// @Description A quantity of 0 removes the line.
// @Tags        Carts
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                          true  "Store ID (UUID)"  format(uuid)
// @Param       cartId   path  string                          true  "Cart ID (UUID)"   format(uuid)
// @Param       lineId   path  string                          true  "Line ID (UUID)"   format(uuid)
// @Param       body     body  handlers.UpdateCartLineRequest  true  "Quantity"
//
// @Success     200  {object} services.CartView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Cart or line not found"
// @Failure     409  {object} handlers.ErrorResponse "Cart changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Selection rejected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/carts/{cartId}/lines/{lineId} [patch]
func (h *Handlers) UpdateCartLine(c *gin.Context) {
	var req UpdateCartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quantity >= 0 required")
		return
	}
	cv, err := h.carts.UpdateLine(c.Request.Context(), storeID(c), c.Param("cartId"), c.Param("lineId"), *req.Quantity)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cv)
}

// RemoveCartLine godoc
// @ID          removeCartLine
// @Summary     Remove a line
// @Tags        Carts
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"  format(uuid)
// @Param       cartId   path  string  true  "Cart ID (UUID)"   format(uuid)
// @Param       lineId   path  string  true  "Line ID (UUID)"   format(uuid)
//
// @Success     200  {object} services.CartView
// @Failure     404  {object} handlers.ErrorResponse "Cart or line not found"
// @Failure     409  {object} handlers.ErrorResponse "Cart changed concurrently"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/carts/{cartId}/lines/{lineId} [delete]
func (h *Handlers) RemoveCartLine(c *gin.Context) {
	cv, err := h.carts.RemoveLine(c.Request.Context(), storeID(c), c.Param("cartId"), c.Param("lineId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cv)
}

// SubmitCart godoc
// @ID          submitCart
// @Summary     Place the cart as an order
// @Description Freezes the cart into an order and removes it. Repeating a request with the same Idempotency-Key returns the original order with 200 and Idempotency-Replayed: true.
// @Tags        Carts
// @Accept      json
// @Produce     json
//
// @Param       storeId          path    string                      true   "Store ID (UUID)"  format(uuid)
// @Param       cartId           path    string                      true   "Cart ID (UUID)"   format(uuid)
// @Param       Idempotency-Key  header  string                      false  "Replay key"
// @Param       body             body    handlers.SubmitCartRequest  false  "Customer"
//
// @Success     201  {object} domain.Order
// @Success     200  {object} domain.Order "Replayed"
// @Header      200  {string} Idempotency-Replayed "true"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Cart not found"
// @Failure     409  {object} handlers.ErrorResponse "Cart changed concurrently"
// @Failure     422  {object} handlers.ErrorResponse "Empty cart or selection rejected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/carts/{cartId}/submit [post]
func (h *Handlers) SubmitCart(c *gin.Context) {
	var req SubmitCartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid customer details")
		return
	}

	key, found := middleware.GetIdempotencyKey(c)
	if !found {
		key = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}

	v := visitor(c)
	v.Phone = req.CustomerPhone
	v.Email = req.CustomerEmail

	o, replayed, err := h.carts.Submit(c.Request.Context(), storeID(c), c.Param("cartId"), key, services.SubmitInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
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

// bindOptionalJSON binds the body into obj; an empty body leaves obj as is.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
