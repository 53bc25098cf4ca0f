// Public menu HTTP handlers.
//
// This file exposes the read side a shopper sees, resolved by store slug:
//   - GET  /menu/{slug}                       (menu tree, ETag support)
//   - GET  /menu/{slug}/search?q=             (token search)
//   - GET  /menu/{slug}/products/{productId}  (product detail)
//   - POST /menu/{slug}/quote                 (price a cart without persisting)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/services"
	"github.com/tbourn/go-menu-backend/internal/utils"
)

//
// DTOs
//

// SearchResponse wraps the products matching a menu search.
type SearchResponse struct {
	Query    string           `json:"query"`
	Products []domain.Product `json:"products"`
}

// QuoteRequest is the JSON payload for pricing a cart.
type QuoteRequest struct {
	// Items are the cart lines; each needs a product and a quantity >= 1.
	Items []pricing.Selection `json:"items" binding:"required,min=1,dive"`
}

//
// Handlers
//

// GetMenu godoc
// @ID          getMenu
// @Summary     Public menu
// @Description Returns the store with its sections, available products, addon groups and addons. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Menu
// @Produce     json
//
// @Param       slug           path    string  true   "Store slug"                  example(burger-house)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
//
// @Success     200  {object} services.Menu
// @Header      200  {string} ETag "Weak ETag of the catalog version"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /menu/{slug} [get]
func (h *Handlers) GetMenu(c *gin.Context) {
	menu, err := h.catalog.Menu(c.Request.Context(), c.Param("slug"))
	if err != nil {
		failErr(c, err)
		return
	}
	if menu.Version != "" {
		etag := fmt.Sprintf(`W/"menu:%s:%s"`, menu.Store.ID, menu.Version)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}
	ok(c, http.StatusOK, menu)
}

// SearchMenu godoc
// @ID          searchMenu
// @Summary     Search the menu
// @Description Ranks available products by token overlap with q.
// @Tags        Menu
// @Produce     json
//
// @Param       slug   path   string  true   "Store slug"
// @Param       q      query  string  true   "Search terms"  example(x-burger bacon)
// @Param       limit  query  int     false  "Max results"   minimum(1) maximum(50) default(10)
//
// @Success     200  {object} handlers.SearchResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing query"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /menu/{slug}/search [get]
func (h *Handlers) SearchMenu(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q is required")
		return
	}
	limit := utils.QueryInt(c.Query("limit"), 10, 1, 50)

	products, err := h.catalog.Search(c.Request.Context(), c.Param("slug"), q, limit, visitor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Products: products})
}

// GetProduct godoc
// @ID          getMenuProduct
// @Summary     Product detail
// @Description Returns one available product with its addon groups. Reported as a product view.
// @Tags        Menu
// @Produce     json
//
// @Param       slug       path  string  true  "Store slug"
// @Param       productId  path  string  true  "Product ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Product
// @Failure     404  {object} handlers.ErrorResponse "Store or product not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /menu/{slug}/products/{productId} [get]
func (h *Handlers) GetProduct(c *gin.Context) {
	p, err := h.catalog.Product(c.Request.Context(), c.Param("slug"), c.Param("productId"), visitor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// QuoteCart godoc
// @ID          quoteCart
// @Summary     Price a cart
// @Description Prices each line and the cart total without persisting anything. stage=cart is reported as add-to-cart, stage=checkout as checkout start.
// @Tags        Menu
// @Accept      json
// @Produce     json
//
// @Param       slug   path   string                 true   "Store slug"
// @Param       stage  query  string                 false  "Funnel stage"  Enums(cart, checkout) default(cart)
// @Param       body   body   handlers.QuoteRequest  true   "Cart lines"
//
// @Success     200  {object} services.Quote
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     422  {object} handlers.ErrorResponse "Selection rejected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /menu/{slug}/quote [post]
func (h *Handlers) QuoteCart(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "items required (product_id, quantity >= 1)")
		return
	}

	stage := services.StageCart
	switch strings.ToLower(strings.TrimSpace(c.Query("stage"))) {
	case "", string(services.StageCart):
	case string(services.StageCheckout):
		stage = services.StageCheckout
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "stage must be cart or checkout")
		return
	}

	q, err := h.orders.Quote(c.Request.Context(), c.Param("slug"), req.Items, stage, visitor(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}
