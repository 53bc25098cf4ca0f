// Catalog management HTTP handlers.
//
// Every route is scoped to the store in the path:
//   - GET/POST       /stores/{storeId}/sections
//   - PUT/DELETE     /stores/{storeId}/sections/{id}
//   - GET/POST       /stores/{storeId}/products
//   - PUT/DELETE     /stores/{storeId}/products/{id}
//   - GET/POST       /stores/{storeId}/products/{id}/addon-groups
//   - PUT/DELETE     /stores/{storeId}/addon-groups/{groupId}
//   - POST           /stores/{storeId}/addon-groups/{groupId}/addons
//   - PUT/DELETE     /stores/{storeId}/addons/{addonId}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/http/middleware"
	"github.com/tbourn/go-menu-backend/internal/services"
)

//
// DTOs
//

// SectionRequest is the JSON payload for creating or updating a section.
type SectionRequest struct {
	Name         string `json:"name"          binding:"required,min=1,max=255" example:"Burgers"`
	DisplayOrder int    `json:"display_order" binding:"min=0"                  example:"1"`
}

// ProductRequest is the JSON payload for creating or updating a product.
// Prices are decimal strings; a comma decimal separator is accepted.
type ProductRequest struct {
	SectionID     string  `json:"section_id"     binding:"required"               example:"4f1c2a9e-6a55-4d8e-9a41-3c1b8f1c0d11"`
	Name          string  `json:"name"           binding:"required,min=1,max=255" example:"X-Burger"`
	Description   string  `json:"description"    binding:"max=2000"`
	Price         string  `json:"price"          binding:"required,money"         example:"24.90"`
	OriginalPrice *string `json:"original_price" binding:"omitempty,money"        example:"29.90"`
	IsAvailable   *bool   `json:"is_available"`
	IsPromotion   bool    `json:"is_promotion"`
	DisplayOrder  int     `json:"display_order"  binding:"min=0"`
}

func (r ProductRequest) input() services.ProductInput {
	available := true
	if r.IsAvailable != nil {
		available = *r.IsAvailable
	}
	return services.ProductInput{
		SectionID:     strings.TrimSpace(r.SectionID),
		Name:          strings.TrimSpace(r.Name),
		Description:   strings.TrimSpace(r.Description),
		Price:         r.Price,
		OriginalPrice: r.OriginalPrice,
		IsAvailable:   available,
		IsPromotion:   r.IsPromotion,
		DisplayOrder:  r.DisplayOrder,
	}
}

// AddonGroupRequest is the JSON payload for creating or updating an addon
// group.
type AddonGroupRequest struct {
	Name          string `json:"name"           binding:"required,min=1,max=255" example:"Extras"`
	IsRequired    bool   `json:"is_required"`
	MinSelections int    `json:"min_selections" binding:"min=0"                  example:"0"`
	MaxSelections int    `json:"max_selections" binding:"min=0"                  example:"3"`
	DisplayOrder  int    `json:"display_order"  binding:"min=0"`
}

func (r AddonGroupRequest) input() services.AddonGroupInput {
	return services.AddonGroupInput{
		Name:          strings.TrimSpace(r.Name),
		IsRequired:    r.IsRequired,
		MinSelections: r.MinSelections,
		MaxSelections: r.MaxSelections,
		DisplayOrder:  r.DisplayOrder,
	}
}

// AddonRequest is the JSON payload for creating or updating an addon. An
// omitted is_available means available.
type AddonRequest struct {
	Name         string `json:"name"          binding:"required,min=1,max=255" example:"Bacon"`
	Price        string `json:"price"         binding:"omitempty,money"        example:"4.50"`
	IsAvailable  *bool  `json:"is_available"`
	DisplayOrder int    `json:"display_order" binding:"min=0"`
}

func (r AddonRequest) input() services.AddonInput {
	available := true
	if r.IsAvailable != nil {
		available = *r.IsAvailable
	}
	price := strings.TrimSpace(r.Price)
	if price == "" {
		price = "0"
	}
	return services.AddonInput{
		Name:         strings.TrimSpace(r.Name),
		Price:        price,
		IsAvailable:  available,
		DisplayOrder: r.DisplayOrder,
	}
}

// ListProductsResponse wraps a page of products and pagination information.
type ListProductsResponse struct {
	Products   []domain.Product `json:"products"`
	Pagination Pagination       `json:"pagination"`
}

func storeID(c *gin.Context) string {
	if id := middleware.StoreIDFrom(c); id != "" {
		return id
	}
	return c.Param("storeId")
}

//
// Sections
//

// ListSections godoc
// @ID          listSections
// @Summary     List sections
// @Description Returns the store's sections in display order.
// @Tags        Catalog
// @Produce     json
//
// @Param       storeId     path    string  true   "Store ID (UUID)"  format(uuid)
// @Param       X-Store-ID  header  string  false  "Caller store; must match the path"
//
// @Success     200  {array}  domain.Section
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/sections [get]
func (h *Handlers) ListSections(c *gin.Context) {
	items, err := h.catalog.ListSections(c.Request.Context(), storeID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Section{}
	}
	ok(c, http.StatusOK, items)
}

// CreateSection godoc
// @ID          createSection
// @Summary     Create a section
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                   true  "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.SectionRequest  true  "Section"
//
// @Success     201  {object} domain.Section
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/sections [post]
func (h *Handlers) CreateSection(c *gin.Context) {
	var req SectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}
	s, err := h.catalog.CreateSection(c.Request.Context(), storeID(c), strings.TrimSpace(req.Name), req.DisplayOrder)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, s)
}

// UpdateSection godoc
// @ID          updateSection
// @Summary     Rename or reorder a section
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                   true  "Store ID (UUID)"    format(uuid)
// @Param       id       path  string                   true  "Section ID (UUID)"  format(uuid)
// @Param       body     body  handlers.SectionRequest  true  "Section"
//
// @Success     200  {object} domain.Section
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Section not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/sections/{id} [put]
func (h *Handlers) UpdateSection(c *gin.Context) {
	var req SectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}
	s, err := h.catalog.UpdateSection(c.Request.Context(), storeID(c), c.Param("id"), strings.TrimSpace(req.Name), req.DisplayOrder)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// DeleteSection godoc
// @ID          deleteSection
// @Summary     Delete a section
// @Tags        Catalog
//
// @Param       storeId  path  string  true  "Store ID (UUID)"    format(uuid)
// @Param       id       path  string  true  "Section ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Section not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/sections/{id} [delete]
func (h *Handlers) DeleteSection(c *gin.Context) {
	if err := h.catalog.DeleteSection(c.Request.Context(), storeID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

//
// Products
//

// ListProducts godoc
// @ID          listProducts
// @Summary     List products (paginated)
// @Description Returns a page of the store's products, optionally limited to one section.
// @Tags        Catalog
// @Produce     json
//
// @Param       storeId     path   string  true   "Store ID (UUID)"  format(uuid)
// @Param       section_id  query  string  false  "Section filter"   format(uuid)
// @Param       page        query  int     false  "Page number"      minimum(1) default(1)
// @Param       page_size   query  int     false  "Items per page"   minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListProductsResponse
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/products [get]
func (h *Handlers) ListProducts(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.catalog.ListProducts(c.Request.Context(), storeID(c),
		strings.TrimSpace(c.Query("section_id")), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Product{}
	}
	ok(c, http.StatusOK, ListProductsResponse{Products: items, Pagination: newPagination(page, pageSize, total)})
}

// CreateProduct godoc
// @ID          createProduct
// @Summary     Create a product
// @Description Creates a product in one of the store's sections. is_available defaults to true.
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                   true  "Store ID (UUID)"  format(uuid)
// @Param       body     body  handlers.ProductRequest  true  "Product"
//
// @Success     201  {object} domain.Product
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Store or section not found"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/products [post]
func (h *Handlers) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid product: "+err.Error())
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), storeID(c), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// UpdateProduct godoc
// @ID          updateProduct
// @Summary     Replace a product
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                   true  "Store ID (UUID)"    format(uuid)
// @Param       id       path  string                   true  "Product ID (UUID)"  format(uuid)
// @Param       body     body  handlers.ProductRequest  true  "Product"
//
// @Success     200  {object} domain.Product
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Product not found"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/products/{id} [put]
func (h *Handlers) UpdateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid product: "+err.Error())
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), storeID(c), c.Param("id"), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteProduct godoc
// @ID          deleteProduct
// @Summary     Delete a product
// @Tags        Catalog
//
// @Param       storeId  path  string  true  "Store ID (UUID)"    format(uuid)
// @Param       id       path  string  true  "Product ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Product not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/products/{id} [delete]
func (h *Handlers) DeleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), storeID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

//
// Addons
//

// ListAddonGroups godoc
// @ID          listAddonGroups
// @Summary     List a product's addon groups
// @Tags        Catalog
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"    format(uuid)
// @Param       id       path  string  true  "Product ID (UUID)"  format(uuid)
//
// @Success     200  {array}  domain.AddonGroup
// @Failure     404  {object} handlers.ErrorResponse "Product not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/products/{id}/addon-groups [get]
func (h *Handlers) ListAddonGroups(c *gin.Context) {
	items, err := h.catalog.ListAddonGroups(c.Request.Context(), storeID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.AddonGroup{}
	}
	ok(c, http.StatusOK, items)
}

// CreateAddonGroup godoc
// @ID          createAddonGroup
// @Summary     Create an addon group
// @Description A required group needs min_selections >= 1; max_selections must not be below min_selections.
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                      true  "Store ID (UUID)"    format(uuid)
// @Param       id       path  string                      true  "Product ID (UUID)"  format(uuid)
// @Param       body     body  handlers.AddonGroupRequest  true  "Addon group"
//
// @Success     201  {object} domain.AddonGroup
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Product not found"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/products/{id}/addon-groups [post]
func (h *Handlers) CreateAddonGroup(c *gin.Context) {
	var req AddonGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid addon group: "+err.Error())
		return
	}
	g, err := h.catalog.CreateAddonGroup(c.Request.Context(), storeID(c), c.Param("id"), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, g)
}

// CreateAddon godoc
// @ID          createAddon
// @Summary     Create an addon
// @Description Adds a priced option to an addon group. An empty price means free.
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                 true  "Store ID (UUID)"        format(uuid)
// @Param       groupId  path  string                 true  "Addon group ID (UUID)"  format(uuid)
// @Param       body     body  handlers.AddonRequest  true  "Addon"
//
// @Success     201  {object} domain.Addon
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Addon group not found"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/addon-groups/{groupId}/addons [post]
func (h *Handlers) CreateAddon(c *gin.Context) {
	var req AddonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid addon: "+err.Error())
		return
	}
	a, err := h.catalog.CreateAddon(c.Request.Context(), storeID(c), c.Param("groupId"), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// UpdateAddonGroup godoc
// @ID          updateAddonGroup
// @Summary     Update an addon group
// @Description Replaces name, bounds and order. The same bound rules as on create apply.
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                      true  "Store ID (UUID)"        format(uuid)
// @Param       groupId  path  string                      true  "Addon group ID (UUID)"  format(uuid)
// @Param       body     body  handlers.AddonGroupRequest  true  "Addon group"
//
// @Success     200  {object} domain.AddonGroup
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Addon group not found"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/addon-groups/{groupId} [put]
func (h *Handlers) UpdateAddonGroup(c *gin.Context) {
	var req AddonGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid addon group: "+err.Error())
		return
	}
	g, err := h.catalog.UpdateAddonGroup(c.Request.Context(), storeID(c), c.Param("groupId"), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// DeleteAddonGroup godoc
// @ID          deleteAddonGroup
// @Summary     Delete an addon group and its addons
// @Tags        Catalog
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"        format(uuid)
// @Param       groupId  path  string  true  "Addon group ID (UUID)"  format(uuid)
//
// @Success     204  "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Addon group not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/addon-groups/{groupId} [delete]
func (h *Handlers) DeleteAddonGroup(c *gin.Context) {
	if err := h.catalog.DeleteAddonGroup(c.Request.Context(), storeID(c), c.Param("groupId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UpdateAddon godoc
// @ID          updateAddon
// @Summary     Update an addon
// @Description Replaces name, price, availability and order. An unavailable addon disappears from the menu and is rejected when priced.
// @Tags        Catalog
// @Accept      json
// @Produce     json
//
// @Param       storeId  path  string                 true  "Store ID (UUID)"  format(uuid)
// @Param       addonId  path  string                 true  "Addon ID (UUID)"  format(uuid)
// @Param       body     body  handlers.AddonRequest  true  "Addon"
//
// @Success     200  {object} domain.Addon
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Addon not found"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/addons/{addonId} [put]
func (h *Handlers) UpdateAddon(c *gin.Context) {
	var req AddonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid addon: "+err.Error())
		return
	}
	a, err := h.catalog.UpdateAddon(c.Request.Context(), storeID(c), c.Param("addonId"), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteAddon godoc
// @ID          deleteAddon
// @Summary     Delete an addon
// @Tags        Catalog
// @Produce     json
//
// @Param       storeId  path  string  true  "Store ID (UUID)"  format(uuid)
// @Param       addonId  path  string  true  "Addon ID (UUID)"  format(uuid)
//
// @Success     204  "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Addon not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stores/{storeId}/addons/{addonId} [delete]
func (h *Handlers) DeleteAddon(c *gin.Context) {
	if err := h.catalog.DeleteAddon(c.Request.Context(), storeID(c), c.Param("addonId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
