// Package handlers exposes the REST surface of the menu backend.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services, and translate results into HTTP responses,
// including conditional (ETag) responses and the shared error envelope.
package handlers

import (
	"context"
	"math"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-menu-backend/internal/conversion"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/inbound"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/services"
	"github.com/tbourn/go-menu-backend/internal/utils"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

//
// Service contracts (context-aware)
//

// CatalogService serves the public menu and the store's catalog writes.
type CatalogService interface {
	Version(ctx context.Context, storeID string) (string, error)
	Menu(ctx context.Context, slug string) (*services.Menu, error)
	Product(ctx context.Context, slug, productID string, v conversion.Visitor) (*domain.Product, error)
	Search(ctx context.Context, slug, q string, limit int, v conversion.Visitor) ([]domain.Product, error)

	ListSections(ctx context.Context, storeID string) ([]domain.Section, error)
	CreateSection(ctx context.Context, storeID, name string, displayOrder int) (*domain.Section, error)
	UpdateSection(ctx context.Context, storeID, id, name string, displayOrder int) (*domain.Section, error)
	DeleteSection(ctx context.Context, storeID, id string) error

	ListProducts(ctx context.Context, storeID, sectionID string, page, pageSize int) ([]domain.Product, int64, error)
	CreateProduct(ctx context.Context, storeID string, in services.ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, storeID, id string, in services.ProductInput) (*domain.Product, error)
	DeleteProduct(ctx context.Context, storeID, id string) error

	ListAddonGroups(ctx context.Context, storeID, productID string) ([]domain.AddonGroup, error)
	CreateAddonGroup(ctx context.Context, storeID, productID string, in services.AddonGroupInput) (*domain.AddonGroup, error)
	UpdateAddonGroup(ctx context.Context, storeID, groupID string, in services.AddonGroupInput) (*domain.AddonGroup, error)
	DeleteAddonGroup(ctx context.Context, storeID, groupID string) error
	CreateAddon(ctx context.Context, storeID, groupID string, in services.AddonInput) (*domain.Addon, error)
	UpdateAddon(ctx context.Context, storeID, addonID string, in services.AddonInput) (*domain.Addon, error)
	DeleteAddon(ctx context.Context, storeID, addonID string) error
}

// OrderService prices carts, checks them out, and moves orders along.
type OrderService interface {
	Quote(ctx context.Context, slug string, sels []pricing.Selection, stage services.QuoteStage, v conversion.Visitor) (*services.Quote, error)
	Checkout(ctx context.Context, storeID, key string, in services.CheckoutInput, v conversion.Visitor) (*domain.Order, bool, error)
	List(ctx context.Context, storeID string, status domain.OrderStatus, page, pageSize int) ([]domain.Order, int64, error)
	Get(ctx context.Context, storeID, id string) (*domain.Order, error)
	Advance(ctx context.Context, storeID, id string) (*domain.Order, error)
}

// CartService keeps carts between requests and places them as orders.
type CartService interface {
	Create(ctx context.Context, storeID string, source domain.OrderSource) (*services.CartView, error)
	Get(ctx context.Context, storeID, id string) (*services.CartView, error)
	AddLine(ctx context.Context, storeID, id string, sel pricing.Selection, v conversion.Visitor) (*services.CartView, string, error)
	UpdateLine(ctx context.Context, storeID, id, lineID string, qty int) (*services.CartView, error)
	RemoveLine(ctx context.Context, storeID, id, lineID string) (*services.CartView, error)
	Submit(ctx context.Context, storeID, id, key string, in services.SubmitInput, v conversion.Visitor) (*domain.Order, bool, error)
}

// WhatsAppService manages a store's provider session and its webhook.
type WhatsAppService interface {
	Instance(ctx context.Context, storeID string) (*domain.WhatsAppInstance, error)
	Connect(ctx context.Context, storeID string, in services.ConnectInput) (*domain.WhatsAppInstance, error)
	UpdateStatus(ctx context.Context, storeID string, status domain.InstanceStatus, phone string) (*domain.WhatsAppInstance, error)
	SyncStatus(ctx context.Context, storeID string) (*domain.WhatsAppInstance, error)
	ReconfigureWebhook(ctx context.Context, storeID, newURL string) (*domain.WhatsAppInstance, bool, error)
	QRCodePNG(ctx context.Context, storeID string, size int) ([]byte, error)
	Receive(ctx context.Context, storeID string, msg whatsapp.Message) (inbound.Outcome, error)
}

// TrackingService reports standalone conversion events.
type TrackingService interface {
	Lead(ctx context.Context, storeID, contentName string, v conversion.Visitor) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	catalog  CatalogService
	orders   OrderService
	carts    CartService
	whatsapp WhatsAppService
	tracking TrackingService
}

// New constructs a Handlers instance bound to the given services.
// It installs the custom binding validators the request DTOs rely on.
func New(catalog CatalogService, orders OrderService, carts CartService, wa WhatsAppService, tracking TrackingService) *Handlers {
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
	return &Handlers{catalog: catalog, orders: orders, carts: carts, whatsapp: wa, tracking: tracking}
}

//
// DTOs shared by list endpoints
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.QueryInt(c.Query("page"), defaultPage, 1, math.MaxInt32)
	pageSize = utils.QueryInt(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return
}

// visitor collects the tracking context of the request. Identity fields
// (email, phone) are added by handlers that receive them in the body.
func visitor(c *gin.Context) conversion.Visitor {
	v := conversion.Visitor{
		SourceURL: c.Request.Referer(),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if fbp, err := c.Cookie("_fbp"); err == nil {
		v.FBP = fbp
	}
	if fbc, err := c.Cookie("_fbc"); err == nil {
		v.FBC = fbc
	}
	if v.FBC == "" {
		// ad clicks land with fbclid before the pixel sets _fbc
		if id := strings.TrimSpace(c.Query("fbclid")); id != "" {
			v.FBC = "fb.1." + id
		}
	}
	return v
}

// RegisterValidators installs the custom binding tags used by request DTOs:
//
//	money: a non-negative decimal string ("12.90", "12,9", "0").
//
// It is safe to call more than once.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if s == "" {
			return true // presence is the job of "required"
		}
		_, err := pricing.ParseAmount(s)
		return err == nil
	})
}
