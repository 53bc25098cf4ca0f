// Package services – CatalogService
//
// This file implements CatalogService, which serves the public menu of a
// store and lets its owner manage sections, products, addon groups, and
// addons. Every write is scoped to the caller's store; ids from another
// store are reported as ErrNotFound.
//
// Prices are validated and normalized to two decimals before they are
// stored. Menu search runs over an in-memory index that is rebuilt when the
// catalog version (row count plus newest UpdatedAt) changes.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/conversion"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/pricing"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/search"
)

// Menu is the public view of a store.
type Menu struct {
	Store    domain.Store     `json:"store"`
	Sections []domain.Section `json:"sections"`
	Version  string           `json:"-"`
}

// ProductInput carries the writable fields of a product.
type ProductInput struct {
	SectionID     string
	Name          string
	Description   string
	Price         string
	OriginalPrice *string
	IsAvailable   bool
	IsPromotion   bool
	DisplayOrder  int
}

// AddonGroupInput carries the writable fields of an addon group.
type AddonGroupInput struct {
	Name          string
	IsRequired    bool
	MinSelections int
	MaxSelections int
	DisplayOrder  int
}

// AddonInput carries the writable fields of an addon.
type AddonInput struct {
	Name         string
	Price        string
	IsAvailable  bool
	DisplayOrder int
}

type cachedIndex struct {
	version string
	index   search.Index
	byID    map[string]domain.Product
}

// CatalogService provides menu reads and catalog writes.
type CatalogService struct {
	DB         *gorm.DB
	Conversion *conversion.Dispatcher

	// SearchLimit caps search results when the caller passes no limit.
	SearchLimit int

	mu      sync.Mutex
	indexes map[string]cachedIndex // by store id
}

// NewCatalogService constructs a CatalogService. d may be nil.
func NewCatalogService(db *gorm.DB, d *conversion.Dispatcher) *CatalogService {
	return &CatalogService{DB: db, Conversion: d, SearchLimit: 20, indexes: map[string]cachedIndex{}}
}

func catalogSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/CatalogService").Start(ctx, name, trace.WithAttributes(attrs...))
}

//
// Public menu
//

// Version returns the catalog version of a store, suitable as an ETag seed.
func (s *CatalogService) Version(ctx context.Context, storeID string) (string, error) {
	count, max, err := repo.CatalogStats(ctx, s.DB, storeID)
	if err != nil {
		return "", err
	}
	var ts int64
	if max != nil {
		ts = max.UTC().UnixNano()
	}
	return fmt.Sprintf("%d-%d", count, ts), nil
}

// Menu returns the available catalog of the store with the given slug.
func (s *CatalogService) Menu(ctx context.Context, slug string) (*Menu, error) {
	ctx, span := catalogSpan(ctx, "Menu", attribute.String("store.slug", slug))
	defer span.End()

	st, err := s.storeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	version, err := s.Version(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	sections, err := repo.LoadMenu(ctx, s.DB, st.ID)
	if err != nil {
		return nil, err
	}
	return &Menu{Store: *st, Sections: sections, Version: version}, nil
}

// Product returns one available product of the public menu and reports a
// ViewContent event in the background.
func (s *CatalogService) Product(ctx context.Context, slug, productID string, v conversion.Visitor) (*domain.Product, error) {
	ctx, span := catalogSpan(ctx, "Product",
		attribute.String("store.slug", slug),
		attribute.String("product.id", productID),
	)
	defer span.End()

	st, err := s.storeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	p, err := repo.GetProduct(ctx, s.DB, st.ID, productID)
	if err != nil {
		return nil, notFound(err)
	}
	if !p.IsAvailable {
		return nil, ErrNotFound
	}
	p.AddonGroups = availableAddons(p.AddonGroups)

	unit, err := pricing.UnitPrice(*p)
	if err == nil {
		item := conversion.Item{ProductID: p.ID, Name: p.Name, Quantity: 1, UnitPrice: unit}
		background(ctx, func(ctx context.Context) { s.Conversion.TrackViewContent(ctx, v, item) })
	}
	return p, nil
}

// Search ranks the available products of a store against q.
func (s *CatalogService) Search(ctx context.Context, slug, q string, limit int, v conversion.Visitor) ([]domain.Product, error) {
	ctx, span := catalogSpan(ctx, "Search",
		attribute.String("store.slug", slug),
		attribute.Int("limit", limit),
	)
	defer span.End()

	q = strings.TrimSpace(q)
	if q == "" {
		return nil, invalid("query is empty")
	}
	if limit <= 0 {
		limit = s.SearchLimit
	}
	st, err := s.storeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	ci, err := s.index(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	hits := ci.index.TopK(q, limit)
	out := make([]domain.Product, 0, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, ci.byID[h.ID])
		ids = append(ids, h.ID)
	}
	span.SetAttributes(attribute.Int("results", len(out)))

	background(ctx, func(ctx context.Context) { s.Conversion.TrackSearch(ctx, v, q, ids) })
	return out, nil
}

// index returns the search index of a store, rebuilding it when the catalog
// version moved.
func (s *CatalogService) index(ctx context.Context, storeID string) (cachedIndex, error) {
	version, err := s.Version(ctx, storeID)
	if err != nil {
		return cachedIndex{}, err
	}
	s.mu.Lock()
	ci, ok := s.indexes[storeID]
	s.mu.Unlock()
	if ok && ci.version == version {
		return ci, nil
	}

	sections, err := repo.LoadMenu(ctx, s.DB, storeID)
	if err != nil {
		return cachedIndex{}, err
	}
	var docs []search.Document
	byID := map[string]domain.Product{}
	for _, sec := range sections {
		for _, p := range sec.Products {
			p.AddonGroups = nil
			byID[p.ID] = p
			docs = append(docs, search.Document{ID: p.ID, Text: p.Name + " " + p.Description})
		}
	}
	ci = cachedIndex{version: version, index: search.New(docs), byID: byID}

	s.mu.Lock()
	if s.indexes == nil {
		s.indexes = map[string]cachedIndex{}
	}
	s.indexes[storeID] = ci
	s.mu.Unlock()
	return ci, nil
}

//
// Sections
//

// ListSections returns the sections of a store in display order.
func (s *CatalogService) ListSections(ctx context.Context, storeID string) ([]domain.Section, error) {
	ctx, span := catalogSpan(ctx, "ListSections", attribute.String("store.id", storeID))
	defer span.End()

	if err := s.ensureStore(ctx, storeID); err != nil {
		return nil, err
	}
	return repo.ListSections(ctx, s.DB, storeID)
}

// CreateSection adds a section to a store.
func (s *CatalogService) CreateSection(ctx context.Context, storeID, name string, displayOrder int) (*domain.Section, error) {
	ctx, span := catalogSpan(ctx, "CreateSection", attribute.String("store.id", storeID))
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("section name is empty")
	}
	if err := s.ensureStore(ctx, storeID); err != nil {
		return nil, err
	}
	return repo.CreateSection(ctx, s.DB, storeID, name, displayOrder)
}

// UpdateSection renames or reorders a section.
func (s *CatalogService) UpdateSection(ctx context.Context, storeID, id, name string, displayOrder int) (*domain.Section, error) {
	ctx, span := catalogSpan(ctx, "UpdateSection",
		attribute.String("store.id", storeID),
		attribute.String("section.id", id),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("section name is empty")
	}
	if err := repo.UpdateSection(ctx, s.DB, storeID, id, name, displayOrder); err != nil {
		return nil, notFound(err)
	}
	sec, err := repo.GetSection(ctx, s.DB, storeID, id)
	if err != nil {
		return nil, notFound(err)
	}
	return sec, nil
}

// DeleteSection removes a section and its products.
func (s *CatalogService) DeleteSection(ctx context.Context, storeID, id string) error {
	ctx, span := catalogSpan(ctx, "DeleteSection",
		attribute.String("store.id", storeID),
		attribute.String("section.id", id),
	)
	defer span.End()

	return notFound(repo.DeleteSection(ctx, s.DB, storeID, id))
}

//
// Products
//

// ListProducts returns a page of a store's products, optionally within one
// section.
func (s *CatalogService) ListProducts(ctx context.Context, storeID, sectionID string, page, pageSize int) ([]domain.Product, int64, error) {
	ctx, span := catalogSpan(ctx, "ListProducts",
		attribute.String("store.id", storeID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if err := s.ensureStore(ctx, storeID); err != nil {
		return nil, 0, err
	}
	f := repo.ProductFilter{SectionID: sectionID}
	total, err := repo.CountProducts(ctx, s.DB, storeID, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Product{}, 0, nil
	}
	items, err := repo.ListProductsPage(ctx, s.DB, storeID, f, offset, pageSize)
	return items, total, err
}

// CreateProduct adds a product to one of the store's sections.
func (s *CatalogService) CreateProduct(ctx context.Context, storeID string, in ProductInput) (*domain.Product, error) {
	ctx, span := catalogSpan(ctx, "CreateProduct", attribute.String("store.id", storeID))
	defer span.End()

	if err := normalizeProduct(&in); err != nil {
		return nil, err
	}
	if _, err := repo.GetSection(ctx, s.DB, storeID, in.SectionID); err != nil {
		return nil, notFound(err)
	}
	p := &domain.Product{
		StoreID:       storeID,
		SectionID:     in.SectionID,
		Name:          in.Name,
		Description:   in.Description,
		Price:         in.Price,
		OriginalPrice: in.OriginalPrice,
		IsAvailable:   in.IsAvailable,
		IsPromotion:   in.IsPromotion,
		DisplayOrder:  in.DisplayOrder,
	}
	if err := repo.CreateProduct(ctx, s.DB, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProduct replaces the writable fields of a product.
func (s *CatalogService) UpdateProduct(ctx context.Context, storeID, id string, in ProductInput) (*domain.Product, error) {
	ctx, span := catalogSpan(ctx, "UpdateProduct",
		attribute.String("store.id", storeID),
		attribute.String("product.id", id),
	)
	defer span.End()

	if err := normalizeProduct(&in); err != nil {
		return nil, err
	}
	if _, err := repo.GetSection(ctx, s.DB, storeID, in.SectionID); err != nil {
		return nil, notFound(err)
	}
	err := repo.UpdateProduct(ctx, s.DB, storeID, id, map[string]any{
		"section_id":     in.SectionID,
		"name":           in.Name,
		"description":    in.Description,
		"price":          in.Price,
		"original_price": in.OriginalPrice,
		"is_available":   in.IsAvailable,
		"is_promotion":   in.IsPromotion,
		"display_order":  in.DisplayOrder,
	})
	if err != nil {
		return nil, notFound(err)
	}
	p, err := repo.GetProduct(ctx, s.DB, storeID, id)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// DeleteProduct removes a product.
func (s *CatalogService) DeleteProduct(ctx context.Context, storeID, id string) error {
	ctx, span := catalogSpan(ctx, "DeleteProduct",
		attribute.String("store.id", storeID),
		attribute.String("product.id", id),
	)
	defer span.End()

	return notFound(repo.DeleteProduct(ctx, s.DB, storeID, id))
}

//
// Addon groups and addons
//

// ListAddonGroups returns the groups of a product with every addon.
func (s *CatalogService) ListAddonGroups(ctx context.Context, storeID, productID string) ([]domain.AddonGroup, error) {
	ctx, span := catalogSpan(ctx, "ListAddonGroups",
		attribute.String("store.id", storeID),
		attribute.String("product.id", productID),
	)
	defer span.End()

	groups, err := repo.ListAddonGroups(ctx, s.DB, storeID, productID)
	if err != nil {
		return nil, notFound(err)
	}
	return groups, nil
}

// CreateAddonGroup adds a group to a product after checking its bounds.
func (s *CatalogService) CreateAddonGroup(ctx context.Context, storeID, productID string, in AddonGroupInput) (*domain.AddonGroup, error) {
	ctx, span := catalogSpan(ctx, "CreateAddonGroup",
		attribute.String("store.id", storeID),
		attribute.String("product.id", productID),
	)
	defer span.End()

	g := &domain.AddonGroup{
		ProductID:     productID,
		Name:          strings.TrimSpace(in.Name),
		IsRequired:    in.IsRequired,
		MinSelections: in.MinSelections,
		MaxSelections: in.MaxSelections,
		DisplayOrder:  in.DisplayOrder,
	}
	if g.Name == "" {
		return nil, invalid("addon group name is empty")
	}
	if !g.ValidBounds() {
		return nil, invalid("addon group %q: selections must satisfy min <= max, max >= 1, and min >= 1 when required", g.Name)
	}
	if _, err := repo.GetProduct(ctx, s.DB, storeID, productID); err != nil {
		return nil, notFound(err)
	}
	if err := repo.CreateAddonGroup(ctx, s.DB, g); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateAddon adds an option to a group.
func (s *CatalogService) CreateAddon(ctx context.Context, storeID, groupID string, in AddonInput) (*domain.Addon, error) {
	ctx, span := catalogSpan(ctx, "CreateAddon",
		attribute.String("store.id", storeID),
		attribute.String("group.id", groupID),
	)
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("addon name is empty")
	}
	if strings.TrimSpace(in.Price) == "" {
		in.Price = "0"
	}
	price, err := normalizePrice(in.Price)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetAddonGroup(ctx, s.DB, storeID, groupID); err != nil {
		return nil, notFound(err)
	}
	a := &domain.Addon{
		GroupID:      groupID,
		Name:         name,
		Price:        price,
		IsAvailable:  in.IsAvailable,
		DisplayOrder: in.DisplayOrder,
	}
	if err := repo.CreateAddon(ctx, s.DB, a); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateAddonGroup replaces the writable fields of a group.
func (s *CatalogService) UpdateAddonGroup(ctx context.Context, storeID, groupID string, in AddonGroupInput) (*domain.AddonGroup, error) {
	ctx, span := catalogSpan(ctx, "UpdateAddonGroup",
		attribute.String("store.id", storeID),
		attribute.String("group.id", groupID),
	)
	defer span.End()

	g := domain.AddonGroup{
		Name:          strings.TrimSpace(in.Name),
		IsRequired:    in.IsRequired,
		MinSelections: in.MinSelections,
		MaxSelections: in.MaxSelections,
	}
	if g.Name == "" {
		return nil, invalid("addon group name is empty")
	}
	if !g.ValidBounds() {
		return nil, invalid("addon group %q: selections must satisfy min <= max, max >= 1, and min >= 1 when required", g.Name)
	}
	err := repo.UpdateAddonGroup(ctx, s.DB, storeID, groupID, map[string]any{
		"name":           g.Name,
		"is_required":    g.IsRequired,
		"min_selections": g.MinSelections,
		"max_selections": g.MaxSelections,
		"display_order":  in.DisplayOrder,
	})
	if err != nil {
		return nil, notFound(err)
	}
	out, err := repo.GetAddonGroup(ctx, s.DB, storeID, groupID)
	if err != nil {
		return nil, notFound(err)
	}
	return out, nil
}

// DeleteAddonGroup removes a group and its addons.
func (s *CatalogService) DeleteAddonGroup(ctx context.Context, storeID, groupID string) error {
	ctx, span := catalogSpan(ctx, "DeleteAddonGroup",
		attribute.String("store.id", storeID),
		attribute.String("group.id", groupID),
	)
	defer span.End()

	return notFound(repo.DeleteAddonGroup(ctx, s.DB, storeID, groupID))
}

// UpdateAddon replaces the writable fields of an addon. Marking it
// unavailable hides it from the menu and makes pricing reject it.
func (s *CatalogService) UpdateAddon(ctx context.Context, storeID, addonID string, in AddonInput) (*domain.Addon, error) {
	ctx, span := catalogSpan(ctx, "UpdateAddon",
		attribute.String("store.id", storeID),
		attribute.String("addon.id", addonID),
	)
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("addon name is empty")
	}
	if strings.TrimSpace(in.Price) == "" {
		in.Price = "0"
	}
	price, err := normalizePrice(in.Price)
	if err != nil {
		return nil, err
	}
	err = repo.UpdateAddon(ctx, s.DB, storeID, addonID, map[string]any{
		"name":          name,
		"price":         price,
		"is_available":  in.IsAvailable,
		"display_order": in.DisplayOrder,
	})
	if err != nil {
		return nil, notFound(err)
	}
	a, err := repo.GetAddon(ctx, s.DB, storeID, addonID)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// DeleteAddon removes an addon.
func (s *CatalogService) DeleteAddon(ctx context.Context, storeID, addonID string) error {
	ctx, span := catalogSpan(ctx, "DeleteAddon",
		attribute.String("store.id", storeID),
		attribute.String("addon.id", addonID),
	)
	defer span.End()

	return notFound(repo.DeleteAddon(ctx, s.DB, storeID, addonID))
}

//
// Helpers
//

func (s *CatalogService) storeBySlug(ctx context.Context, slug string) (*domain.Store, error) {
	st, err := repo.GetStoreBySlug(ctx, s.DB, strings.TrimSpace(slug))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	return st, nil
}

func (s *CatalogService) ensureStore(ctx context.Context, storeID string) error {
	return ensureStore(ctx, s.DB, storeID)
}

func ensureStore(ctx context.Context, db *gorm.DB, storeID string) error {
	if _, err := repo.GetStore(ctx, db, storeID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrStoreNotFound
		}
		return err
	}
	return nil
}

// notFound maps the repository miss onto ErrNotFound and passes anything
// else through.
func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func normalizePrice(s string) (string, error) {
	d, err := pricing.ParseAmount(s)
	if err != nil {
		return "", err
	}
	return d.StringFixed(pricing.Places), nil
}

func normalizeProduct(in *ProductInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return invalid("product name is empty")
	}
	if strings.TrimSpace(in.SectionID) == "" {
		return invalid("section_id is required")
	}
	price, err := normalizePrice(in.Price)
	if err != nil {
		return err
	}
	in.Price = price
	if in.OriginalPrice != nil {
		if strings.TrimSpace(*in.OriginalPrice) == "" {
			in.OriginalPrice = nil
			return nil
		}
		orig, err := normalizePrice(*in.OriginalPrice)
		if err != nil {
			return err
		}
		in.OriginalPrice = &orig
	}
	return nil
}

func availableAddons(groups []domain.AddonGroup) []domain.AddonGroup {
	for i := range groups {
		kept := groups[i].Addons[:0:0]
		for _, a := range groups[i].Addons {
			if a.IsAvailable {
				kept = append(kept, a)
			}
		}
		groups[i].Addons = kept
	}
	return groups
}

// lineItems converts priced lines for conversion reporting.
func lineItems(lines []pricing.LinePrice) []conversion.Item {
	out := make([]conversion.Item, 0, len(lines))
	for _, l := range lines {
		unit := l.UnitPrice.Add(l.AddonsTotal)
		out = append(out, conversion.Item{ProductID: l.ProductID, Name: l.ProductName, Quantity: l.Quantity, UnitPrice: unit})
	}
	return out
}

// background runs fn detached from the request; tracking must never delay
// or fail the caller.
func background(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	go fn(ctx)
}
