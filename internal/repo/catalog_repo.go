// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the catalog:
// stores, sections, products, addon groups, and addons.
//
// Every read and write is scoped to a store id. A row belonging to another
// store is indistinguishable from a missing row: both yield ErrNotFound, so
// callers never learn about other tenants' data.
//
// Addon groups and addons have no store column of their own; they are
// scoped by joining through their owning product.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist within the
// caller's store. It aliases gorm.ErrRecordNotFound.
var ErrNotFound = gorm.ErrRecordNotFound

// StoreScope restricts a query on a table with a store_id column.
func StoreScope(storeID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("store_id = ?", storeID)
	}
}

// productScope restricts addon_groups to products of one store.
func productScope(storeID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Joins("JOIN products ON products.id = addon_groups.product_id AND products.deleted_at IS NULL").
			Where("products.store_id = ?", storeID)
	}
}

// byDisplayOrder orders preloaded children.
func byDisplayOrder(db *gorm.DB) *gorm.DB { return db.Order("display_order ASC, created_at ASC") }

func availableByDisplayOrder(db *gorm.DB) *gorm.DB {
	return db.Where("is_available = ?", true).Order("display_order ASC, created_at ASC")
}

//
// Stores
//

// CreateStore inserts an active store.
func CreateStore(ctx context.Context, db *gorm.DB, slug, name string) (*domain.Store, error) {
	s := &domain.Store{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      name,
		Status:    domain.StoreActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetStore fetches a store by id.
func GetStore(ctx context.Context, db *gorm.DB, id string) (*domain.Store, error) {
	var s domain.Store
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStoreBySlug fetches an active store by its public slug.
func GetStoreBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Store, error) {
	var s domain.Store
	err := db.WithContext(ctx).
		Where("slug = ? AND status = ?", slug, domain.StoreActive).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

//
// Sections
//

// ListSections returns a store's sections in display order.
func ListSections(ctx context.Context, db *gorm.DB, storeID string) ([]domain.Section, error) {
	var out []domain.Section
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID), byDisplayOrder).
		Find(&out).Error
	return out, err
}

// GetSection fetches one section of a store.
func GetSection(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Section, error) {
	var s domain.Section
	if err := db.WithContext(ctx).Scopes(StoreScope(storeID)).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSection inserts a section for storeID.
func CreateSection(ctx context.Context, db *gorm.DB, storeID, name string, displayOrder int) (*domain.Section, error) {
	s := &domain.Section{
		ID:           uuid.NewString(),
		StoreID:      storeID,
		Name:         name,
		DisplayOrder: displayOrder,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSection changes a section's name and display order.
func UpdateSection(ctx context.Context, db *gorm.DB, storeID, id, name string, displayOrder int) error {
	res := db.WithContext(ctx).
		Model(&domain.Section{}).
		Scopes(StoreScope(storeID)).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "display_order": displayOrder})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSection soft-deletes a section and the products inside it.
func DeleteSection(ctx context.Context, db *gorm.DB, storeID, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Scopes(StoreScope(storeID)).Where("id = ?", id).Delete(&domain.Section{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Scopes(StoreScope(storeID)).Where("section_id = ?", id).Delete(&domain.Product{}).Error
	})
}

//
// Products
//

// ProductFilter narrows ListProductsPage and CountProducts.
type ProductFilter struct {
	SectionID     string // optional
	AvailableOnly bool
}

func (f ProductFilter) apply(db *gorm.DB) *gorm.DB {
	if f.SectionID != "" {
		db = db.Where("section_id = ?", f.SectionID)
	}
	if f.AvailableOnly {
		db = db.Where("is_available = ?", true)
	}
	return db
}

// CountProducts returns the number of products matching f.
func CountProducts(ctx context.Context, db *gorm.DB, storeID string, f ProductFilter) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Product{}).
		Scopes(StoreScope(storeID), f.apply).
		Count(&total).Error
	return total, err
}

// ListProductsPage returns a page of products in display order.
func ListProductsPage(ctx context.Context, db *gorm.DB, storeID string, f ProductFilter, offset, limit int) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID), f.apply, byDisplayOrder).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetProduct fetches a product with its addon groups and addons, all in
// display order.
func GetProduct(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID)).
		Preload("AddonGroups", byDisplayOrder).
		Preload("AddonGroups.Addons", byDisplayOrder).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct inserts p. The caller sets StoreID and checks SectionID.
func CreateProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(p).Error
}

// UpdateProduct applies column updates to a store's product.
func UpdateProduct(ctx context.Context, db *gorm.DB, storeID, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Product{}).
		Scopes(StoreScope(storeID)).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct soft-deletes a store's product.
func DeleteProduct(ctx context.Context, db *gorm.DB, storeID, id string) error {
	res := db.WithContext(ctx).Scopes(StoreScope(storeID)).Where("id = ?", id).Delete(&domain.Product{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

//
// Addon groups and addons
//

// ListAddonGroups returns a product's groups with addons. It returns
// ErrNotFound when the product is not part of storeID.
func ListAddonGroups(ctx context.Context, db *gorm.DB, storeID, productID string) ([]domain.AddonGroup, error) {
	if _, err := GetProduct(ctx, db, storeID, productID); err != nil {
		return nil, err
	}
	var out []domain.AddonGroup
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Preload("Addons", byDisplayOrder).
		Scopes(byDisplayOrder).
		Find(&out).Error
	return out, err
}

// GetAddonGroup fetches a group whose product belongs to storeID.
func GetAddonGroup(ctx context.Context, db *gorm.DB, storeID, groupID string) (*domain.AddonGroup, error) {
	var g domain.AddonGroup
	err := db.WithContext(ctx).
		Select("addon_groups.*").
		Scopes(productScope(storeID)).
		Where("addon_groups.id = ?", groupID).
		First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateAddonGroup inserts g. The caller checks product ownership.
func CreateAddonGroup(ctx context.Context, db *gorm.DB, g *domain.AddonGroup) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("Addons").Create(g).Error
}

// CreateAddon inserts a. The caller checks group ownership.
func CreateAddon(ctx context.Context, db *gorm.DB, a *domain.Addon) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(a).Error
}

// storeGroupIDs selects the ids of live addon groups whose product belongs
// to storeID.
func storeGroupIDs(db *gorm.DB, storeID string) *gorm.DB {
	return db.Model(&domain.AddonGroup{}).Select("addon_groups.id").Scopes(productScope(storeID))
}

// UpdateAddonGroup applies column updates to a group of storeID.
func UpdateAddonGroup(ctx context.Context, db *gorm.DB, storeID, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.AddonGroup{}).
		Where("id = ? AND id IN (?)", id, storeGroupIDs(db, storeID)).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAddonGroup soft-deletes a group of storeID together with its addons.
func DeleteAddonGroup(ctx context.Context, db *gorm.DB, storeID, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND id IN (?)", id, storeGroupIDs(tx, storeID)).Delete(&domain.AddonGroup{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("group_id = ?", id).Delete(&domain.Addon{}).Error
	})
}

// GetAddon fetches an addon whose group belongs to storeID.
func GetAddon(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Addon, error) {
	var a domain.Addon
	err := db.WithContext(ctx).
		Where("id = ? AND group_id IN (?)", id, storeGroupIDs(db, storeID)).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAddon applies column updates to an addon of storeID.
func UpdateAddon(ctx context.Context, db *gorm.DB, storeID, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Addon{}).
		Where("id = ? AND group_id IN (?)", id, storeGroupIDs(db, storeID)).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAddon soft-deletes an addon of storeID.
func DeleteAddon(ctx context.Context, db *gorm.DB, storeID, id string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND group_id IN (?)", id, storeGroupIDs(db, storeID)).
		Delete(&domain.Addon{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

//
// Menu
//

// LoadMenu returns the public menu of a store: sections in order with their
// available products, each carrying available addons.
func LoadMenu(ctx context.Context, db *gorm.DB, storeID string) ([]domain.Section, error) {
	var out []domain.Section
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID), byDisplayOrder).
		Preload("Products", availableByDisplayOrder).
		Preload("Products.AddonGroups", byDisplayOrder).
		Preload("Products.AddonGroups.Addons", availableByDisplayOrder).
		Find(&out).Error
	return out, err
}
