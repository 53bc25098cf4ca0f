// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// latest returns the row count of q and the greatest updated_at.
func latest(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// CatalogStats returns the number of live catalog rows of a store (sections,
// products, addon groups, addons) and the newest UpdatedAt among them. Any
// catalog edit changes the result, so it keys the menu ETag.
func CatalogStats(ctx context.Context, db *gorm.DB, storeID string) (count int64, maxUpdatedAt *time.Time, err error) {
	count, maxUpdatedAt, err = latest(db.WithContext(ctx).Model(&domain.Product{}).Where("store_id = ?", storeID))
	if err != nil {
		return 0, nil, err
	}
	bump := func(q *gorm.DB) error {
		n, ts, err := latest(q)
		if err != nil {
			return err
		}
		count += n
		if ts != nil && (maxUpdatedAt == nil || ts.After(*maxUpdatedAt)) {
			maxUpdatedAt = ts
		}
		return nil
	}
	if err = bump(db.WithContext(ctx).Model(&domain.Section{}).Where("store_id = ?", storeID)); err != nil {
		return 0, nil, err
	}
	groups := db.WithContext(ctx).Model(&domain.AddonGroup{}).
		Where("product_id IN (?)", db.Model(&domain.Product{}).Select("id").Where("store_id = ?", storeID))
	if err = bump(groups); err != nil {
		return 0, nil, err
	}
	addons := db.WithContext(ctx).Model(&domain.Addon{}).
		Where("group_id IN (?)", db.Model(&domain.AddonGroup{}).Select("addon_groups.id").
			Joins("JOIN products ON products.id = addon_groups.product_id").Where("products.store_id = ?", storeID))
	if err = bump(addons); err != nil {
		return 0, nil, err
	}
	return count, maxUpdatedAt, nil
}

// OrdersStats returns aggregate metadata for a store's orders: the total
// number of rows and the maximum UpdatedAt among them.
func OrdersStats(ctx context.Context, db *gorm.DB, storeID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Order{}).Where("store_id = ?", storeID))
}
