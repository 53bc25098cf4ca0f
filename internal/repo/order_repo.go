// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders and
// their line snapshots.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-menu-backend/internal/domain"
)

// ErrStaleStatus is returned when an order's status changed between read and
// write (another actor advanced it first).
var ErrStaleStatus = errors.New("order status changed concurrently")

// CreateOrder inserts an order with its items and addon snapshots in one
// transaction.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(o).Error
	})
}

func itemsByPosition(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }

// GetOrder fetches a store's order with items and addons.
func GetOrder(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID)).
		Preload("Items", itemsByPosition).
		Preload("Items.Addons").
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func statusFilter(status domain.OrderStatus) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if status == "" {
			return db
		}
		return db.Where("status = ?", status)
	}
}

// CountOrders returns how many orders a store has, optionally by status.
func CountOrders(ctx context.Context, db *gorm.DB, storeID string, status domain.OrderStatus) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Scopes(StoreScope(storeID), statusFilter(status)).
		Count(&total).Error
	return total, err
}

// ListOrdersPage returns a page of orders, newest first.
func ListOrdersPage(ctx context.Context, db *gorm.DB, storeID string, status domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Scopes(StoreScope(storeID), statusFilter(status)).
		Preload("Items", itemsByPosition).
		Preload("Items.Addons").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateOrderStatus moves an order from one status to another. The write is
// conditional on the current status so two concurrent advances cannot both
// succeed; the loser gets ErrStaleStatus.
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, storeID, id string, from, to domain.OrderStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Scopes(StoreScope(storeID)).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}
